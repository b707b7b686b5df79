package avro

// TopicSchemas holds the value schemas of the structured benchmark topics.
var TopicSchemas = map[string]string{
	"click": `{
  "type": "record",
  "name": "Click",
  "namespace": "streambench",
  "fields": [
    {"name": "click_time", "type": "long"},
    {"name": "strategy", "type": "string"},
    {"name": "site", "type": "string"},
    {"name": "pos_id", "type": "string"},
    {"name": "poi_id", "type": "string"},
    {"name": "device_id", "type": "string"},
    {"name": "sessionId", "type": "string"}
  ]
}`,
	"imp": `{
  "type": "record",
  "name": "Impression",
  "namespace": "streambench",
  "fields": [
    {"name": "imp_time", "type": "long"},
    {"name": "strategy", "type": "string"},
    {"name": "site", "type": "string"},
    {"name": "pos_id", "type": "string"},
    {"name": "poi_id", "type": "string"},
    {"name": "cost", "type": "double"},
    {"name": "device_id", "type": "string"},
    {"name": "sessionId", "type": "string"}
  ]
}`,
	"dau": `{
  "type": "record",
  "name": "Dau",
  "namespace": "streambench",
  "fields": [
    {"name": "dau_time", "type": "long"},
    {"name": "device_id", "type": "string"},
    {"name": "sessionId", "type": "string"}
  ]
}`,
}
