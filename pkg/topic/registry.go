// Package topic maps benchmark topic names to their schema, decoder and
// watermark tracker.
package topic

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tianqiongenze/StreamingBench/pkg/record"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/watermark"
)

// ErrUnknownTopic is returned for a configured topic with no registered
// decoder.
var ErrUnknownTopic = errors.New("no such topic")

// Spec describes one topic. Structured topics carry key/value payloads and
// accept a custom Unmarshaler; delimited topics ignore it.
type Spec struct {
	Name       string
	Schema     schema.TableSchema
	Structured bool
	newDecoder func(u record.Unmarshaler) record.Decoder
}

// Binding is the per-pipeline decoder and tracker pair. Tracker is nil in
// processing-time mode.
type Binding struct {
	Decoder record.Decoder
	Tracker *watermark.Tracker
}

// Bind creates fresh instances for one pipeline; they are never shared.
func (s Spec) Bind(mode schema.TimeMode, u record.Unmarshaler) Binding {
	b := Binding{Decoder: s.newDecoder(u)}
	if mode == schema.EventTime {
		b.Tracker = watermark.NewTracker()
	}
	return b
}

var registry = map[string]Spec{
	record.TopicShopping: {
		Name: record.TopicShopping,
		Schema: schema.NewTableSchema(
			"user_id", schema.StringType,
			"item_id", schema.StringType,
			"shopping_time", schema.Int64Type,
		),
		newDecoder: func(record.Unmarshaler) record.Decoder { return record.NewShoppingDecoder() },
	},
	record.TopicClick: {
		Name: record.TopicClick,
		Schema: schema.NewTableSchema(
			"click_time", schema.Int64Type,
			"strategy", schema.StringType,
			"site", schema.StringType,
			"pos_id", schema.StringType,
			"poi_id", schema.StringType,
			"device_id", schema.StringType,
			"sessionId", schema.StringType,
		),
		Structured: true,
		newDecoder: record.NewClickDecoder,
	},
	record.TopicImpression: {
		Name: record.TopicImpression,
		Schema: schema.NewTableSchema(
			"imp_time", schema.Int64Type,
			"strategy", schema.StringType,
			"site", schema.StringType,
			"pos_id", schema.StringType,
			"poi_id", schema.StringType,
			"cost", schema.Float64Type,
			"device_id", schema.StringType,
			"sessionId", schema.StringType,
		),
		Structured: true,
		newDecoder: record.NewImpressionDecoder,
	},
	record.TopicDau: {
		Name: record.TopicDau,
		Schema: schema.NewTableSchema(
			"dau_time", schema.Int64Type,
			"device_id", schema.StringType,
			"sessionId", schema.StringType,
		),
		Structured: true,
		newDecoder: record.NewDauDecoder,
	},
	record.TopicUserVisit: {
		Name: record.TopicUserVisit,
		Schema: schema.NewTableSchema(
			"ip", schema.StringType,
			"session_id", schema.Int64Type,
			"url", schema.StringType,
			"duration", schema.Int64Type,
			"visit_time", schema.Int64Type,
			"user_agent", schema.StringType,
			"country", schema.StringType,
			"language", schema.StringType,
			"search_word", schema.StringType,
			"device", schema.StringType,
			"os", schema.StringType,
			"browser", schema.StringType,
			"visit_count", schema.Int32Type,
		),
		newDecoder: func(record.Unmarshaler) record.Decoder { return record.NewUserVisitDecoder() },
	},
}

// Lookup resolves a topic name.
func Lookup(name string) (Spec, error) {
	s, ok := registry[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	return s, nil
}

// Names lists the registered topics in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve parses a comma separated topic list and checks every name. An
// empty list means every registered topic.
func Resolve(csv string) ([]string, error) {
	names := ParseList(csv)
	if len(names) == 0 {
		return Names(), nil
	}
	for _, n := range names {
		if _, err := Lookup(n); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// ParseList splits a comma separated topic list, dropping blanks.
func ParseList(csv string) []string {
	var out []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
