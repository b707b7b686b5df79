package avro

import (
	"errors"
	"testing"

	"github.com/hamba/avro/v2"
)

func TestNormalizeSchemaJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "simple object",
			input:    `{"name":"test","type":"record"}`,
			expected: `{"name":"test","type":"record"}`,
		},
		{
			name:     "different key order",
			input:    `{"type":"record","name":"test"}`,
			expected: `{"name":"test","type":"record"}`,
		},
		{
			name:     "fields sorted by name",
			input:    `{"name":"t","type":"record","fields":[{"name":"b","type":"long"},{"name":"a","type":"string"}]}`,
			expected: `{"fields":[{"name":"a","type":"string"},{"name":"b","type":"long"}],"name":"t","type":"record"}`,
		},
		{
			name:     "union sorted",
			input:    `{"name":"f","type":["string","null"]}`,
			expected: `{"name":"f","type":["null","string"]}`,
		},
		{
			name:    "invalid JSON",
			input:   `{"name":"test",}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := normalizeSchemaJSON(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Normalized result doesn't match.\nExpected: %s\nGot: %s", tt.expected, result)
			}
		})
	}
}

func TestEquivalentSchemas(t *testing.T) {
	a := `{"name":"User","type":"record","fields":[{"name":"id","type":"int"},{"name":"n","type":"string"}]}`
	b := `{"type":"record","fields":[{"name":"n","type":"string"},{"name":"id","type":"int"}],"name":"User"}`

	same, err := equivalentSchemas(a, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !same {
		t.Errorf("Expected reordered schemas to be equivalent")
	}
}

func TestTopicSchemasParse(t *testing.T) {
	for topic, s := range TopicSchemas {
		if _, err := avro.Parse(s); err != nil {
			t.Errorf("Schema for %s does not parse: %v", topic, err)
		}
	}
}

func TestCodecRoundTripWithCachedSchema(t *testing.T) {
	parsed := avro.MustParse(TopicSchemas["dau"])

	c := NewCodec(nil)
	c.bySubject.Store(Subject("dau"), schemaEntry{id: 7, schema: parsed})
	c.byID.Store(7, parsed)

	payload, err := c.Marshal("dau", map[string]any{
		"dau_time":  int64(1700000000000),
		"device_id": "dev-1",
		"sessionId": "s-1",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if payload[0] != magicByte || payload[4] != 7 {
		t.Errorf("Unexpected wire header: %v", payload[:wireHeaderSize])
	}

	obj, err := c.Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if obj["device_id"] != "dev-1" {
		t.Errorf("Unexpected device_id: %v", obj["device_id"])
	}
	if obj["dau_time"] != int64(1700000000000) {
		t.Errorf("Unexpected dau_time: %v (%T)", obj["dau_time"], obj["dau_time"])
	}
}

func TestUnmarshalRejectsBadWireFormat(t *testing.T) {
	c := NewCodec(nil)
	for _, p := range [][]byte{nil, {1, 0, 0, 0, 1}, {0, 0, 0}} {
		if _, err := c.Unmarshal(p); !errors.Is(err, ErrWireFormat) {
			t.Errorf("Expected ErrWireFormat for %v, got %v", p, err)
		}
	}
}

func TestJoinWireRange(t *testing.T) {
	if _, err := joinWire(-1, nil); err == nil {
		t.Errorf("Expected error for negative schema ID")
	}
	out, err := joinWire(258, []byte{9})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	id, body, err := splitWire(out)
	if err != nil || id != 258 || len(body) != 1 || body[0] != 9 {
		t.Errorf("splitWire mismatch: id=%d body=%v err=%v", id, body, err)
	}
}
