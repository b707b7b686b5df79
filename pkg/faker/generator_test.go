package faker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/kafka"
	"github.com/tianqiongenze/StreamingBench/pkg/record"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
	"github.com/tianqiongenze/StreamingBench/pkg/topic"
)

func fixedGenerator(jitter time.Duration) *Generator {
	g := NewGenerator(42, jitter)
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return g
}

func TestPayloadsDecode(t *testing.T) {
	g := fixedGenerator(2 * time.Second)

	for _, name := range topic.Names() {
		t.Run(name, func(t *testing.T) {
			spec, err := topic.Lookup(name)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			dec := spec.Bind(schema.ProcessingTime, nil).Decoder

			for i := 0; i < 50; i++ {
				payload, err := g.Payload(name, EncodeJSON)
				if err != nil {
					t.Fatalf("Payload failed: %v", err)
				}
				rec, err := dec.Decode(payload)
				if err != nil {
					t.Fatalf("Generated payload %q does not decode: %v", payload, err)
				}
				ts := rec.EventTime()
				if ts > 1_700_000_000_000 || ts < 1_700_000_000_000-2000 {
					t.Errorf("Event time %d outside the jitter window", ts)
				}
				if len(rec.Values()) != len(spec.Schema.FieldOrder) {
					t.Errorf("Expected %d values, got %d", len(spec.Schema.FieldOrder), len(rec.Values()))
				}
			}
		})
	}
}

func TestNoJitterUsesNow(t *testing.T) {
	g := fixedGenerator(0)
	if ts := g.Dau()["dau_time"]; ts != int64(1_700_000_000_000) {
		t.Errorf("Expected event time equal to now, got %v", ts)
	}
}

func TestPayloadUnknownTopic(t *testing.T) {
	if _, err := fixedGenerator(0).Payload("foo", EncodeJSON); err == nil {
		t.Errorf("Expected error for unknown topic")
	}
}

type memPublisher struct {
	mu    sync.Mutex
	batch map[string][]int
	total map[string]int
	fail  error
}

func newMemPublisher() *memPublisher {
	return &memPublisher{batch: map[string][]int{}, total: map[string]int{}}
}

func (p *memPublisher) Encode(topic string, value map[string]any) ([]byte, error) {
	return EncodeJSON(topic, value)
}

func (p *memPublisher) PublishBatch(topic string, msgs []kafka.Message) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batch[topic] = append(p.batch[topic], len(msgs))
	p.total[topic] += len(msgs)
	return nil
}

func TestEmitterCount(t *testing.T) {
	pub := newMemPublisher()
	e := NewEmitter(fixedGenerator(time.Second), pub, EmitterOptions{
		Topics:   []string{record.TopicDau, record.TopicShopping},
		Interval: time.Millisecond,
		Batch:    4,
		Count:    10,
	})

	sent, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, name := range []string{record.TopicDau, record.TopicShopping} {
		if sent[name] != 10 || pub.total[name] != 10 {
			t.Errorf("%s: sent=%d published=%d, want 10", name, sent[name], pub.total[name])
		}
	}
	if got := pub.batch[record.TopicDau]; len(got) != 3 || got[2] != 2 {
		t.Errorf("Expected batches 4,4,2, got %v", got)
	}
}

func TestEmitterStopsOnCancel(t *testing.T) {
	pub := newMemPublisher()
	e := NewEmitter(fixedGenerator(0), pub, EmitterOptions{
		Topics:   []string{record.TopicClick},
		Interval: time.Hour,
		Batch:    3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sent[record.TopicClick] != 3 {
		t.Errorf("Expected exactly one batch before stopping, got %d", sent[record.TopicClick])
	}
}

func TestEmitterPublishError(t *testing.T) {
	pub := newMemPublisher()
	pub.fail = errors.New("broker down")
	e := NewEmitter(fixedGenerator(0), pub, EmitterOptions{Topics: []string{record.TopicDau}, Count: 1})

	if _, err := e.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("Expected publish error, got %v", err)
	}
}

type memRegistrar struct {
	subjects []string
}

func (r *memRegistrar) Register(topic, _ string) (int, error) {
	r.subjects = append(r.subjects, topic)
	return len(r.subjects), nil
}

func TestRegisterSchemasStructuredOnly(t *testing.T) {
	r := &memRegistrar{}
	RegisterSchemas(r, []string{"shopping", "click", "imp", "dau", "userVisit"})

	if strings.Join(r.subjects, ",") != "click,imp,dau" {
		t.Errorf("Expected only structured topics, got %v", r.subjects)
	}
}

func TestWriteFilesFeedsFileSource(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	g := fixedGenerator(time.Second)

	if err := g.WriteFiles(dir, []string{record.TopicImpression, record.TopicUserVisit}, 25); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	for _, name := range []string{record.TopicImpression, record.TopicUserVisit} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("Missing file for %s: %v", name, err)
		}

		src, err := stream.FileSourceFactory(dir)(name)
		if err != nil {
			t.Fatalf("open source failed: %v", err)
		}
		spec, _ := topic.Lookup(name)
		dec := spec.Bind(schema.ProcessingTime, nil).Decoder

		n := 0
		for {
			payload, err := src.Next(context.Background())
			if err != nil {
				break
			}
			if _, err := dec.Decode(payload); err != nil {
				t.Errorf("%s line %d does not decode: %v", name, n, err)
			}
			n++
		}
		_ = src.Close()
		if n != 25 {
			t.Errorf("%s: expected 25 lines, got %d", name, n)
		}
	}
}
