package faker

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/tianqiongenze/StreamingBench/pkg/avro"
	"github.com/tianqiongenze/StreamingBench/pkg/kafka"
)

// Publisher is the part of kafka.Producer the emitter needs.
type Publisher interface {
	Encode(topic string, value map[string]any) ([]byte, error)
	PublishBatch(topic string, msgs []kafka.Message) error
}

var _ Publisher = (*kafka.Producer)(nil)

// SchemaRegistrar registers Avro value schemas.
type SchemaRegistrar interface {
	Register(topic, schemaJSON string) (int, error)
}

var _ SchemaRegistrar = (*avro.Codec)(nil)

// RegisterSchemas registers the value schema of every structured topic in
// topics. Failures are logged and the remaining schemas are still tried.
func RegisterSchemas(r SchemaRegistrar, topics []string) {
	for _, t := range topics {
		schema, ok := avro.TopicSchemas[t]
		if !ok {
			continue
		}
		id, err := r.Register(t, schema)
		if err != nil {
			log.Printf("[Schema] Failed to register schema for %s: %v", avro.Subject(t), err)
			continue
		}
		log.Printf("[Schema] Registered schema for %s (id=%d)", avro.Subject(t), id)
	}
}

type EmitterOptions struct {
	Topics   []string
	Interval time.Duration
	Batch    int
	// Count is the number of messages per topic; zero emits until ctx ends.
	Count int
}

// Emitter publishes batches of generated payloads on every tick.
type Emitter struct {
	gen  *Generator
	pub  Publisher
	opts EmitterOptions
}

func NewEmitter(gen *Generator, pub Publisher, opts EmitterOptions) *Emitter {
	if opts.Batch <= 0 {
		opts.Batch = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Emitter{gen: gen, pub: pub, opts: opts}
}

// Run emits until Count messages per topic were published or ctx ends.
// It returns the number of messages published per topic.
func (e *Emitter) Run(ctx context.Context) (map[string]int, error) {
	sent := make(map[string]int, len(e.opts.Topics))
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	log.Printf("[Fakegen] Emitting %v every %v (batch=%d)", e.opts.Topics, e.opts.Interval, e.opts.Batch)
	for {
		done := true
		for _, t := range e.opts.Topics {
			n := e.remaining(sent[t])
			if n == 0 {
				continue
			}
			done = false
			if err := e.publish(t, n); err != nil {
				return sent, err
			}
			sent[t] += n
		}
		if done {
			log.Printf("[Fakegen] Finished: %v", sent)
			return sent, nil
		}

		select {
		case <-ctx.Done():
			log.Printf("[Fakegen] Stopped: %v", sent)
			return sent, nil
		case <-ticker.C:
		}
	}
}

func (e *Emitter) remaining(sent int) int {
	if e.opts.Count <= 0 {
		return e.opts.Batch
	}
	return min(e.opts.Batch, e.opts.Count-sent)
}

func (e *Emitter) publish(topicName string, n int) error {
	msgs := make([]kafka.Message, 0, n)
	for range n {
		payload, err := e.gen.Payload(topicName, e.pub.Encode)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Value: payload})
	}
	if err := e.pub.PublishBatch(topicName, msgs); err != nil {
		return fmt.Errorf("publish %s: %w", topicName, err)
	}
	return nil
}

var jsonFast = jsoniter.ConfigFastest

// EncodeJSON is the Encoder used for file output.
func EncodeJSON(_ string, value map[string]any) ([]byte, error) {
	return jsonFast.Marshal(value)
}

// WriteFiles writes count payloads per topic to <dir>/<topic>, one per
// line, in the layout the file source reads.
func (g *Generator) WriteFiles(dir string, topics []string, count int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, t := range topics {
		if err := g.writeFile(filepath.Join(dir, t), t, count); err != nil {
			return fmt.Errorf("write %s: %w", t, err)
		}
		log.Printf("[Fakegen] Wrote %d %s payloads to %s", count, t, dir)
	}
	return nil
}

func (g *Generator) writeFile(path, topicName string, count int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for range count {
		payload, err := g.Payload(topicName, EncodeJSON)
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
