package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/tianqiongenze/StreamingBench/pkg/avro"
	"github.com/tianqiongenze/StreamingBench/pkg/config"
)

const (
	batchTimeoutMillis = 100 // Batch timeout in milliseconds
	writeTimeout       = 10 * time.Second
)

var (
	// jsonFast is our high-performance JSON API.
	jsonFast = jsoniter.ConfigFastest
)

// Message is one payload ready to be published.
type Message struct {
	Key   []byte
	Value []byte
}

// Producer wraps a kafka.Writer and optional Avro support for structured
// payloads.
type Producer struct {
	ctx    context.Context
	writer *kafka.Writer
	codec  *avro.Codec
}

// NewProducer creates a new Kafka producer. When cfg.UseAvro is set,
// structured values are encoded against the schema registry.
func NewProducer(ctx context.Context, cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: batchTimeoutMillis * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	var codec *avro.Codec
	if cfg.UseAvro {
		codec = avro.NewRegistryCodec(cfg.SchemaRegistry)
	}

	return &Producer{ctx: ctx, writer: w, codec: codec}
}

// Codec is nil unless Avro is enabled.
func (p *Producer) Codec() *avro.Codec { return p.codec }

// Encode serializes a structured value as Avro or JSON.
func (p *Producer) Encode(topic string, value map[string]any) ([]byte, error) {
	if p.codec != nil {
		payload, err := p.codec.Marshal(topic, value)
		if err != nil {
			return nil, fmt.Errorf("avro encode failed: %w", err)
		}
		return payload, nil
	}
	payload, err := jsonFast.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return payload, nil
}

// Publish encodes and sends a single structured value.
func (p *Producer) Publish(topic string, key []byte, value map[string]any) error {
	payload, err := p.Encode(topic, value)
	if err != nil {
		return err
	}
	return p.PublishBatch(topic, []Message{{Key: key, Value: payload}})
}

// PublishBatch writes pre-encoded payloads in one call.
func (p *Producer) PublishBatch(topic string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Time: now})
	}

	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		log.Printf("[Kafka] publish failed topic=%s: %v", topic, err)
		return err
	}
	return nil
}

// Close shuts down the writer cleanly.
func (p *Producer) Close() error {
	return p.writer.Close()
}
