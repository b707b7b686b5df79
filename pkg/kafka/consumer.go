package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/tianqiongenze/StreamingBench/pkg/config"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
)

const (
	// Upper bound of a single ReadMessage call so cancellation is noticed.
	pollTimeout = 500 * time.Millisecond
)

// Consumer is a stream.Source over one topic. Payloads are handed out as raw
// bytes; decoding is the pipeline's job.
type Consumer struct {
	c           *ck.Consumer
	topic       string
	idleTimeout time.Duration
	offsets     *offsetBatch
	lastMessage time.Time
}

func consumerConfigMap(brokers []string, groupID, startOffset string) *ck.ConfigMap {
	return &ck.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"group.id":           groupID,
		"enable.auto.commit": false,
		"auto.offset.reset":  startOffset,
	}
}

// NewConsumer subscribes to topic. A positive idleTimeout ends the stream
// after that long without a message; offsets are committed in batches every
// commitInterval.
func NewConsumer(topic string, cfg config.KafkaConfig, idleTimeout, commitInterval time.Duration) (*Consumer, error) {
	c, err := ck.NewConsumer(consumerConfigMap(cfg.Brokers, cfg.ConsumerGroup, cfg.StartOffset))
	if err != nil {
		return nil, fmt.Errorf("failed to create confluent consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe %s failed: %w", topic, err)
	}

	log.Printf("[Kafka] Subscribed to %s (group=%s, start=%s)", topic, cfg.ConsumerGroup, cfg.StartOffset)

	return &Consumer{
		c:           c,
		topic:       topic,
		idleTimeout: idleTimeout,
		offsets:     newOffsetBatch(commitInterval),
		lastMessage: time.Now(),
	}, nil
}

// SourceFactory opens one consumer per topic with the run's settings.
func SourceFactory(cfg config.AppConfig) stream.SourceFactory {
	return func(topic string) (stream.Source, error) {
		return NewConsumer(topic, cfg.Kafka, cfg.Bench.IdleTimeout, cfg.Bench.CheckpointInterval)
	}
}

func (c *Consumer) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := c.c.ReadMessage(pollTimeout)
		if err != nil {
			var ke ck.Error
			if errors.As(err, &ke) && ke.Code() == ck.ErrTimedOut {
				if c.idleTimeout > 0 && time.Since(c.lastMessage) >= c.idleTimeout {
					log.Printf("[Kafka] No message on %s for %v, ending stream", c.topic, c.idleTimeout)
					return nil, io.EOF
				}
				c.maybeCommit()
				continue
			}
			return nil, err
		}

		c.lastMessage = time.Now()
		c.offsets.track(msg.TopicPartition.Partition, int64(msg.TopicPartition.Offset))
		c.maybeCommit()
		return msg.Value, nil
	}
}

func (c *Consumer) maybeCommit() {
	if !c.offsets.due(time.Now()) {
		return
	}
	if err := c.commit(); err != nil {
		log.Printf("[Kafka] %v", err)
	}
}

// commit sends the highest offset+1 per partition in one RPC.
func (c *Consumer) commit() error {
	tps, err := c.offsets.drain(c.topic)
	if err != nil || len(tps) == 0 {
		return err
	}
	if _, err := c.c.CommitOffsets(tps); err != nil {
		return fmt.Errorf("commit batch failed: %w", err)
	}
	return nil
}

// Close commits pending offsets and leaves the group.
func (c *Consumer) Close() error {
	if err := c.commit(); err != nil {
		log.Printf("[Kafka] %v", err)
	}
	return c.c.Close()
}

// offsetBatch remembers the next offset per partition between commits.
type offsetBatch struct {
	interval   time.Duration
	lastCommit time.Time
	pending    map[int32]int64
}

func newOffsetBatch(interval time.Duration) *offsetBatch {
	return &offsetBatch{interval: interval, lastCommit: time.Now(), pending: make(map[int32]int64)}
}

func (b *offsetBatch) track(partition int32, offset int64) {
	next := offset + 1
	if curr, ok := b.pending[partition]; !ok || next > curr {
		b.pending[partition] = next
	}
}

func (b *offsetBatch) due(now time.Time) bool {
	return len(b.pending) > 0 && now.Sub(b.lastCommit) >= b.interval
}

func (b *offsetBatch) drain(topic string) ([]ck.TopicPartition, error) {
	tps := make([]ck.TopicPartition, 0, len(b.pending))
	for p, off := range b.pending {
		if p < 0 {
			return nil, fmt.Errorf("partition %d out of range", p)
		}
		t := topic
		tps = append(tps, ck.TopicPartition{Topic: &t, Partition: p, Offset: ck.Offset(off)})
	}
	b.pending = make(map[int32]int64)
	b.lastCommit = time.Now()
	return tps, nil
}
