package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/config"
)

func TestConsumerConfigMap(t *testing.T) {
	cm := consumerConfigMap([]string{"a:9092", "b:9092"}, "bench", "latest")

	tests := []struct {
		key  string
		want any
	}{
		{key: "bootstrap.servers", want: "a:9092,b:9092"},
		{key: "group.id", want: "bench"},
		{key: "enable.auto.commit", want: false},
		{key: "auto.offset.reset", want: "latest"},
	}

	for _, tt := range tests {
		got, err := cm.Get(tt.key, nil)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestOffsetBatchKeepsHighestPerPartition(t *testing.T) {
	b := newOffsetBatch(time.Hour)
	b.track(0, 10)
	b.track(0, 7)
	b.track(1, 3)

	tps, err := b.drain("click")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(tps) != 2 {
		t.Fatalf("Expected 2 partitions, got %d", len(tps))
	}
	for _, tp := range tps {
		if *tp.Topic != "click" {
			t.Errorf("Unexpected topic %s", *tp.Topic)
		}
		switch tp.Partition {
		case 0:
			if tp.Offset != 11 {
				t.Errorf("Partition 0: expected offset 11, got %v", tp.Offset)
			}
		case 1:
			if tp.Offset != 4 {
				t.Errorf("Partition 1: expected offset 4, got %v", tp.Offset)
			}
		}
	}

	if len(b.pending) != 0 {
		t.Errorf("Expected pending offsets to be cleared")
	}
}

func TestOffsetBatchDue(t *testing.T) {
	b := newOffsetBatch(5 * time.Second)
	now := b.lastCommit

	if b.due(now.Add(10 * time.Second)) {
		t.Errorf("Nothing pending, commit must not be due")
	}

	b.track(0, 1)
	if b.due(now.Add(time.Second)) {
		t.Errorf("Commit should wait for the interval")
	}
	if !b.due(now.Add(5 * time.Second)) {
		t.Errorf("Commit should be due after the interval")
	}
}

func TestConsumerIdleTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping consumer integration test in short mode")
	}

	cfg := config.KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "streambench-test",
		StartOffset:   "latest",
	}

	c, err := NewConsumer("streambench_idle_test", cfg, time.Second, time.Second)
	if err != nil {
		t.Skipf("Kafka not available: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = c.Next(ctx)
	if !errors.Is(err, io.EOF) && !errors.Is(err, context.DeadlineExceeded) {
		t.Skipf("Kafka not reachable: %v", err)
	}
}
