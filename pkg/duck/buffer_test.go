package duck

import (
	"sync"
	"testing"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/stream"
)

func row(v ...any) stream.Row {
	return stream.Row{Values: v, Rowtime: time.UnixMilli(0)}
}

func TestNewBuffer(t *testing.T) {
	buffer := NewBuffer("test_buffer")

	if buffer.Name != "test_buffer" {
		t.Errorf("Expected buffer name 'test_buffer', got '%s'", buffer.Name)
	}
	if buffer.size != 0 {
		t.Errorf("Expected empty buffer, got size %d", buffer.size)
	}
	if buffer.Flush() != nil {
		t.Errorf("Expected nil flush from empty buffer")
	}
	if buffer.flushCount != 0 {
		t.Errorf("Empty flush must not count, got %d", buffer.flushCount)
	}
}

func TestBufferKeepsDuplicates(t *testing.T) {
	buffer := NewBuffer("test_buffer")

	buffer.Add("dau", row("d1"))
	if n := buffer.Add("dau", row("d1")); n != 2 {
		t.Errorf("Identical events are distinct records, expected size 2, got %d", n)
	}
}

func TestBufferFlushGroupsByTable(t *testing.T) {
	buffer := NewBuffer("test_buffer")
	buffer.Add("click", row(1))
	buffer.Add("imp", row(2))
	buffer.Add("click", row(3))

	flushed := buffer.Flush()

	if len(flushed["click"]) != 2 || len(flushed["imp"]) != 1 {
		t.Errorf("Unexpected grouping: %v", flushed)
	}
	if flushed["click"][1].Values[0] != 3 {
		t.Errorf("Rows must keep arrival order")
	}
	if buffer.size != 0 {
		t.Errorf("Expected empty buffer after flush, got %d", buffer.size)
	}
	if buffer.flushCount != 1 || buffer.totalRecords != 3 {
		t.Errorf("Unexpected counters: flushes=%d total=%d", buffer.flushCount, buffer.totalRecords)
	}
}

func TestBufferConcurrentAdd(t *testing.T) {
	buffer := NewBuffer("test_buffer")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buffer.Add("shopping", row(j))
			}
		}()
	}
	wg.Wait()

	if buffer.size != 800 {
		t.Errorf("Expected 800 rows, got %d", buffer.size)
	}
	buffer.Metrics()
}
