package duck

import (
	"log"
	"sync"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/stream"
)

// Buffer collects rows per input table between appender flushes.
type Buffer struct {
	mu           sync.Mutex
	Name         string
	rows         map[string][]stream.Row
	size         int
	totalRecords int
	flushCount   int
	lastFlush    time.Time
	lastInsert   time.Time
}

func NewBuffer(name string) *Buffer {
	return &Buffer{
		Name:       name,
		rows:       make(map[string][]stream.Row),
		lastFlush:  time.Now(),
		lastInsert: time.Now(),
	}
}

// Add appends a row and returns the buffered row count.
func (b *Buffer) Add(table string, row stream.Row) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows[table] = append(b.rows[table], row)
	b.size++
	b.totalRecords++
	b.lastInsert = time.Now()
	return b.size
}

// Flush hands out everything buffered so far, grouped by table.
func (b *Buffer) Flush() map[string][]stream.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	flushed := b.rows
	b.rows = make(map[string][]stream.Row, len(flushed))
	b.size = 0
	b.flushCount++
	b.lastFlush = time.Now()

	return flushed
}

func (b *Buffer) Metrics() {
	b.mu.Lock()
	defer b.mu.Unlock()

	log.Printf("[Metrics] Buffer for %s - size: %d, total: %d, flushes: %d, last_flush: %v ago, last_insert: %v ago",
		b.Name,
		b.size,
		b.totalRecords,
		b.flushCount,
		time.Since(b.lastFlush),
		time.Since(b.lastInsert),
	)
}
