// Package stream turns a raw payload source into a typed, time-annotated row
// stream for one topic.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/record"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/watermark"
)

// Source is a raw payload feed for one topic. Next returns io.EOF once the
// feed is exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// SourceFactory opens the source of a topic.
type SourceFactory func(topic string) (Source, error)

// Row is one decoded record with its time attribute.
type Row struct {
	Values  []any
	Rowtime time.Time
}

// DropRecorder is told about every payload the decoder rejected.
type DropRecorder interface {
	RecordDrop(topic, reason string)
}

// Drop reasons.
const (
	ReasonDecode    = "decode"
	ReasonMalformed = "malformed"
)

// logged drops per pipeline before going quiet
const maxDropLogs = 10

// Pipeline owns exactly one source, decoder and (event time only) tracker.
type Pipeline struct {
	Topic  string
	Schema schema.TableSchema
	Mode   schema.TimeMode

	source  Source
	decoder record.Decoder
	tracker *watermark.Tracker
	drops   DropRecorder
	now     func() time.Time

	closeOnce sync.Once
	emitted   atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline wires the parts of one topic. tracker must be non-nil in event
// time mode; drops may be nil.
func NewPipeline(topicName string, s schema.TableSchema, mode schema.TimeMode, src Source, dec record.Decoder, tracker *watermark.Tracker, drops DropRecorder) *Pipeline {
	return &Pipeline{
		Topic:   topicName,
		Schema:  s,
		Mode:    mode,
		source:  src,
		decoder: dec,
		tracker: tracker,
		drops:   drops,
		now:     time.Now,
	}
}

// Tracker returns nil in processing time mode.
func (p *Pipeline) Tracker() *watermark.Tracker { return p.tracker }

func (p *Pipeline) Emitted() int64 { return p.emitted.Load() }
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Close closes the source. Only the first call reaches it.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if err := p.source.Close(); err != nil {
			log.Printf("[Pipeline] Error closing %s source: %v", p.Topic, err)
		}
	})
}

// Run pulls payloads until the source is exhausted, ctx is done or emit
// fails. Rejected payloads are dropped and counted. The source is closed on
// return.
func (p *Pipeline) Run(ctx context.Context, emit func(Row) error) error {
	defer p.Close()

	if p.Mode == schema.EventTime && p.tracker == nil {
		return fmt.Errorf("pipeline %s: event time requires a watermark tracker", p.Topic)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		payload, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline %s: %w", p.Topic, err)
		}

		rec, err := p.decoder.Decode(payload)
		if err != nil {
			p.drop(err)
			continue
		}

		var rowtime time.Time
		if p.Mode == schema.EventTime {
			rowtime = time.UnixMilli(p.tracker.Observe(rec.EventTime()))
		} else {
			rowtime = p.now()
		}

		if err := emit(Row{Values: rec.Values(), Rowtime: rowtime}); err != nil {
			return fmt.Errorf("pipeline %s: %w", p.Topic, err)
		}
		p.emitted.Add(1)
	}
}

func (p *Pipeline) drop(err error) {
	reason := ReasonMalformed
	if errors.Is(err, record.ErrDecode) {
		reason = ReasonDecode
	}
	if n := p.dropped.Add(1); n <= maxDropLogs {
		log.Printf("[Pipeline] Dropping %s payload: %v", p.Topic, err)
	}
	if p.drops != nil {
		p.drops.RecordDrop(p.Topic, reason)
	}
}
