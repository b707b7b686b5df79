// Package watermark tracks per-topic event time under bounded
// out-of-orderness.
package watermark

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	// MaxOutOfOrderness is the lag between the highest event time seen and
	// the emitted watermark, in milliseconds.
	MaxOutOfOrderness int64 = 2000

	// DefaultInterval is how often a Sampler reads the watermark.
	DefaultInterval = 200 * time.Millisecond
)

// Tracker keeps the maximum event timestamp observed by one pipeline.
//
// Observe is called by the pipeline goroutine only; CurrentWatermark may be
// called concurrently by a Sampler.
type Tracker struct {
	currentMax        atomic.Int64
	maxOutOfOrderness int64
}

func NewTracker() *Tracker {
	return &Tracker{maxOutOfOrderness: MaxOutOfOrderness}
}

// Observe folds ts into the running maximum and returns ts as the record's
// assigned timestamp. Late records are accepted as is.
func (t *Tracker) Observe(ts int64) int64 {
	for {
		cur := t.currentMax.Load()
		if ts <= cur || t.currentMax.CompareAndSwap(cur, ts) {
			return ts
		}
	}
}

func (t *Tracker) CurrentMax() int64 {
	return t.currentMax.Load()
}

// CurrentWatermark returns the highest timestamp seen minus the allowance.
// It is negative until a record later than the allowance arrives.
func (t *Tracker) CurrentWatermark() int64 {
	return t.currentMax.Load() - t.maxOutOfOrderness
}

// Sampler reads a tracker's watermark on a fixed interval, decoupled from
// Observe calls.
type Sampler struct {
	tracker  *Tracker
	interval time.Duration
	emit     func(wm int64)
}

func NewSampler(t *Tracker, interval time.Duration, emit func(wm int64)) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{tracker: t, interval: interval, emit: emit}
}

// Run emits one sample per tick until ctx is done, then a final sample.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.emit(s.tracker.CurrentWatermark())
			return
		case <-ticker.C:
			s.emit(s.tracker.CurrentWatermark())
		}
	}
}
