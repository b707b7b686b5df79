// Package metrics holds the per-topic record accumulators and the Prometheus
// collectors of a benchmark run.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Accumulator is a monotonically increasing per-topic counter. It is read
// back by the harness after the job completes and is never reset.
type Accumulator struct {
	name    string
	value   atomic.Int64
	counter prometheus.Counter
}

// NewAccumulator returns an accumulator that is not exported to Prometheus.
func NewAccumulator(name string) *Accumulator {
	return &Accumulator{name: name}
}

func (a *Accumulator) Add(n int64) {
	a.value.Add(n)
	if a.counter != nil {
		a.counter.Add(float64(n))
	}
}

func (a *Accumulator) Value() int64 { return a.value.Load() }
func (a *Accumulator) Name() string { return a.name }

// Metrics owns a private registry so several runs can coexist in one process.
type Metrics struct {
	registry  *prometheus.Registry
	observed  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	watermark *prometheus.GaugeVec
	tps       *prometheus.GaugeVec
	runtime   *prometheus.GaugeVec

	mu           sync.Mutex
	accumulators map[string]*Accumulator
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		observed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streambench_records_observed_total",
				Help: "Payloads consumed by the topic decoder",
			},
			[]string{"topic"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streambench_records_dropped_total",
				Help: "Payloads that failed to decode",
			},
			[]string{"topic", "reason"},
		),
		watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streambench_watermark_ms",
				Help: "Last sampled event-time watermark",
			},
			[]string{"topic"},
		),
		tps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streambench_tps",
				Help: "Records per second of the last finished run",
			},
			[]string{"query"},
		),
		runtime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streambench_runtime_seconds",
				Help: "Net runtime of the last finished run",
			},
			[]string{"query"},
		),
		accumulators: make(map[string]*Accumulator),
	}

	m.registry.MustRegister(m.observed, m.dropped, m.watermark, m.tps, m.runtime)
	return m
}

// Accumulator returns the accumulator for topic, creating it on first use.
func (m *Metrics) Accumulator(topic string) *Accumulator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accumulators[topic]; ok {
		return acc
	}
	acc := &Accumulator{name: topic, counter: m.observed.WithLabelValues(topic)}
	m.accumulators[topic] = acc
	return acc
}

func (m *Metrics) RecordDrop(topic, reason string) {
	m.dropped.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) SetWatermark(topic string, wm int64) {
	m.watermark.WithLabelValues(topic).Set(float64(wm))
}

func (m *Metrics) RecordRun(query string, runtimeSeconds, tps int64) {
	m.runtime.WithLabelValues(query).Set(float64(runtimeSeconds))
	m.tps.WithLabelValues(query).Set(float64(tps))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[Metrics] Serving Prometheus metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
