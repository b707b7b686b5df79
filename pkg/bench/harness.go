// Package bench wires topic pipelines into a query engine, runs one
// benchmark query and records its throughput.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/metrics"
	"github.com/tianqiongenze/StreamingBench/pkg/query"
	"github.com/tianqiongenze/StreamingBench/pkg/record"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
	"github.com/tianqiongenze/StreamingBench/pkg/topic"
)

// ErrUnknownTopic is returned before anything is registered when a query
// names a topic without a decoder.
var ErrUnknownTopic = topic.ErrUnknownTopic

// JobResult is what the engine reports for one submitted job.
type JobResult struct {
	NetRuntime   time.Duration
	ResultRows   int64
	ResultDigest uint64
}

// QueryEngine runs registered inputs and a query as one job.
//
// RegisterQuery errors are logged by the harness and the job is still
// submitted; Submit errors end the run.
type QueryEngine interface {
	RegisterInput(ctx context.Context, name string, s schema.TableSchema, timeAttr string, p *stream.Pipeline) error
	RegisterQuery(ctx context.Context, q query.Query) error
	Submit(ctx context.Context, jobName string) (JobResult, error)
}

// ResultSink receives every finished result. Sink failures never fail a run.
type ResultSink interface {
	Name() string
	Store(ctx context.Context, r Result) error
}

type Options struct {
	TimeMode       schema.TimeMode
	SQLLocation    string
	ResultLocation string
	// TopicsFor returns the topics a query reads.
	TopicsFor func(queryName string) []string
	// Unmarshaler decodes structured payloads; nil means JSON.
	Unmarshaler record.Unmarshaler
}

type Harness struct {
	opts    Options
	engine  QueryEngine
	sources stream.SourceFactory
	metrics *metrics.Metrics
	sinks   []ResultSink
	now     func() time.Time
}

func NewHarness(opts Options, engine QueryEngine, sources stream.SourceFactory, m *metrics.Metrics, sinks ...ResultSink) *Harness {
	if m == nil {
		m = metrics.New()
	}
	return &Harness{
		opts:    opts,
		engine:  engine,
		sources: sources,
		metrics: m,
		sinks:   sinks,
		now:     time.Now,
	}
}

type input struct {
	spec     topic.Spec
	pipeline *stream.Pipeline
	acc      *metrics.Accumulator
	base     int64
}

// Run executes queryName once and appends its result.
func (h *Harness) Run(ctx context.Context, queryName string) (*Result, error) {
	specs, err := h.resolveTopics(queryName)
	if err != nil {
		return nil, err
	}

	inputs, err := h.buildInputs(specs)
	if err != nil {
		return nil, err
	}

	// Pipelines close their source when they run; this covers the ones
	// that never do.
	defer closePipelines(inputs)

	attr := schema.TimeAttribute(h.opts.TimeMode)
	for _, in := range inputs {
		log.Printf("[Bench] Registering %s (%s)", in.spec.Name, schema.FieldString(in.spec.Schema.FieldOrder, h.opts.TimeMode))
		if err := h.engine.RegisterInput(ctx, in.spec.Name, in.spec.Schema, attr, in.pipeline); err != nil {
			return nil, fmt.Errorf("register input %s: %w", in.spec.Name, err)
		}
	}

	q, err := query.Load(h.opts.SQLLocation, queryName)
	if err != nil {
		return nil, err
	}

	if err := h.engine.RegisterQuery(ctx, q); err != nil {
		log.Printf("[Bench] Query %s failed to register: %v", queryName, err)
	}

	job, err := h.engine.Submit(ctx, queryName)
	if err != nil {
		return nil, fmt.Errorf("job %s failed: %w", queryName, err)
	}

	res := h.collect(q, job, inputs)

	if err := AppendResultLog(h.opts.ResultLocation, res); err != nil {
		return nil, err
	}
	log.Printf("[Bench] %s", res.Line())

	h.metrics.RecordRun(queryName, res.RuntimeSeconds(), res.TPS)

	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range h.sinks {
		if err := s.Store(sinkCtx, res); err != nil {
			log.Printf("[Bench] Result sink %s failed: %v", s.Name(), err)
		}
	}

	return &res, nil
}

func (h *Harness) resolveTopics(queryName string) ([]topic.Spec, error) {
	var names []string
	if h.opts.TopicsFor != nil {
		names = h.opts.TopicsFor(queryName)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no topics configured for query %s", queryName)
	}

	seen := make(map[string]struct{}, len(names))
	specs := make([]topic.Spec, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		spec, err := topic.Lookup(name)
		if err != nil {
			log.Printf("[Bench] No such topic, please check your config: %s", name)
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (h *Harness) buildInputs(specs []topic.Spec) ([]input, error) {
	inputs := make([]input, 0, len(specs))
	for _, spec := range specs {
		var u record.Unmarshaler
		if spec.Structured {
			u = h.opts.Unmarshaler
		}
		b := spec.Bind(h.opts.TimeMode, u)

		acc := h.metrics.Accumulator(spec.Name)
		b.Decoder.Init(acc)

		src, err := h.sources(spec.Name)
		if err != nil {
			closePipelines(inputs)
			return nil, fmt.Errorf("open source %s: %w", spec.Name, err)
		}

		inputs = append(inputs, input{
			spec:     spec,
			pipeline: stream.NewPipeline(spec.Name, spec.Schema, h.opts.TimeMode, src, b.Decoder, b.Tracker, h.metrics),
			acc:      acc,
			base:     acc.Value(),
		})
	}
	return inputs, nil
}

func (h *Harness) collect(q query.Query, job JobResult, inputs []input) Result {
	res := Result{
		FinishedAt:   h.now(),
		QueryName:    q.Name,
		QueryHash:    q.HashString(),
		NetRuntimeMs: job.NetRuntime.Milliseconds(),
		PerTopic:     make(map[string]int64, len(inputs)),
		ResultRows:   job.ResultRows,
	}
	if job.ResultDigest != 0 {
		res.ResultDigest = fmt.Sprintf("%016x", job.ResultDigest)
	}

	for _, in := range inputs {
		n := in.acc.Value() - in.base
		res.PerTopic[in.spec.Name] = n
		res.TotalRecordCount += n
	}

	tps, err := ComputeTPS(res.TotalRecordCount, res.NetRuntimeMs)
	if errors.Is(err, ErrRuntimeTooShort) {
		log.Printf("[Bench] Warning: %v, TPS reported as the record count", err)
	}
	res.TPS = tps
	return res
}

func closePipelines(inputs []input) {
	for _, in := range inputs {
		in.pipeline.Close()
	}
}
