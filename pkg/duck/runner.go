package duck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
	"github.com/tianqiongenze/StreamingBench/pkg/query"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
	"github.com/tianqiongenze/StreamingBench/pkg/watermark"
)

// ErrNoInputs is returned by Submit when nothing was registered.
var ErrNoInputs = errors.New("job has no registered inputs")

type Options struct {
	FlushSize         int
	FlushInterval     time.Duration
	WatermarkInterval time.Duration
	PrintRows         int
	// MaxDuration bounds ingestion; zero means until every source ends.
	MaxDuration time.Duration
}

// WatermarkRecorder receives sampled watermarks.
type WatermarkRecorder interface {
	SetWatermark(topic string, wm int64)
}

type registeredInput struct {
	name     string
	timeAttr string
	pipeline *stream.Pipeline
}

// Runner is a bench.QueryEngine for a single job on a DBEngine.
type Runner struct {
	db   *DBEngine
	opts Options
	wm   WatermarkRecorder

	mu     sync.Mutex
	inputs []registeredInput
	query  *query.Query
	used   bool
}

var _ bench.QueryEngine = (*Runner)(nil)

func NewRunner(db *DBEngine, opts Options, wm WatermarkRecorder) *Runner {
	if opts.FlushSize <= 0 {
		opts.FlushSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Runner{db: db, opts: opts, wm: wm}
}

// RegisterInput creates the input table. timeAttr must match the pipeline's
// time mode.
func (r *Runner) RegisterInput(ctx context.Context, name string, s schema.TableSchema, timeAttr string, p *stream.Pipeline) error {
	if timeAttr != schema.TimeAttribute(p.Mode) {
		return fmt.Errorf("input %s: time attribute %s does not match %s pipeline", name, timeAttr, p.Mode)
	}
	if err := r.db.CreateTableFromSchema(ctx, name, s); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, registeredInput{name: name, timeAttr: timeAttr, pipeline: p})
	return nil
}

// RegisterQuery compiles the query against the input tables. DuckDB has the
// final word; the plan only explains a failure and logs the joins.
func (r *Runner) RegisterQuery(ctx context.Context, q query.Query) error {
	plan, planErr := query.NewPlan(q.SQL)
	if planErr != nil {
		log.Printf("[DuckDB] Could not plan %s: %v", q.Name, planErr)
	}

	if err := r.db.Prepare(ctx, q.SQL); err != nil {
		if plan != nil {
			if missing := plan.Missing(r.db.Tables()); len(missing) > 0 {
				return fmt.Errorf("prepare %s: unregistered tables %v: %w", q.Name, missing, err)
			}
		}
		return fmt.Errorf("prepare %s: %w", q.Name, err)
	}

	if plan != nil {
		log.Printf("[DuckDB] Query %s reads %v", q.Name, plan.Tables)
		for _, jc := range plan.JoinClauses {
			log.Printf("[DuckDB] Query %s joins %s", q.Name, jc)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = &q
	return nil
}

// Submit runs every pipeline to completion, appending rows in batches, then
// executes the registered query over the ingested tables.
func (r *Runner) Submit(ctx context.Context, jobName string) (bench.JobResult, error) {
	r.mu.Lock()
	inputs, q, used := r.inputs, r.query, r.used
	r.used = true
	r.mu.Unlock()

	if used {
		for _, in := range inputs {
			in.pipeline.Close()
		}
		return bench.JobResult{}, fmt.Errorf("job %s: runner already submitted", jobName)
	}
	if len(inputs) == 0 {
		return bench.JobResult{}, ErrNoInputs
	}

	start := time.Now()
	log.Printf("[Job] %s started with %d inputs", jobName, len(inputs))

	if err := r.ingest(ctx, jobName, inputs); err != nil {
		return bench.JobResult{}, err
	}

	res := bench.JobResult{}
	if q != nil {
		rows, digest, err := r.execute(context.WithoutCancel(ctx), *q)
		if err != nil {
			return bench.JobResult{}, err
		}
		res.ResultRows, res.ResultDigest = rows, digest
	} else {
		log.Printf("[Job] %s has no registered query, inputs were ingested only", jobName)
	}

	res.NetRuntime = time.Since(start)
	log.Printf("[Job] %s finished in %v", jobName, res.NetRuntime)
	return res, nil
}

func (r *Runner) ingest(ctx context.Context, jobName string, inputs []registeredInput) error {
	runCtx := ctx
	if r.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.MaxDuration)
		defer cancel()
	}

	samplerCtx, stopSamplers := context.WithCancel(ctx)
	var samplers sync.WaitGroup
	for _, in := range inputs {
		if t := in.pipeline.Tracker(); t != nil {
			samplers.Add(1)
			go func(name string, t *watermark.Tracker) {
				defer samplers.Done()
				watermark.NewSampler(t, r.opts.WatermarkInterval, func(wm int64) {
					if r.wm != nil {
						r.wm.SetWatermark(name, wm)
					}
				}).Run(samplerCtx)
			}(in.name, t)
		}
	}
	defer func() {
		stopSamplers()
		samplers.Wait()
	}()

	buf := NewBuffer(jobName)
	full := make(chan struct{}, 1)
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(runCtx)

	var pipelines sync.WaitGroup
	for _, in := range inputs {
		pipelines.Add(1)
		g.Go(func() error {
			defer pipelines.Done()
			err := in.pipeline.Run(gctx, func(row stream.Row) error {
				if buf.Add(in.name, row) >= r.opts.FlushSize {
					select {
					case full <- struct{}{}:
					default:
					}
				}
				return nil
			})
			log.Printf("[Job] Input %s ended: emitted=%d dropped=%d", in.name, in.pipeline.Emitted(), in.pipeline.Dropped())
			return err
		})
	}
	go func() {
		pipelines.Wait()
		close(done)
	}()

	g.Go(func() error {
		ticker := time.NewTicker(r.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			case <-full:
			}
			if err := r.flush(gctx, buf); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Final drain must survive maxDuration expiry.
	if err := r.flush(context.WithoutCancel(ctx), buf); err != nil {
		return err
	}
	buf.Metrics()
	return nil
}

func (r *Runner) flush(ctx context.Context, buf *Buffer) error {
	for table, rows := range buf.Flush() {
		n, err := r.db.InsertBatch(ctx, table, rows)
		if err != nil {
			return err
		}
		log.Printf("[DuckDB] Inserted %d records into table %s", n, table)
	}
	return nil
}

// execute runs the query, logs its schema and first rows, and returns the
// row count and an order-sensitive digest of the result.
func (r *Runner) execute(ctx context.Context, q query.Query) (int64, uint64, error) {
	rows, err := r.db.ExecuteSQL(ctx, q.SQL)
	if err != nil {
		return 0, 0, fmt.Errorf("execute %s: %w", q.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, 0, err
	}
	log.Printf("[Job] %s result schema: %s", q.Name, strings.Join(cols, ", "))

	digest := xxhash.New()
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var count int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, 0, fmt.Errorf("scan %s: %w", q.Name, err)
		}
		line := formatRow(values)
		_, _ = digest.WriteString(line)
		_, _ = digest.WriteString("\n")
		if count < int64(r.opts.PrintRows) {
			log.Printf("[Job] %s", line)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, 0, fmt.Errorf("read %s: %w", q.Name, err)
	}

	log.Printf("[Job] %s returned %d rows", q.Name, count)
	return count, digest.Sum64(), nil
}

func formatRow(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			parts[i] = "null"
		case time.Time:
			parts[i] = x.UTC().Format(time.DateTime)
		case []byte:
			parts[i] = string(x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ",")
}
