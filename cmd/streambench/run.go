package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tianqiongenze/StreamingBench/pkg/avro"
	"github.com/tianqiongenze/StreamingBench/pkg/bench"
	"github.com/tianqiongenze/StreamingBench/pkg/config"
	"github.com/tianqiongenze/StreamingBench/pkg/duck"
	"github.com/tianqiongenze/StreamingBench/pkg/kafka"
	"github.com/tianqiongenze/StreamingBench/pkg/metrics"
	"github.com/tianqiongenze/StreamingBench/pkg/query"
	"github.com/tianqiongenze/StreamingBench/pkg/record"
	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/state"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <configFile> <queryName>",
		Short: "Run one query file against the configured topics.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(args[0])
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runQuery(ctx, cfg, args[1])
		},
	}
}

func runQuery(ctx context.Context, cfg config.AppConfig, queryName string) error {
	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Printf("[Metrics] Server stopped: %v", err)
			}
		}()
	}

	db, err := duck.NewDuckDBEngine(cfg.Engine.DuckDBPath)
	if err != nil {
		return fmt.Errorf("failed to init DuckDB: %w", err)
	}
	defer func() {
		if err := db.Cleanup(); err != nil {
			log.Printf("[DuckDB] Cleanup failed: %v", err)
		}
	}()

	runner := duck.NewRunner(db, duck.Options{
		FlushSize:         cfg.Engine.FlushSize,
		FlushInterval:     cfg.Engine.FlushInterval,
		WatermarkInterval: cfg.Engine.WatermarkInterval,
		PrintRows:         cfg.Engine.PrintRows,
		MaxDuration:       cfg.Bench.MaxDuration,
	}, m)

	sinks, closeSinks := openSinks(ctx, cfg)
	defer closeSinks()

	h := bench.NewHarness(bench.Options{
		TimeMode:       schema.ParseTimeMode(cfg.Bench.TimeType),
		SQLLocation:    cfg.Bench.SQLLocation,
		ResultLocation: cfg.Bench.ResultLocation,
		TopicsFor:      cfg.TopicsFor,
		Unmarshaler:    unmarshalerFor(cfg),
	}, runner, sourcesFor(cfg), m, sinks...)

	res, err := h.Run(ctx, queryName)
	if errors.Is(err, query.ErrMissingQueryFile) {
		log.Printf("[Bench] %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(res.Line())
	return nil
}

func sourcesFor(cfg config.AppConfig) stream.SourceFactory {
	if cfg.Bench.Source == config.SourceFile {
		log.Printf("[Bench] Reading topics from %s", cfg.Bench.DataDir)
		return stream.FileSourceFactory(cfg.Bench.DataDir)
	}
	log.Printf("[Bench] Reading topics from Kafka %v", cfg.Kafka.Brokers)
	return kafka.SourceFactory(cfg)
}

func unmarshalerFor(cfg config.AppConfig) record.Unmarshaler {
	if cfg.Bench.Source == config.SourceKafka && cfg.Kafka.UseAvro {
		log.Printf("[Avro] Decoding structured topics with %s", cfg.Kafka.SchemaRegistry)
		return avro.NewRegistryCodec(cfg.Kafka.SchemaRegistry).Unmarshal
	}
	return nil
}

// openSinks opens the optional result sinks. A sink that fails to open is
// skipped.
func openSinks(ctx context.Context, cfg config.AppConfig) ([]bench.ResultSink, func()) {
	var sinks []bench.ResultSink
	closeFn := func() {}

	if cfg.State.Path != "" {
		hist, err := state.OpenHistory(cfg.State.Path)
		if err != nil {
			log.Printf("[State] History disabled: %v", err)
		} else {
			sinks = append(sinks, hist)
			closeFn = func() {
				if err := hist.Close(); err != nil {
					log.Printf("[State] Close failed: %v", err)
				}
			}
		}
	}

	if cfg.Results.S3.Enabled {
		a, err := state.NewArchiver(ctx, cfg.Results.S3, cfg.Bench.ResultLocation)
		if err != nil {
			log.Printf("[Archive] Disabled: %v", err)
			return sinks, closeFn
		}
		if err := a.RestoreIfEmpty(ctx); err != nil {
			log.Printf("[Archive] Restore failed: %v", err)
		}
		sinks = append(sinks, a)
	}

	return sinks, closeFn
}
