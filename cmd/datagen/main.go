package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tianqiongenze/StreamingBench/pkg/config"
	"github.com/tianqiongenze/StreamingBench/pkg/faker"
	"github.com/tianqiongenze/StreamingBench/pkg/kafka"
	"github.com/tianqiongenze/StreamingBench/pkg/topic"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		toFiles bool
		count   int
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "datagen <configFile>",
		Short: "Publish synthetic payloads for the benchmark topics.",
		Long: `datagen publishes generated payloads to Kafka (JSON, or Avro when
kafka.useAvro is set) following the emitter settings of the config file.
With --files it writes them to bench.dataDir for the file source instead.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(args[0])
			if cmd.Flags().Changed("count") {
				cfg.Emitter.Count = count
			}

			topics, err := topic.Resolve(cfg.Emitter.Topics)
			if err != nil {
				return err
			}
			gen := faker.NewGenerator(seed, cfg.Emitter.Jitter)

			if toFiles {
				n := cfg.Emitter.Count
				if n <= 0 {
					n = cfg.Emitter.Batch
				}
				return gen.WriteFiles(cfg.Bench.DataDir, topics, n)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return emit(ctx, cfg, gen, topics)
		},
	}

	cmd.Flags().BoolVar(&toFiles, "files", false, "write payload files to bench.dataDir instead of Kafka")
	cmd.Flags().IntVar(&count, "count", 0, "messages per topic, overrides emitter.count")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}

func emit(ctx context.Context, cfg config.AppConfig, gen *faker.Generator, topics []string) error {
	producer := kafka.NewProducer(ctx, cfg.Kafka)
	defer producer.Close()

	if codec := producer.Codec(); codec != nil {
		log.Printf("[Fakegen] Registering schemas at %s", cfg.Kafka.SchemaRegistry)
		faker.RegisterSchemas(codec, topics)
	}

	_, err := faker.NewEmitter(gen, producer, faker.EmitterOptions{
		Topics:   topics,
		Interval: cfg.Emitter.Interval,
		Batch:    cfg.Emitter.Batch,
		Count:    cfg.Emitter.Count,
	}).Run(ctx)
	return err
}
