package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tianqiongenze/StreamingBench/pkg/topic"
)

// Named type to allow reuse and clearer code
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	ConsumerGroup  string   `yaml:"consumerGroup"`
	SchemaRegistry string   `yaml:"schemaRegistry"`
	UseAvro        bool     `yaml:"useAvro"`
	StartOffset    string   `yaml:"startOffset"` // earliest | latest
}

type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
}

type BenchConfig struct {
	TimeType           string        `yaml:"timeType"`
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
	Topics             string        `yaml:"topics"` // used when a query has no entry in Queries
	SQLLocation        string        `yaml:"sqlLocation"`
	ResultLocation     string        `yaml:"resultLocation"`
	Source             string        `yaml:"source"` // kafka | file
	DataDir            string        `yaml:"dataDir"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
	MaxDuration        time.Duration `yaml:"maxDuration"`
}

type EngineConfig struct {
	DuckDBPath        string        `yaml:"duckdbPath"` // empty means in-memory
	FlushSize         int           `yaml:"flushSize"`
	FlushInterval     time.Duration `yaml:"flushInterval"`
	WatermarkInterval time.Duration `yaml:"watermarkInterval"`
	PrintRows         int           `yaml:"printRows"`
}

type AppConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	Bench BenchConfig `yaml:"bench"`

	// Queries maps a query file name to the comma separated topics it reads.
	Queries map[string]string `yaml:"queries"`

	Engine EngineConfig `yaml:"engine"`

	State struct {
		Path string `yaml:"path"`
	} `yaml:"state"`

	Results struct {
		S3 S3Config `yaml:"s3"`
	} `yaml:"results"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Emitter struct {
		Interval time.Duration `yaml:"interval"`
		Count    int           `yaml:"count"` // per topic, 0 runs until interrupted
		Batch    int           `yaml:"batch"` // messages per topic per interval
		Jitter   time.Duration `yaml:"jitter"`
		Topics   string        `yaml:"topics"`
	} `yaml:"emitter"`
}

// Source kinds.
const (
	SourceKafka = "kafka"
	SourceFile  = "file"
)

func defaults() AppConfig {
	var cfg AppConfig
	cfg.Kafka.ConsumerGroup = "streambench"
	cfg.Kafka.StartOffset = "latest"
	cfg.Bench.TimeType = "EventTime"
	cfg.Bench.CheckpointInterval = 5 * time.Second
	cfg.Bench.SQLLocation = "query"
	cfg.Bench.ResultLocation = "result"
	cfg.Bench.Source = SourceKafka
	cfg.Bench.DataDir = "data"
	cfg.Engine.FlushSize = 1000
	cfg.Engine.FlushInterval = 1 * time.Second
	cfg.Engine.WatermarkInterval = 200 * time.Millisecond
	cfg.Engine.PrintRows = 20
	cfg.State.Path = "state"
	cfg.Emitter.Interval = 1 * time.Second
	cfg.Emitter.Batch = 100
	cfg.Emitter.Jitter = 2 * time.Second
	cfg.Emitter.Topics = "shopping,click,imp,dau,userVisit"
	return cfg
}

// Load reads and parses a YAML config file into an AppConfig struct.
// It will terminate the program if the file is not found or invalid.
func Load(path string) AppConfig {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Fatalf("Config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		log.Fatalf("Error parsing config file: %v", err)
	}

	return cfg
}

// Parse decodes data over the defaults. Relative directories are resolved
// against baseDir, the directory holding the config file.
func Parse(data []byte, baseDir string) (AppConfig, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, err
	}

	cfg.Bench.SQLLocation = resolve(baseDir, cfg.Bench.SQLLocation)
	cfg.Bench.ResultLocation = resolve(baseDir, cfg.Bench.ResultLocation)
	cfg.Bench.DataDir = resolve(baseDir, cfg.Bench.DataDir)
	cfg.State.Path = resolve(baseDir, cfg.State.Path)

	return cfg, nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// TopicsFor returns the topics a query reads, falling back to bench.topics.
func (c AppConfig) TopicsFor(queryName string) []string {
	if csv, ok := c.Queries[queryName]; ok {
		return topic.ParseList(csv)
	}
	return topic.ParseList(c.Bench.Topics)
}

// Validate reports settings that cannot work together.
func (c AppConfig) Validate() error {
	switch c.Bench.Source {
	case SourceKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
	case SourceFile:
		if c.Bench.DataDir == "" {
			return fmt.Errorf("bench.dataDir is required for the file source")
		}
	default:
		return fmt.Errorf("unknown bench.source %q", c.Bench.Source)
	}

	if c.Kafka.UseAvro && c.Kafka.SchemaRegistry == "" {
		return fmt.Errorf("schema registry is required when using Avro")
	}

	if c.Kafka.StartOffset != "earliest" && c.Kafka.StartOffset != "latest" {
		return fmt.Errorf("kafka.startOffset must be earliest or latest, got %q", c.Kafka.StartOffset)
	}

	if c.Results.S3.Enabled && c.Results.S3.Bucket == "" {
		return fmt.Errorf("results.s3.bucket is required when S3 archiving is enabled")
	}

	if c.Engine.FlushSize <= 0 {
		return fmt.Errorf("engine.flushSize must be positive")
	}

	return nil
}
