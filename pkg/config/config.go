// Package config loads and validates configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Index, Text, Regex, Vector, Search, Cache, Ingest, Kafka, Redis,
// Postgres, Logging, Metrics). Config values are passed into constructors;
// nothing here is global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Text     TextConfig     `yaml:"text"`
	Regex    RegexConfig    `yaml:"regex"`
	Vector   VectorConfig   `yaml:"vector"`
	Search   SearchConfig   `yaml:"search"`
	Cache    CacheConfig    `yaml:"cache"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// IndexConfig controls on-disk index layout, document limits, commit cadence
// and the segment merge policy.
type IndexConfig struct {
	DataDir                string        `yaml:"dataDir"`
	MaxDocumentSize        int           `yaml:"maxDocumentSize"`
	CommitInterval         time.Duration `yaml:"commitInterval"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
}

// TextConfig controls lexical matching.
type TextConfig struct {
	FuzzyMaxEdits int `yaml:"fuzzyMaxEdits"`
	SnippetLength int `yaml:"snippetLength"`
}

// RegexConfig bounds the cost of caller-supplied patterns.
type RegexConfig struct {
	ComplexityCeiling     int           `yaml:"complexityCeiling"`
	MaxPatternLength      int           `yaml:"maxPatternLength"`
	DocumentTimeout       time.Duration `yaml:"documentTimeout"`
	PatternCacheSize      int           `yaml:"patternCacheSize"`
	MaxMatchesPerDocument int           `yaml:"maxMatchesPerDocument"`
}

// VectorConfig controls similarity search.
type VectorConfig struct {
	Dimensions          int     `yaml:"dimensions"`
	Metric              string  `yaml:"metric"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	Approximate         bool    `yaml:"approximate"`
	HNSWM               int     `yaml:"hnswM"`
	HNSWEfSearch        int     `yaml:"hnswEfSearch"`
}

// SearchConfig controls query execution limits, timeouts and score fusion.
type SearchConfig struct {
	DefaultLimit   int                `yaml:"defaultLimit"`
	MaxResults     int                `yaml:"maxResults"`
	DefaultTimeout time.Duration      `yaml:"defaultTimeout"`
	Workers        int                `yaml:"workers"`
	Normalization  string             `yaml:"normalization"`
	Weights        map[string]float64 `yaml:"weights"`
}

// CacheConfig controls the query result cache.
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// IngestConfig throttles batch ingestion.
type IngestConfig struct {
	MaxConcurrency int `yaml:"maxConcurrency"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables the Kafka adapters.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection parameters for the redis cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// PostgresConfig holds PostgreSQL connection parameters for ingestion status
// tracking.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development and
// tests.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			DataDir:                "data/index",
			MaxDocumentSize:        4 << 20,
			CommitInterval:         5 * time.Second,
			MergeInterval:          time.Minute,
			MaxSegmentsBeforeMerge: 8,
		},
		Text: TextConfig{
			FuzzyMaxEdits: 1,
			SnippetLength: 160,
		},
		Regex: RegexConfig{
			ComplexityCeiling:     64,
			MaxPatternLength:      512,
			DocumentTimeout:       50 * time.Millisecond,
			PatternCacheSize:      256,
			MaxMatchesPerDocument: 1000,
		},
		Vector: VectorConfig{
			Metric:              "cosine",
			SimilarityThreshold: 0,
			HNSWM:               16,
			HNSWEfSearch:        20,
		},
		Search: SearchConfig{
			DefaultLimit:   10,
			MaxResults:     100,
			DefaultTimeout: 5 * time.Second,
			Workers:        8,
			Normalization:  "minmax",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        60 * time.Second,
			MaxEntries: 1024,
		},
		Ingest: IngestConfig{
			MaxConcurrency: 16,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "content-search-core",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "csc:",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "contentsearch",
			User:            "contentsearch",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate reports the first configuration value that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Index.DataDir == "":
		return fmt.Errorf("index.dataDir is required")
	case c.Index.MaxDocumentSize <= 0:
		return fmt.Errorf("index.maxDocumentSize must be positive, got %d", c.Index.MaxDocumentSize)
	case c.Text.FuzzyMaxEdits < 0:
		return fmt.Errorf("text.fuzzyMaxEdits must not be negative, got %d", c.Text.FuzzyMaxEdits)
	case c.Regex.ComplexityCeiling <= 0:
		return fmt.Errorf("regex.complexityCeiling must be positive, got %d", c.Regex.ComplexityCeiling)
	case c.Regex.DocumentTimeout <= 0:
		return fmt.Errorf("regex.documentTimeout must be positive, got %v", c.Regex.DocumentTimeout)
	case c.Regex.PatternCacheSize <= 0:
		return fmt.Errorf("regex.patternCacheSize must be positive, got %d", c.Regex.PatternCacheSize)
	case c.Vector.Dimensions < 0:
		return fmt.Errorf("vector.dimensions must not be negative, got %d", c.Vector.Dimensions)
	case c.Vector.Metric != "cosine" && c.Vector.Metric != "dot":
		return fmt.Errorf("vector.metric must be cosine or dot, got %q", c.Vector.Metric)
	case c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit:
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	case c.Search.DefaultTimeout <= 0:
		return fmt.Errorf("search.defaultTimeout must be positive, got %v", c.Search.DefaultTimeout)
	case c.Search.Workers <= 0:
		return fmt.Errorf("search.workers must be positive, got %d", c.Search.Workers)
	case c.Search.Normalization != "minmax" && c.Search.Normalization != "none":
		return fmt.Errorf("search.normalization must be minmax or none, got %q", c.Search.Normalization)
	case c.Cache.Backend != "memory" && c.Cache.Backend != "redis" && c.Cache.Backend != "none":
		return fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend)
	case c.Cache.MaxEntries <= 0:
		return fmt.Errorf("cache.maxEntries must be positive, got %d", c.Cache.MaxEntries)
	case c.Ingest.MaxConcurrency <= 0:
		return fmt.Errorf("ingest.maxConcurrency must be positive, got %d", c.Ingest.MaxConcurrency)
	}
	return nil
}

// applyEnvOverrides reads CSC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSC_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("CSC_INDEX_MAX_DOCUMENT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.MaxDocumentSize = n
		}
	}
	if v := os.Getenv("CSC_INDEX_COMMIT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Index.CommitInterval = d
		}
	}
	if v := os.Getenv("CSC_REGEX_COMPLEXITY_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Regex.ComplexityCeiling = n
		}
	}
	if v := os.Getenv("CSC_REGEX_DOCUMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Regex.DocumentTimeout = d
		}
	}
	if v := os.Getenv("CSC_VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Dimensions = n
		}
	}
	if v := os.Getenv("CSC_VECTOR_METRIC"); v != "" {
		cfg.Vector.Metric = v
	}
	if v := os.Getenv("CSC_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CSC_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CSC_INGEST_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.MaxConcurrency = n
		}
	}
	if v := os.Getenv("CSC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CSC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CSC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CSC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CSC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CSC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CSC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CSC_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
