// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for searchd.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`

	// RateLimit is the number of API requests per minute allowed to each
	// client. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables run history.
type PostgresConfig struct {
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

// Enabled reports whether a PostgreSQL host has been configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// KafkaConfig holds Kafka broker and topic settings. No brokers means the
// Kafka-backed features are off.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexBuild   string `yaml:"indexBuild"`
	SearchEvents string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	LocalEntries int           `yaml:"localEntries"`
}

// IndexConfig controls where project indexes live and how code-info files
// are discovered in group builds.
type IndexConfig struct {
	DataDir        string `yaml:"dataDir"`
	CodeInfoGlob   string `yaml:"codeInfoGlob"`
	BuildWorkers   int    `yaml:"buildWorkers"`
	KeepOldSegment bool   `yaml:"keepOldSegment"`

	// RefreshInterval is how often searchd looks for segments written by a
	// separate indexer process. Zero disables polling.
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// SearchConfig controls similarity weights and result limits.
type SearchConfig struct {
	CallWeight      float64       `yaml:"callWeight"`
	FieldWeight     float64       `yaml:"fieldWeight"`
	QueryTopK       int           `yaml:"queryTopK"`
	TopK            int           `yaml:"topK"`
	MaxTopK         int           `yaml:"maxTopK"`
	FilterSelfMatch bool          `yaml:"filterSelfMatch"`
	IncludeLocation bool          `yaml:"includeLocation"`
	BatchTimeout    time.Duration `yaml:"batchTimeout"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects settings the searcher cannot run with.
func (c *Config) Validate() error {
	s := c.Search
	if s.CallWeight < 0 || s.FieldWeight < 0 {
		return fmt.Errorf("invalid search weights: calls=%v fields=%v", s.CallWeight, s.FieldWeight)
	}
	if s.QueryTopK <= 0 {
		return fmt.Errorf("search.queryTopK must be positive, got %d", s.QueryTopK)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("search.topK must be positive, got %d", s.TopK)
	}
	if s.MaxTopK < s.TopK {
		return fmt.Errorf("search.maxTopK (%d) must be >= search.topK (%d)", s.MaxTopK, s.TopK)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "codesearch",
			User:            "codesearch",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "code-usage-search",
			Topics: KafkaTopics{
				IndexBuild:   "index-build",
				SearchEvents: "search-events",
			},
		},
		Redis: RedisConfig{
			PoolSize:     10,
			CacheTTL:     10 * time.Minute,
			LocalEntries: 512,
		},
		Index: IndexConfig{
			DataDir:         "data/index",
			CodeInfoGlob:    "*.json",
			BuildWorkers:    4,
			RefreshInterval: 30 * time.Second,
		},
		Search: SearchConfig{
			CallWeight:      0.6,
			FieldWeight:     0.4,
			QueryTopK:       10,
			TopK:            10,
			MaxTopK:         100,
			FilterSelfMatch: true,
			BatchTimeout:    30 * time.Second,
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

// applyEnvOverrides reads CUS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CUS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CUS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CUS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CUS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CUS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CUS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CUS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CUS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CUS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CUS_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("CUS_SEARCH_CALL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.CallWeight = w
		}
	}
	if v := os.Getenv("CUS_SEARCH_FIELD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.FieldWeight = w
		}
	}
	if v := os.Getenv("CUS_SEARCH_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Search.TopK = k
		}
	}
	if v := os.Getenv("CUS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CUS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
