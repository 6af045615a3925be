// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, etc.).
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
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests per minute a single client
	// address may make. Zero disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	// IndexTasksPrefix is joined with the indexing queue name to form the
	// topic deferred reindex tasks are published to.
	IndexTasksPrefix string `yaml:"indexTasksPrefix"`
	AnalyticsEvents  string `yaml:"analyticsEvents"`
}

// IndexTopic returns the topic carrying deferred tasks for the named queue.
func (t KafkaTopics) IndexTopic(queue string) string {
	return t.IndexTasksPrefix + "." + queue
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RetryConfig tunes the backoff used when a write hits an optimistic
// concurrency conflict. MaxAttempts of zero retries until the context ends.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// IndexerConfig controls where index rows live and how reindexing is
// scheduled.
type IndexerConfig struct {
	// Store selects the storage backend: "memory" or "postgres".
	Store string `yaml:"store"`
	// Scheduler selects where deferred tasks go: "local" runs them on an
	// in-process worker pool, "kafka" publishes them for cmd/indexer.
	Scheduler string `yaml:"scheduler"`
	// Queue is the default queue deferred reindex tasks are scheduled on.
	Queue          string        `yaml:"queue"`
	DeferByDefault bool          `yaml:"deferByDefault"`
	Workers        int           `yaml:"workers"`
	TaskTimeout    time.Duration `yaml:"taskTimeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

// SearchConfig controls paging defaults and limits.
type SearchConfig struct {
	DefaultPerPage    int  `yaml:"defaultPerPage"`
	DefaultTotalPages int  `yaml:"defaultTotalPages"`
	MaxPerPage        int  `yaml:"maxPerPage"`
	MaxTotalPages     int  `yaml:"maxTotalPages"`
	CacheEnabled      bool `yaml:"cacheEnabled"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Indexer.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("indexer.store must be memory or postgres, got %q", c.Indexer.Store)
	}
	switch c.Indexer.Scheduler {
	case "local", "kafka":
	default:
		return fmt.Errorf("indexer.scheduler must be local or kafka, got %q", c.Indexer.Scheduler)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if strings.TrimSpace(c.Indexer.Queue) == "" {
		return fmt.Errorf("indexer.queue must not be empty")
	}
	if c.Search.DefaultPerPage <= 0 || c.Search.DefaultTotalPages <= 0 {
		return fmt.Errorf("search.defaultPerPage and search.defaultTotalPages must be positive")
	}
	if c.Search.MaxTotalPages > 0 && c.Search.MaxTotalPages < c.Search.DefaultTotalPages {
		return fmt.Errorf("search.maxTotalPages (%d) is below search.defaultTotalPages (%d)",
			c.Search.MaxTotalPages, c.Search.DefaultTotalPages)
	}
	if c.Search.MaxPerPage < c.Search.DefaultPerPage {
		return fmt.Errorf("search.maxPerPage (%d) is below search.defaultPerPage (%d)",
			c.Search.MaxPerPage, c.Search.DefaultPerPage)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "simplesearch",
			User:            "simplesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "simplesearch-indexers",
			Topics: KafkaTopics{
				IndexTasksPrefix: "index-tasks",
				AnalyticsEvents:  "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			Store:          "memory",
			Scheduler:      "local",
			Queue:          "default",
			DeferByDefault: true,
			Workers:        4,
			TaskTimeout:    5 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:  0,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     time.Second,
			},
		},
		Search: SearchConfig{
			DefaultPerPage:    50,
			DefaultTotalPages: 10,
			MaxPerPage:        500,
			MaxTotalPages:     100,
			CacheEnabled:      true,
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

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEXER_STORE"); v != "" {
		cfg.Indexer.Store = v
	}
	if v := os.Getenv("SP_INDEXER_SCHEDULER"); v != "" {
		cfg.Indexer.Scheduler = v
	}
	if v := os.Getenv("SP_INDEXER_QUEUE"); v != "" {
		cfg.Indexer.Queue = v
	}
	if v := os.Getenv("SP_INDEXER_DEFER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Indexer.DeferByDefault = b
		}
	}
	if v := os.Getenv("SP_INDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Workers = n
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
