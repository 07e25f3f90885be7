// Package config loads process configuration from YAML files with
// environment-variable overrides. It provides typed structs for the searcher
// and indexer services and the infrastructure they talk to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Segments SegmentsConfig `yaml:"segments"`
	Messages MessagesConfig `yaml:"messages"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SegmentsConfig describes the watched segments directory and how changes
// to it are delivered.
type SegmentsConfig struct {
	Dir             string        `yaml:"dir"`
	VersionFile     string        `yaml:"versionFile"`
	CoordinatorMode bool          `yaml:"coordinatorMode"`
	Poll            bool          `yaml:"poll"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	QueueCapacity   int           `yaml:"queueCapacity"`
	DecodeWorkers   int           `yaml:"decodeWorkers"`
}

// VersionPath returns the absolute location of the version-coordination file.
// A relative VersionFile is resolved against Dir.
func (s SegmentsConfig) VersionPath() string {
	if filepath.IsAbs(s.VersionFile) {
		return filepath.Clean(s.VersionFile)
	}
	return filepath.Join(s.Dir, s.VersionFile)
}

// MessagesConfig points at the hot-reloaded application config file.
type MessagesConfig struct {
	Path string `yaml:"path"`
}

// IndexerConfig controls the term index builder and its segment flushes.
// OutputDir defaults to segments.dir; the version file bumped after each
// flush lives there, so the two may not differ.
type IndexerConfig struct {
	OutputDir       string        `yaml:"outputDir"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	InitialCapacity int           `yaml:"initialCapacity"`
	Workers         int           `yaml:"workers"`
}

// SearchConfig controls the query surface.
type SearchConfig struct {
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

// PostgresConfig holds PostgreSQL connection parameters for the segment
// catalog. An empty Host disables the catalog.
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
	TermIngest       string `yaml:"termIngest"`
	SegmentLifecycle string `yaml:"segmentLifecycle"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
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
// overrides on top of the defaults.
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
	if cfg.Indexer.OutputDir == "" {
		cfg.Indexer.OutputDir = cfg.Segments.Dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if c.Segments.Dir == "" {
		return fmt.Errorf("segments.dir is required")
	}
	if c.Segments.QueueCapacity <= 0 {
		return fmt.Errorf("segments.queueCapacity must be positive, got %d", c.Segments.QueueCapacity)
	}
	if c.Segments.Poll && c.Segments.PollInterval <= 0 {
		return fmt.Errorf("segments.pollInterval must be positive when polling")
	}
	if c.Indexer.OutputDir != "" && filepath.Clean(c.Indexer.OutputDir) != filepath.Clean(c.Segments.Dir) {
		return fmt.Errorf("indexer.outputDir %q must match segments.dir %q, searchers watch the version file there",
			c.Indexer.OutputDir, c.Segments.Dir)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Segments: SegmentsConfig{
			Dir:           "/tmp/segments",
			VersionFile:   "version",
			PollInterval:  time.Second,
			QueueCapacity: 1024,
			DecodeWorkers: 4,
		},
		Messages: MessagesConfig{
			Path: "/tmp/configs/config.json",
		},
		Indexer: IndexerConfig{
			FlushInterval:   30 * time.Second,
			InitialCapacity: 200,
			Workers:         4,
		},
		Search: SearchConfig{
			RateLimit: 0,
			Burst:     50,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "hotswap",
			User:            "hotswap",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "hotswap-indexer",
			Topics: KafkaTopics{
				TermIngest:       "term-ingest",
				SegmentLifecycle: "segment-lifecycle",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
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
// corresponding config fields. COORDINATOR_MODE switches coordinator mode on
// by presence alone.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SEGMENTS_DIR"); v != "" {
		cfg.Segments.Dir = v
	}
	if v := os.Getenv("SP_SEGMENTS_VERSION_FILE"); v != "" {
		cfg.Segments.VersionFile = v
	}
	if v := os.Getenv("SP_SEGMENTS_POLL"); v != "" {
		if poll, err := strconv.ParseBool(v); err == nil {
			cfg.Segments.Poll = poll
		}
	}
	if v := os.Getenv("SP_SEGMENTS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Segments.PollInterval = d
		}
	}
	if _, ok := os.LookupEnv("COORDINATOR_MODE"); ok {
		cfg.Segments.CoordinatorMode = true
	}
	if v := os.Getenv("SP_MESSAGES_PATH"); v != "" {
		cfg.Messages.Path = v
	}
	if v := os.Getenv("SP_INDEXER_OUTPUT_DIR"); v != "" {
		cfg.Indexer.OutputDir = v
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
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
