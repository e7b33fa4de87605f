// Package models defines data structures for configuration and lookup results.
package models

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestsPerMinute = 150
	DefaultWorkerCount       = 8
	DefaultMaxRetries        = 5
	DefaultBatchCommitSize   = 500
	DefaultQueueCapacity     = 5000
	DefaultChunkSize         = 200000
	DefaultDrainSlice        = 200
	DefaultStatusInterval    = 200 * time.Millisecond

	DefaultEndpoint    = "https://api.virtualstock.com/restapi/v4/orders/"
	DefaultTimeout     = 10 * time.Second
	DefaultBackoffBase = 1500 * time.Millisecond
	DefaultMaxBackoff  = 60 * time.Second

	BackoffLinear      = "linear"
	BackoffExponential = "exponential"

	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	envPrefix = "SKU_CHECKER_"
)

// Config is the full runtime configuration, loaded from YAML and then
// overridden by environment variables and CLI flags.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Auth     AuthConfig     `yaml:"auth"`
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
}

// PipelineConfig sizes the concurrent pipeline.
type PipelineConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	WorkerCount       int           `yaml:"worker_count"`
	MaxRetries        int           `yaml:"max_retries"`
	BatchCommitSize   int           `yaml:"batch_commit_size"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	ChunkSize         int           `yaml:"chunk_size"`
	DrainSlice        int           `yaml:"drain_slice"`
	StatusInterval    time.Duration `yaml:"status_interval"`
}

// LookupConfig describes the remote order endpoint.
type LookupConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Method      string        `yaml:"method"`
	Headers     []string      `yaml:"headers"` // "Name: value" lines
	Limit       string        `yaml:"limit"`
	Offset      string        `yaml:"offset"`
	Sort        string        `yaml:"sort,omitempty"`   // omitted from the query when empty
	Status      string        `yaml:"status,omitempty"` // omitted from the query when empty
	Timeout     time.Duration `yaml:"timeout"`
	Backoff     string        `yaml:"backoff"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// AuthConfig holds credentials for the remote endpoint.
type AuthConfig struct {
	Type     string `yaml:"type"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// SourceConfig names the CSV columns to read.
type SourceConfig struct {
	KeyColumn string `yaml:"key_column"`
	QtyColumn string `yaml:"qty_column"`
}

// DatabaseConfig selects the result store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"` // sqlite file; empty means next to the executable
	URL    string `yaml:"url,omitempty"`  // postgres connection string
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			RequestsPerMinute: DefaultRequestsPerMinute,
			WorkerCount:       DefaultWorkerCount,
			MaxRetries:        DefaultMaxRetries,
			BatchCommitSize:   DefaultBatchCommitSize,
			QueueCapacity:     DefaultQueueCapacity,
			ChunkSize:         DefaultChunkSize,
			DrainSlice:        DefaultDrainSlice,
			StatusInterval:    DefaultStatusInterval,
		},
		Lookup: LookupConfig{
			Endpoint:    DefaultEndpoint,
			Method:      "GET",
			Headers:     []string{"Content-Type: application/json"},
			Limit:       "1",
			Offset:      "0",
			Sort:        "desc",
			Status:      "ORDER_ACK",
			Timeout:     DefaultTimeout,
			Backoff:     BackoffLinear,
			BackoffBase: DefaultBackoffBase,
			MaxBackoff:  DefaultMaxBackoff,
		},
		Auth: AuthConfig{Type: AuthNone},
		Source: SourceConfig{
			KeyColumn: "sku",
			QtyColumn: "stock_qty",
		},
		Database: DatabaseConfig{Driver: DriverSQLite},
	}
}

// LoadConfig reads a YAML config on top of the defaults, then applies
// environment overrides. A .env file in the working directory is loaded
// first when present. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Pipeline.RequestsPerMinute = getEnvInt("RPM", c.Pipeline.RequestsPerMinute)
	c.Pipeline.WorkerCount = getEnvInt("WORKERS", c.Pipeline.WorkerCount)
	c.Pipeline.MaxRetries = getEnvInt("MAX_RETRIES", c.Pipeline.MaxRetries)
	c.Lookup.Endpoint = getEnv("ENDPOINT", c.Lookup.Endpoint)
	c.Auth.Type = getEnv("AUTH_TYPE", c.Auth.Type)
	c.Auth.Username = getEnv("USERNAME", c.Auth.Username)
	c.Auth.Password = getEnv("PASSWORD", c.Auth.Password)
	c.Auth.Token = getEnv("TOKEN", c.Auth.Token)
	c.Auth.APIKey = getEnv("API_KEY", c.Auth.APIKey)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
}

// Normalize fills zero values with defaults and clamps the request rate.
// A rate of zero or below becomes 1 request per minute.
func (c *Config) Normalize() {
	if c.Pipeline.RequestsPerMinute <= 0 {
		c.Pipeline.RequestsPerMinute = 1
	}
	if c.Pipeline.DrainSlice <= 0 {
		c.Pipeline.DrainSlice = DefaultDrainSlice
	}
	if c.Pipeline.StatusInterval <= 0 {
		c.Pipeline.StatusInterval = DefaultStatusInterval
	}
	if c.Lookup.Method == "" {
		c.Lookup.Method = "GET"
	}
	c.Lookup.Method = strings.ToUpper(c.Lookup.Method)
	if c.Lookup.Timeout <= 0 {
		c.Lookup.Timeout = DefaultTimeout
	}
	if c.Lookup.Backoff == "" {
		c.Lookup.Backoff = BackoffLinear
	}
	if c.Lookup.BackoffBase <= 0 {
		c.Lookup.BackoffBase = DefaultBackoffBase
	}
	if c.Lookup.MaxBackoff <= 0 {
		c.Lookup.MaxBackoff = DefaultMaxBackoff
	}
	if c.Auth.Type == "" {
		c.Auth.Type = AuthNone
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.RequestsPerMinute < 1:
		return fmt.Errorf("requests_per_minute must be >= 1, got %d", p.RequestsPerMinute)
	case p.WorkerCount < 1:
		return fmt.Errorf("worker_count must be >= 1, got %d", p.WorkerCount)
	case p.MaxRetries < 0:
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	case p.BatchCommitSize < 1:
		return fmt.Errorf("batch_commit_size must be >= 1, got %d", p.BatchCommitSize)
	case p.QueueCapacity < 1:
		return fmt.Errorf("queue_capacity must be >= 1, got %d", p.QueueCapacity)
	case p.ChunkSize < 1:
		return fmt.Errorf("chunk_size must be >= 1, got %d", p.ChunkSize)
	}

	u, err := url.Parse(c.Lookup.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint: %q", c.Lookup.Endpoint)
	}

	switch c.Lookup.Backoff {
	case BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q (want %s or %s)", c.Lookup.Backoff, BackoffLinear, BackoffExponential)
	}

	switch c.Auth.Type {
	case AuthNone, AuthBasic, AuthBearer, AuthAPIKey:
	default:
		return fmt.Errorf("unknown auth type %q", c.Auth.Type)
	}

	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
