// Package config loads service configuration from .env, the environment and
// an optional YAML file named by BILLING_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProcessedPostgres = "postgres"
	ProcessedRedis    = "redis"
	ProcessedNone     = "none"

	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// Config is the full service configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	HTTPAddr        string        `yaml:"http_addr"`
	StoreDriver     string        `yaml:"store_driver"`
	Currency        string        `yaml:"currency"`
	AlertWebhookURL string        `yaml:"alert_webhook_url"`
	JWTSecret       string        `yaml:"-"`
	Log             LogConfig     `yaml:"log"`
	Processed       ProcessedConf `yaml:"processed"`
	Cache           CacheConfig   `yaml:"subscription_cache"`
	Dispatch        DispatchConf  `yaml:"dispatch"`
	Rollover        RolloverConf  `yaml:"rollover"`
	Archive         ArchiveConfig `yaml:"archive"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProcessedConf selects the consumer idempotency store.
type ProcessedConf struct {
	Store     string        `yaml:"store"`
	RedisURL  string        `yaml:"redis_url"`
	TTL       time.Duration `yaml:"ttl"`
	Retention time.Duration `yaml:"retention"`
}

// CacheConfig sizes the subscription resolver cache. TTL 0 disables it.
type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

// DispatchConf tunes the outbox dispatcher.
type DispatchConf struct {
	Interval    time.Duration `yaml:"interval"`
	Batch       int           `yaml:"batch"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// RolloverConf schedules cycle rollover.
type RolloverConf struct {
	Schedule        string `yaml:"schedule"`
	CycleLengthDays int    `yaml:"cycle_length_days"`
	Batch           int    `yaml:"batch"`
}

// ArchiveConfig selects where closed-cycle statements are stored.
type ArchiveConfig struct {
	Provider  string   `yaml:"provider"`
	LocalPath string   `yaml:"local_path"`
	S3        S3Config `yaml:"s3"`
}

// S3Config locates an S3-compatible bucket. Credentials come from the environment only.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// Load reads configuration. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		StoreDriver:     getenvDefault("STORE_DRIVER", DriverPostgres),
		Currency:        getenvDefault("CURRENCY", "BRL"),
		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		Log: LogConfig{
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Format: getenvDefault("LOG_FORMAT", "json"),
		},
		Processed: ProcessedConf{
			Store:     getenvDefault("PROCESSED_STORE", ProcessedPostgres),
			RedisURL:  os.Getenv("REDIS_URL"),
			TTL:       getenvDuration("PROCESSED_TTL", 7*24*time.Hour),
			Retention: getenvDuration("PROCESSED_RETENTION", 30*24*time.Hour),
		},
		Cache: CacheConfig{
			TTL:  getenvDuration("SUBSCRIPTION_CACHE_TTL", 30*time.Second),
			Size: getenvIntDefault("SUBSCRIPTION_CACHE_SIZE", 1024),
		},
		Dispatch: DispatchConf{
			Interval:    getenvDuration("DISPATCH_INTERVAL", time.Second),
			Batch:       getenvIntDefault("DISPATCH_BATCH", 100),
			MaxAttempts: getenvIntDefault("DISPATCH_MAX_ATTEMPTS", 5),
		},
		Rollover: RolloverConf{
			Schedule:        getenvDefault("ROLLOVER_SCHEDULE", "5 0 * * *"),
			CycleLengthDays: getenvIntDefault("CYCLE_LENGTH_DAYS", 30),
			Batch:           getenvIntDefault("ROLLOVER_BATCH", 500),
		},
		Archive: ArchiveConfig{
			Provider:  getenvDefault("ARCHIVE_PROVIDER", ArchiveNone),
			LocalPath: getenvDefault("ARCHIVE_LOCAL_PATH", "var/statements"),
			S3: S3Config{
				Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
				Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
				Region:          getenvDefault("ARCHIVE_S3_REGION", "auto"),
				AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
			},
		},
	}

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.Processed.Store = strings.ToLower(strings.TrimSpace(cfg.Processed.Store))
	cfg.Archive.Provider = strings.ToLower(strings.TrimSpace(cfg.Archive.Provider))
	if cfg.StoreDriver == DriverMemory && cfg.Processed.Store == ProcessedPostgres {
		cfg.Processed.Store = ProcessedNone
	}
	return cfg, cfg.Validate()
}

// Validate checks settings every command needs.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL or PG_DSN is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Processed.Store {
	case ProcessedPostgres:
		if c.StoreDriver != DriverPostgres {
			errs = append(errs, errors.New("config: postgres processed store needs the postgres driver"))
		}
	case ProcessedRedis:
		if c.Processed.RedisURL == "" {
			errs = append(errs, errors.New("config: REDIS_URL is required for the redis processed store"))
		}
	case ProcessedNone:
	default:
		errs = append(errs, fmt.Errorf("config: unknown PROCESSED_STORE %q", c.Processed.Store))
	}

	switch c.Archive.Provider {
	case ArchiveNone:
	case ArchiveLocal:
		if c.Archive.LocalPath == "" {
			errs = append(errs, errors.New("config: ARCHIVE_LOCAL_PATH is required for the local archive"))
		}
	case ArchiveS3:
		if c.Archive.S3.Bucket == "" || c.Archive.S3.AccessKeyID == "" || c.Archive.S3.SecretAccessKey == "" {
			errs = append(errs, errors.New("config: s3 archive needs bucket and credentials"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown ARCHIVE_PROVIDER %q", c.Archive.Provider))
	}

	if c.Rollover.CycleLengthDays <= 0 {
		errs = append(errs, errors.New("config: CYCLE_LENGTH_DAYS must be positive"))
	}
	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("config: DISPATCH_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateServe adds the checks only the HTTP server needs.
func (c Config) ValidateServe() error {
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
