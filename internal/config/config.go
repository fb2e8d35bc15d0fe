// Package config loads the validator configuration: an optional YAML file,
// then environment overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/netex-crossfile-validator/internal/artifact"
	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
	"github.com/withObsrvr/netex-crossfile-validator/internal/validation"
)

type Config struct {
	Store      StoreConfig       `yaml:"store"`
	Artifacts  artifact.Config   `yaml:"artifacts"`
	Validation validation.Limits `yaml:"validation"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Logging    logging.Config    `yaml:"logging"`
	Metrics    metrics.Config    `yaml:"metrics"`
	ReportDir  string            `yaml:"report_dir"`
}

type StoreConfig struct {
	store.BackendConfig `yaml:",inline"`

	KeyPrefix       string        `yaml:"key_prefix"`
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout" validate:"gte=0"`
	LockLease       time.Duration `yaml:"lock_lease" validate:"gte=0"`
	FactTTL         time.Duration `yaml:"fact_ttl" validate:"gte=0"`

	// CacheSize bounds the read cache in tables; zero disables it.
	CacheSize int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Options returns the store options of c.
func (c StoreConfig) Options() store.Options {
	return store.Options{
		KeyPrefix:       c.KeyPrefix,
		LockWaitTimeout: c.LockWaitTimeout,
		LockLease:       c.LockLease,
		FactTTL:         c.FactTTL,
	}
}

type PipelineConfig struct {
	Workers       int           `yaml:"workers" validate:"gte=1"`
	RetryAttempts int           `yaml:"retry_attempts" validate:"gte=0"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	// JobTimeout bounds a whole validation run; zero means no bound.
	JobTimeout time.Duration `yaml:"job_timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			BackendConfig:   store.BackendConfig{Type: "memory"},
			KeyPrefix:       "netex:",
			LockWaitTimeout: store.DefaultLockWaitTimeout,
			LockLease:       store.DefaultLockLease,
			FactTTL:         store.DefaultFactTTL,
			CacheSize:       64,
			CacheTTL:        time.Minute,
		},
		Artifacts: artifact.Config{
			Backend: "mem",
			Prefix:  "crossfile/",
			TTL:     artifact.DefaultTTL,
		},
		Validation: validation.DefaultLimits(),
		Pipeline: PipelineConfig{
			Workers:       4,
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
		},
		Logging:   logging.Config{Format: "text", Level: "info"},
		Metrics:   metrics.Config{Address: ":9090"},
		ReportDir: "./reports",
	}
}

// Load reads path when non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// MustLoad loads the file named by CONFIG_FILE, if any, and exits on error.
func MustLoad() Config {
	log.Println("[config] loading")
	cfg, err := Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("STORE_TYPE", &cfg.Store.Type)
	str("STORE_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	str("STORE_SQLITE_PATH", &cfg.Store.SQLitePath)
	str("STORE_KEY_PREFIX", &cfg.Store.KeyPrefix)
	duration("STORE_LOCK_WAIT_TIMEOUT", &cfg.Store.LockWaitTimeout)
	duration("STORE_LOCK_LEASE", &cfg.Store.LockLease)
	duration("STORE_FACT_TTL", &cfg.Store.FactTTL)
	integer("STORE_CACHE_SIZE", &cfg.Store.CacheSize)
	duration("STORE_CACHE_TTL", &cfg.Store.CacheTTL)

	str("ARTIFACT_BACKEND", &cfg.Artifacts.Backend)
	str("ARTIFACT_LOCAL_DIR", &cfg.Artifacts.LocalDir)
	str("ARTIFACT_GCS_BUCKET", &cfg.Artifacts.GCSBucket)
	str("ARTIFACT_S3_BUCKET", &cfg.Artifacts.S3Bucket)
	str("ARTIFACT_S3_ENDPOINT", &cfg.Artifacts.S3Endpoint)
	str("ARTIFACT_S3_REGION", &cfg.Artifacts.S3Region)
	str("ARTIFACT_PREFIX", &cfg.Artifacts.Prefix)
	duration("ARTIFACT_TTL", &cfg.Artifacts.TTL)

	integer("PIPELINE_WORKERS", &cfg.Pipeline.Workers)
	integer("PIPELINE_RETRY_ATTEMPTS", &cfg.Pipeline.RetryAttempts)
	duration("PIPELINE_RETRY_BACKOFF", &cfg.Pipeline.RetryBackoff)
	duration("PIPELINE_JOB_TIMEOUT", &cfg.Pipeline.JobTimeout)

	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_LEVEL", &cfg.Logging.Level)

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	str("METRICS_ADDRESS", &cfg.Metrics.Address)

	str("REPORT_DIR", &cfg.ReportDir)

	return errors.Join(errs...)
}
