package store

import (
	"context"
	"fmt"
	"time"
)

// Backend is the key-value service under a Store. Implementations must be
// safe for concurrent use, and Lock must exclude holders in other processes
// sharing the same backend.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Get returns the value of key. found is false when the key is absent or
	// expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. A positive ttl expires the key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Lock blocks until the advisory lock on key is held or ctx is done.
	// The returned function releases it and must be called exactly once.
	// lease bounds how long the lock survives a holder that never releases,
	// where the backend supports it.
	Lock(ctx context.Context, key string, lease time.Duration) (unlock func(context.Context) error, err error)

	// PurgeExpired removes keys whose TTL has elapsed.
	PurgeExpired(ctx context.Context) (int, error)

	Close() error
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Type        string `yaml:"type" validate:"required,oneof=memory postgres sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Type postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Type sqlite"`
}

// OpenBackend creates the backend named by cfg.Type.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "postgres":
		return NewPostgresBackend(ctx, cfg.PostgresDSN)
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Type)
	}
}

// Open creates a Store over the backend described by cfg.
func Open(ctx context.Context, cfg BackendConfig, opts Options) (*Store, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(backend, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}
