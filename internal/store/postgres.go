package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
)

//go:embed postgres_schema.sql
var postgresSchemaSQL string

// PostgresBackend keeps facts in a PostgreSQL table and serializes merges
// with session advisory locks. A lock dies with its session, so a crashed
// worker never blocks a job for longer than the server takes to notice.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresBackend connects to dsn and creates the schema if needed.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Each lock holder pins one connection.
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger := logging.Component("store.postgres")
	logger.Info("connected to PostgreSQL fact store")
	return &PostgresBackend{pool: pool, logger: logger}, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, `
		SELECT value FROM crossfile_facts
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := b.pool.Exec(ctx, `
		INSERT INTO crossfile_facts (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = NOW()
	`, key, value, expiresAt)
	return err
}

func (b *PostgresBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM crossfile_facts WHERE left(key, length($1::text)) = $1::text
	`, prefix)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Lock takes pg_advisory_lock on a hash of key, holding a pooled connection
// until release. lease is not used.
func (b *PostgresBackend) Lock(ctx context.Context, key string, lease time.Duration) (func(context.Context) error, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		// The session may or may not hold the lock; dropping it releases
		// whatever it holds.
		b.discard(conn)
		return nil, err
	}

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true

		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			b.discard(conn)
			return fmt.Errorf("advisory unlock: %w", err)
		}
		conn.Release()
		return nil
	}, nil
}

func (b *PostgresBackend) discard(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Hijack().Close(ctx); err != nil {
		logging.LogError(b.logger, "failed to close lock connection", err)
	}
}

func (b *PostgresBackend) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM crossfile_facts WHERE expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
