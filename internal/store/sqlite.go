package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

const (
	sqliteLockPollMin = 5 * time.Millisecond
	sqliteLockPollMax = 200 * time.Millisecond
)

// SQLiteBackend keeps facts in a SQLite file shared by the worker processes
// of one host. Locks are rows in the locks table carrying an owner token and
// a lease expiry; an expired row may be taken over by another process.
type SQLiteBackend struct {
	db      *sql.DB
	writeMu sync.Mutex // one writer at a time within this process
	now     func() time.Time
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps this process from
	// competing with itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logging.Component("store.sqlite").Info("opened SQLite fact store", "path", path)
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) millis() int64 { return b.now().UnixMilli() }

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT value FROM facts
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, b.millis()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.millis()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now + ttl.Milliseconds(), Valid: true}
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO facts (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, expiresAt, now)
	return err
}

func (b *SQLiteBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	res, err := b.db.ExecContext(ctx, `
		DELETE FROM facts WHERE substr(key, 1, ?) = ?
	`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Lock polls the locks table with exponential backoff until it owns the row
// for key.
func (b *SQLiteBackend) Lock(ctx context.Context, key string, lease time.Duration) (func(context.Context) error, error) {
	owner := uuid.NewString()
	wait := sqliteLockPollMin
	for {
		ok, err := b.tryLock(ctx, key, owner, lease)
		if err != nil {
			return nil, err
		}
		if ok {
			stop := b.keepAlive(ctx, key, owner, lease)
			var once sync.Once
			var unlockErr error
			return func(ctx context.Context) error {
				once.Do(func() {
					stop()
					unlockErr = b.unlock(ctx, key, owner)
				})
				return unlockErr
			}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > sqliteLockPollMax {
			wait = sqliteLockPollMax
		}
	}
}

func (b *SQLiteBackend) tryLock(ctx context.Context, key, owner string, lease time.Duration) (bool, error) {
	now := b.millis()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	// Take over an expired lease, otherwise insert only if free.
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO locks (key, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?
	`, key, owner, now+lease.Milliseconds(), now)
	if err != nil {
		if isBusy(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepAlive extends the lease of a held lock every third of the lease until
// the returned stop function is called. ctx only bounds waiting for the
// lock, so renewals run detached from it.
func (b *SQLiteBackend) keepAlive(ctx context.Context, key, owner string, lease time.Duration) (stop func()) {
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	exited := make(chan struct{})
	log := logging.Component("store.sqlite")

	go func() {
		defer close(exited)
		ticker := time.NewTicker(lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := b.renew(ctx, key, owner, lease); err != nil {
					log.Warn("lock lease renewal failed", "key", key, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (b *SQLiteBackend) renew(ctx context.Context, key, owner string, lease time.Duration) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_, err := b.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = ? WHERE key = ? AND owner = ?
	`, b.millis()+lease.Milliseconds(), key, owner)
	return err
}

func (b *SQLiteBackend) unlock(ctx context.Context, key, owner string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND owner = ?`, key, owner)
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (b *SQLiteBackend) PurgeExpired(ctx context.Context) (int, error) {
	now := b.millis()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	res, err := b.db.ExecContext(ctx, `
		DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now)
	if err != nil {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE expires_at <= ?`, now); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
