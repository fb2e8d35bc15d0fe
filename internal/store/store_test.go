package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

var (
	unionKind     = Kind{Name: "interchanges", Policy: LastWins}
	keepFirstKind = Kind{Name: "active-dates", Policy: KeepFirst}
)

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type backendFactory func(t *testing.T) Backend

func testBackends(t *testing.T) map[string]backendFactory {
	t.Helper()
	factories := map[string]backendFactory{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "facts.db"))
			require.NoError(t, err)
			return b
		},
	}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Backend {
			b, err := NewPostgresBackend(context.Background(), dsn)
			require.NoError(t, err)
			return b
		}
	}
	return factories
}

// forEachBackend runs fn against a fresh Store per backend. Each run uses its
// own key prefix so a shared postgres database stays isolated.
func forEachBackend(t *testing.T, opts Options, fn func(t *testing.T, s *Store)) {
	for name, factory := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			o := opts
			o.KeyPrefix = fmt.Sprintf("test-%d:", time.Now().UnixNano())
			s, err := New(factory(t), o)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func TestReadMissingTableIsEmpty(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		table, err := s.Read(context.Background(), "job-none", unionKind)
		require.NoError(t, err)
		assert.NotNil(t, table)
		assert.Empty(t, table)
	})
}

func TestConcurrentMergesLoseNoUpdates(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job-union")
		const writers = 16

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				partial := Table{
					fmt.Sprintf("line-%02d.xml#IC:%d", i, i):     raw(i),
					fmt.Sprintf("line-%02d.xml#IC:%d", i, i+100): raw(i + 100),
				}
				errs <- s.Merge(ctx, job, unionKind, partial)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		table, err := s.Read(ctx, job, unionKind)
		require.NoError(t, err)
		assert.Len(t, table, writers*2)
	})
}

func TestKeepFirstOnCollision(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job-keep-first")

		require.NoError(t, s.Merge(ctx, job, keepFirstKind, Table{"DayType:1": raw([]string{"2024-01-01"})}))
		require.NoError(t, s.Merge(ctx, job, keepFirstKind, Table{
			"DayType:1": raw([]string{"2024-02-02"}),
			"DayType:2": raw([]string{"2024-01-03"}),
		}))

		table, err := s.Read(ctx, job, keepFirstKind)
		require.NoError(t, err)
		assert.JSONEq(t, `["2024-01-01"]`, string(table["DayType:1"]))
		assert.JSONEq(t, `["2024-01-03"]`, string(table["DayType:2"]))
	})
}

func TestLastWinsReplacesValue(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job-last-wins")

		require.NoError(t, s.Merge(ctx, job, unionKind, Table{"a.xml#IC:1": raw("old")}))
		require.NoError(t, s.Merge(ctx, job, unionKind, Table{"a.xml#IC:1": raw("new")}))

		table, err := s.Read(ctx, job, unionKind)
		require.NoError(t, err)
		assert.JSONEq(t, `"new"`, string(table["a.xml#IC:1"]))
	})
}

func TestConcurrentKeepFirstKeepsExactlyOneValue(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job-contended")
		const writers = 8

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Merge(ctx, job, keepFirstKind, Table{
					"DayType:shared":             raw(i),
					fmt.Sprintf("DayType:%d", i): raw(i),
				}))
			}(i)
		}
		wg.Wait()

		table, err := s.Read(ctx, job, keepFirstKind)
		require.NoError(t, err)
		assert.Len(t, table, writers+1)

		var winner int
		require.NoError(t, json.Unmarshal(table["DayType:shared"], &winner))
		assert.GreaterOrEqual(t, winner, 0)
		assert.Less(t, winner, writers)

		// Later merges never displace the winner.
		require.NoError(t, s.Merge(ctx, job, keepFirstKind, Table{"DayType:shared": raw(999)}))
		table, err = s.Read(ctx, job, keepFirstKind)
		require.NoError(t, err)
		assert.JSONEq(t, string(raw(winner)), string(table["DayType:shared"]))
	})
}

func TestCleanupIsIdempotentAndScopedToJob(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job:a")
		other := ids.ValidationJobID("job:a:b")

		require.NoError(t, s.Merge(ctx, job, unionKind, Table{"x#1": raw(1)}))
		require.NoError(t, s.Merge(ctx, job, keepFirstKind, Table{"DayType:1": raw(1)}))
		require.NoError(t, s.MarkPhase(ctx, job, PhaseCommon))
		require.NoError(t, s.Merge(ctx, other, unionKind, Table{"y#1": raw(1)}))

		for i := 0; i < 3; i++ {
			require.NoError(t, s.Cleanup(ctx, job))
		}

		for _, kind := range []Kind{unionKind, keepFirstKind} {
			table, err := s.Read(ctx, job, kind)
			require.NoError(t, err)
			assert.Empty(t, table, kind.Name)
		}
		done, err := s.PhaseDone(ctx, job, PhaseCommon)
		require.NoError(t, err)
		assert.False(t, done)

		table, err := s.Read(ctx, other, unionKind)
		require.NoError(t, err)
		assert.Len(t, table, 1)
	})
}

func TestCleanupOfUnknownJob(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		assert.NoError(t, s.Cleanup(context.Background(), "never-written"))
		assert.NoError(t, s.Cleanup(context.Background(), "never-written"))
	})
}

func TestCleanupLeavesNoResidualKeys(t *testing.T) {
	b := NewMemoryBackend()
	s, err := New(b, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, "job-1", unionKind, Table{"f#1": raw(1)}))
	require.NoError(t, s.MarkPhase(ctx, "job-1", PhaseLine))
	require.Equal(t, 2, b.Len())

	require.NoError(t, s.Cleanup(ctx, "job-1"))
	require.NoError(t, s.Cleanup(ctx, "job-1"))
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.locks)
}

func TestPhaseMarkers(t *testing.T) {
	forEachBackend(t, Options{}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		done, err := s.PhaseDone(ctx, "job-phase", PhaseCommon)
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, s.MarkPhase(ctx, "job-phase", PhaseCommon))
		done, err = s.PhaseDone(ctx, "job-phase", PhaseCommon)
		require.NoError(t, err)
		assert.True(t, done)

		done, err = s.PhaseDone(ctx, "job-phase", PhaseLine)
		require.NoError(t, err)
		assert.False(t, done)
	})
}

func TestLockWaitTimeout(t *testing.T) {
	forEachBackend(t, Options{LockWaitTimeout: 50 * time.Millisecond}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		job := ids.ValidationJobID("job-busy")

		unlock, err := s.backend.Lock(ctx, s.lockKey(job), time.Minute)
		require.NoError(t, err)

		err = s.Merge(ctx, job, unionKind, Table{"f#1": raw(1)})
		require.ErrorIs(t, err, ErrLockTimeout)
		assert.True(t, IsRetryable(err))

		// Empty merges never wait for the lock.
		assert.NoError(t, s.Merge(ctx, job, unionKind, Table{}))

		require.NoError(t, unlock(ctx))
		assert.NoError(t, s.Merge(ctx, job, unionKind, Table{"f#1": raw(1)}))
	})
}

func TestLockIsPerJob(t *testing.T) {
	forEachBackend(t, Options{LockWaitTimeout: time.Second}, func(t *testing.T, s *Store) {
		ctx := context.Background()
		unlock, err := s.backend.Lock(ctx, s.lockKey("job-held"), time.Minute)
		require.NoError(t, err)
		defer unlock(ctx)

		assert.NoError(t, s.Merge(ctx, "job-free", unionKind, Table{"f#1": raw(1)}))
	})
}

func TestSQLiteLeaseExpiryReleasesAbandonedLock(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }

	// The row a holder leaves behind when its process dies mid-merge.
	_, err = b.db.ExecContext(ctx, `INSERT INTO locks (key, owner, expires_at) VALUES (?, ?, ?)`,
		"lock:job", "crashed-owner", now.Add(time.Second).UnixMilli())
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = b.Lock(short, "lock:job", time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	now = now.Add(2 * time.Second)
	unlock, err := b.Lock(ctx, "lock:job", time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock(ctx))
}

func TestSQLiteLeaseIsRenewedWhileHeld(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	lease := 150 * time.Millisecond
	unlock, err := b.Lock(ctx, "lock:job", lease)
	require.NoError(t, err)

	// Several leases pass while the holder is still working.
	time.Sleep(4 * lease)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Lock(short, "lock:job", lease)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	unlock, err = b.Lock(ctx, "lock:job", lease)
	require.NoError(t, err)
	assert.NoError(t, unlock(ctx))
}

// flakyBackend fails selected operations.
type flakyBackend struct {
	*MemoryBackend
	mu       sync.Mutex
	failGet  bool
	failSets int
}

var errBackendDown = errors.New("connection refused")

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, false, errBackendDown
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	fail := f.failSets > 0
	if fail {
		f.failSets--
	}
	f.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func TestBackendFailureIsRetryableAndReleasesLock(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	s, err := New(fb, Options{LockWaitTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()
	job := ids.ValidationJobID("job-flaky")

	require.NoError(t, s.Merge(ctx, job, unionKind, Table{"f#1": raw(1)}))

	fb.failSets = 1
	err = s.Merge(ctx, job, unionKind, Table{"f#2": raw(2)})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))

	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "merge", uerr.Op)
	assert.ErrorIs(t, uerr, errBackendDown)

	// State is untouched and the lock was released.
	table, err := s.Read(ctx, job, unionKind)
	require.NoError(t, err)
	assert.Len(t, table, 1)
	require.NoError(t, s.Merge(ctx, job, unionKind, Table{"f#2": raw(2)}))

	fb.failGet = true
	_, err = s.Read(ctx, job, unionKind)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFactTTLExpiresAbandonedJobs(t *testing.T) {
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }

	s, err := New(b, Options{FactTTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, "job-orphan", unionKind, Table{"f#1": raw(1)}))
	now = now.Add(2 * time.Hour)

	table, err := s.Read(ctx, "job-orphan", unionKind)
	require.NoError(t, err)
	assert.Empty(t, table)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTableKeyLayout(t *testing.T) {
	s, err := New(NewMemoryBackend(), Options{KeyPrefix: "netex:"})
	require.NoError(t, err)

	assert.Equal(t, "netex:job:abc:table:active-dates", s.TableKey("abc", keepFirstKind))
	assert.Equal(t, "netex:job:abc:phase:common", s.phaseKey("abc", PhaseCommon))
	assert.Equal(t, "netex:lock:abc", s.lockKey("abc"))
	assert.Equal(t, "netex:job:a%3Ab:table:active-dates", s.TableKey("a:b", keepFirstKind))
}
