// Package store is the job-scoped shared fact store.
//
// Facts extracted from each dataset file are merged into tables namespaced by
// validation job and table kind. Merges for one job are serialized by a lock
// keyed by the job alone; reads never lock. Every key of a job is removed by
// Cleanup, and fact keys also carry a TTL so abandoned jobs eventually
// disappear from the backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/logging"
	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
)

// Table is one fact table: fact key to JSON encoded value.
type Table map[string]json.RawMessage

// Policy decides what happens when a merged key already exists.
type Policy int

const (
	// KeepFirst keeps the stored value; the incoming one is dropped.
	KeepFirst Policy = iota
	// LastWins replaces the stored value. Tables using it are keyed so that
	// distinct facts never share a key, which makes the merge a set union.
	LastWins
)

func (p Policy) String() string {
	switch p {
	case KeepFirst:
		return "keep-first"
	case LastWins:
		return "last-wins"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Kind names a fact table and its merge policy.
type Kind struct {
	Name   string
	Policy Policy
}

func (k Kind) String() string { return k.Name }

// Phase names a write phase acknowledged by the orchestrator.
type Phase string

const (
	PhaseCommon Phase = "common"
	PhaseLine   Phase = "line"
)

// Options tune a Store.
type Options struct {
	// KeyPrefix is prepended to every key, for sharing a backend between
	// deployments.
	KeyPrefix string
	// LockWaitTimeout bounds how long Merge waits for the job lock.
	LockWaitTimeout time.Duration
	// LockLease bounds how long a crashed holder keeps the lock, on backends
	// that support leases. A live holder renews its lease until it unlocks.
	LockLease time.Duration
	// FactTTL is applied to every key written. Zero disables expiry.
	FactTTL time.Duration
}

// Defaults for Options.
const (
	DefaultLockWaitTimeout = 30 * time.Second
	DefaultLockLease       = 2 * time.Minute
	DefaultFactTTL         = 24 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.LockWaitTimeout <= 0 {
		o.LockWaitTimeout = DefaultLockWaitTimeout
	}
	if o.LockLease <= 0 {
		o.LockLease = DefaultLockLease
	}
	if o.FactTTL < 0 {
		o.FactTTL = 0
	}
	return o
}

// Store implements merge, read and cleanup over a Backend.
type Store struct {
	backend Backend
	codec   *codec
	opts    Options
	logger  *slog.Logger
}

// New creates a Store over backend. The Store owns the backend and closes it
// in Close.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store: nil backend")
	}
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &Store{
		backend: backend,
		codec:   c,
		opts:    opts.withDefaults(),
		logger:  logging.Component("store").With("backend", backend.Name()),
	}, nil
}

// Close releases the codec and the backend.
func (s *Store) Close() error {
	s.codec.close()
	return s.backend.Close()
}

func escapeJob(job ids.ValidationJobID) string {
	return url.QueryEscape(string(job))
}

func (s *Store) jobPrefix(job ids.ValidationJobID) string {
	return s.opts.KeyPrefix + "job:" + escapeJob(job) + ":"
}

// TableKey is the backend key of one fact table.
func (s *Store) TableKey(job ids.ValidationJobID, kind Kind) string {
	return s.jobPrefix(job) + "table:" + kind.Name
}

func (s *Store) phaseKey(job ids.ValidationJobID, phase Phase) string {
	return s.jobPrefix(job) + "phase:" + string(phase)
}

func (s *Store) lockKey(job ids.ValidationJobID) string {
	return s.opts.KeyPrefix + "lock:" + escapeJob(job)
}

// Merge folds partial into the job's table of the given kind under the job
// lock. An empty partial is a no-op and does not take the lock. The write is
// all or nothing: on error the stored table is unchanged.
func (s *Store) Merge(ctx context.Context, job ids.ValidationJobID, kind Kind, partial Table) (err error) {
	if len(partial) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		if m := metrics.Get(); m != nil {
			m.ObserveMerge(kind.Name, time.Since(start).Seconds(), err)
		}
	}()

	unlock, err := s.lock(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		// Release even when ctx is already done.
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			logging.LogError(s.logger, "failed to release job lock", uerr,
				slog.String("job_id", string(job)))
		}
	}()

	key := s.TableKey(job, kind)
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return unavailable("merge", key, err)
	}

	current := Table{}
	if found {
		if current, err = s.codec.decode(raw); err != nil {
			return fmt.Errorf("store merge %s: %w", key, err)
		}
	}
	if !mergeInto(current, partial, kind.Policy) {
		return nil
	}

	encoded, err := s.codec.encode(current)
	if err != nil {
		return fmt.Errorf("store merge %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, encoded, s.opts.FactTTL); err != nil {
		return unavailable("merge", key, err)
	}
	return nil
}

// mergeInto applies partial to dst and reports whether dst changed.
func mergeInto(dst, partial Table, policy Policy) bool {
	changed := false
	for k, v := range partial {
		existing, ok := dst[k]
		switch {
		case !ok:
			dst[k] = v
			changed = true
		case policy == LastWins && string(existing) != string(v):
			dst[k] = v
			changed = true
		}
	}
	return changed
}

func (s *Store) lock(ctx context.Context, job ids.ValidationJobID) (func(context.Context) error, error) {
	key := s.lockKey(job)
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockWaitTimeout)
	defer cancel()

	start := time.Now()
	unlock, err := s.backend.Lock(lockCtx, key, s.opts.LockLease)
	if m := metrics.Get(); m != nil {
		m.ObserveLockWait(time.Since(start).Seconds())
	}
	if err == nil {
		return unlock, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || lockCtx.Err() != nil {
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, s.opts.LockWaitTimeout)
	}
	return nil, unavailable("lock", key, err)
}

// Read returns the job's table of the given kind. A table that was never
// written reads as empty with a nil error.
func (s *Store) Read(ctx context.Context, job ids.ValidationJobID, kind Kind) (Table, error) {
	key := s.TableKey(job, kind)
	raw, found, err := s.backend.Get(ctx, key)
	if m := metrics.Get(); m != nil && err == nil {
		m.IncFactReads(kind.Name, found)
	}
	if err != nil {
		return nil, unavailable("read", key, err)
	}
	if !found {
		return Table{}, nil
	}
	t, err := s.codec.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("store read %s: %w", key, err)
	}
	return t, nil
}

// Cleanup deletes every key of the job. It is idempotent and succeeds for
// jobs that never wrote anything.
func (s *Store) Cleanup(ctx context.Context, job ids.ValidationJobID) (err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncJobCleanups(err)
		}
	}()

	prefix := s.jobPrefix(job)
	n, err := s.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		return unavailable("cleanup", prefix, err)
	}
	s.logger.Debug("job keys deleted", "job_id", string(job), "keys", n)
	return nil
}

// MarkPhase records that the orchestrator acknowledged a write phase.
// Readers do not wait on phase markers.
func (s *Store) MarkPhase(ctx context.Context, job ids.ValidationJobID, phase Phase) error {
	key := s.phaseKey(job, phase)
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := s.backend.Set(ctx, key, value, s.opts.FactTTL); err != nil {
		return unavailable("mark phase", key, err)
	}
	return nil
}

// PhaseDone reports whether MarkPhase was called for the job and phase.
func (s *Store) PhaseDone(ctx context.Context, job ids.ValidationJobID, phase Phase) (bool, error) {
	key := s.phaseKey(job, phase)
	_, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, unavailable("phase", key, err)
	}
	return found, nil
}

// PurgeExpired removes keys whose TTL elapsed, for backends that do not
// expire keys on their own.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.backend.PurgeExpired(ctx)
	if err != nil {
		return 0, unavailable("purge", s.opts.KeyPrefix, err)
	}
	return n, nil
}
