package store

import (
	"context"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

type cacheKey struct {
	job  ids.ValidationJobID
	kind string
}

// CachedReader serves repeated reads of the same table from an LRU.
//
// Tables only enter the cache once the job's line phase is acknowledged:
// before that, merges from any process may still change them, so reads go
// straight to the store. Merges and cleanups made through the reader bump a
// per-table generation, and a read only caches what it fetched if no merge
// finished in the meantime.
type CachedReader struct {
	store *Store
	cache gcache.Cache

	mu     sync.Mutex
	gen    map[cacheKey]uint64
	frozen map[ids.ValidationJobID]bool
}

// NewCachedReader wraps s with an LRU of size tables expiring after ttl.
func NewCachedReader(s *Store, size int, ttl time.Duration) *CachedReader {
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &CachedReader{
		store:  s,
		cache:  b.Build(),
		gen:    make(map[cacheKey]uint64),
		frozen: make(map[ids.ValidationJobID]bool),
	}
}

// Read returns the table from the cache or the store. Callers must not
// modify the returned table.
func (c *CachedReader) Read(ctx context.Context, job ids.ValidationJobID, kind Kind) (Table, error) {
	frozen, err := c.isFrozen(ctx, job)
	if err != nil {
		return nil, err
	}
	if !frozen {
		return c.store.Read(ctx, job, kind)
	}

	key := cacheKey{job: job, kind: kind.Name}
	if v, err := c.cache.Get(key); err == nil {
		return v.(Table), nil
	}

	c.mu.Lock()
	gen := c.gen[key]
	c.mu.Unlock()

	t, err := c.store.Read(ctx, job, kind)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen[key] == gen {
		c.cache.Set(key, t)
	}
	c.mu.Unlock()
	return t, nil
}

// Merge forwards to the store and drops the cached table.
func (c *CachedReader) Merge(ctx context.Context, job ids.ValidationJobID, kind Kind, partial Table) error {
	key := cacheKey{job: job, kind: kind.Name}
	defer c.invalidate(key)
	return c.store.Merge(ctx, job, kind, partial)
}

// Cleanup forwards to the store and drops every cached table of the job.
func (c *CachedReader) Cleanup(ctx context.Context, job ids.ValidationJobID) error {
	err := c.store.Cleanup(ctx, job)

	c.mu.Lock()
	delete(c.frozen, job)
	for k := range c.gen {
		if k.job == job {
			delete(c.gen, k)
		}
	}
	for _, k := range c.cache.Keys(false) {
		if ck, ok := k.(cacheKey); ok && ck.job == job {
			c.cache.Remove(ck)
		}
	}
	c.mu.Unlock()
	return err
}

func (c *CachedReader) invalidate(key cacheKey) {
	c.mu.Lock()
	c.gen[key]++
	c.cache.Remove(key)
	c.mu.Unlock()
}

// isFrozen reports whether the job's line phase was acknowledged. A true
// answer is remembered until Cleanup.
func (c *CachedReader) isFrozen(ctx context.Context, job ids.ValidationJobID) (bool, error) {
	c.mu.Lock()
	frozen := c.frozen[job]
	c.mu.Unlock()
	if frozen {
		return true, nil
	}

	done, err := c.store.PhaseDone(ctx, job, PhaseLine)
	if err != nil {
		return false, err
	}
	if done {
		c.mu.Lock()
		c.frozen[job] = true
		c.mu.Unlock()
	}
	return done, nil
}
