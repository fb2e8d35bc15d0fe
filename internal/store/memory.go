package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryBackend is an in-process Backend. Locks only exclude goroutines of
// the same process.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]chan struct{}
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]chan struct{}),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt)
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || b.expired(e) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for k := range b.entries {
		if strings.HasPrefix(k, prefix) {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}

// Lock waits on the current holder's channel, which is closed on release.
func (b *MemoryBackend) Lock(ctx context.Context, key string, lease time.Duration) (func(context.Context) error, error) {
	for {
		b.mu.Lock()
		held, busy := b.locks[key]
		if !busy {
			released := make(chan struct{})
			b.locks[key] = released
			b.mu.Unlock()

			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					b.mu.Lock()
					delete(b.locks, key)
					b.mu.Unlock()
					close(released)
				})
				return nil
			}, nil
		}
		b.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *MemoryBackend) PurgeExpired(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for k, e := range b.entries {
		if b.expired(e) {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live keys.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.entries {
		if !b.expired(e) {
			n++
		}
	}
	return n
}

func (b *MemoryBackend) Close() error { return nil }
