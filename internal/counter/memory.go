package counter

import (
	"context"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
)

type memoryEntry struct {
	value     int64
	fields    map[string]int64
	text      string
	sketch    *hyperloglog.Sketch
	expiresAt time.Time
}

// MemoryBackend keeps counters in process. Expiry is evaluated lazily on read
// and on write; an expired entry behaves exactly like a missing one.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an in-process backend. A nil clock uses time.Now.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

// live returns the entry for key if it has not expired. Caller holds mu.
func (b *MemoryBackend) live(key string) *memoryEntry {
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return nil
	}
	return e
}

func (b *MemoryBackend) touch(key string, ttl time.Duration) *memoryEntry {
	e := b.live(key)
	if e == nil {
		e = &memoryEntry{}
		b.entries[key] = e
	}
	e.expiresAt = b.now().Add(ttl)
	return e
}

func (b *MemoryBackend) IncrBy(_ context.Context, key string, amount int64, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch(key, ttl).value += amount
	return nil
}

func (b *MemoryBackend) HIncrBy(_ context.Context, key, field string, amount int64, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.touch(key, ttl)
	if e.fields == nil {
		e.fields = make(map[string]int64)
	}
	e.fields[field] += amount
	return nil
}

func (b *MemoryBackend) PFAdd(_ context.Context, key, member string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.touch(key, ttl)
	if e.sketch == nil {
		e.sketch = hyperloglog.New14()
	}
	e.sketch.Insert([]byte(member))
	return nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch(key, ttl).text = value
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.live(key); e != nil {
		return e.value, nil
	}
	return 0, nil
}

func (b *MemoryBackend) HGet(_ context.Context, key, field string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.live(key); e != nil {
		return e.fields[field], nil
	}
	return 0, nil
}

func (b *MemoryBackend) PFCount(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.live(key); e != nil && e.sketch != nil {
		return int64(e.sketch.Estimate()), nil
	}
	return 0, nil
}

func (b *MemoryBackend) GetString(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.live(key); e != nil {
		return e.text, nil
	}
	return "", nil
}
