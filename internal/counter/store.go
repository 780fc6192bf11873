// Package counter is the low-latency approximate counter store: daily
// increment-with-expiry counters, field breakdowns, lookups and unique
// sketches. Writes are best-effort.
package counter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
)

// DefaultTTL is the retention after which an unread counter is zero.
const DefaultTTL = 7 * 24 * time.Hour

// Backend is the storage primitive behind Store. Reads return zero values on
// missing or expired keys; errors are reserved for transport failures.
type Backend interface {
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) error
	HIncrBy(ctx context.Context, key, field string, amount int64, ttl time.Duration) error
	PFAdd(ctx context.Context, key, member string, ttl time.Duration) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
	HGet(ctx context.Context, key, field string) (int64, error)
	PFCount(ctx context.Context, key string) (int64, error)
	GetString(ctx context.Context, key string) (string, error)
}

// Store wraps a Backend with the fire-and-forget write policy
type Store struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewStore creates a counter store. A non-positive ttl uses DefaultTTL.
func NewStore(backend Backend, ttl time.Duration, m *metrics.Metrics, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		log:     log,
	}
}

// Increment creates or increments the counter and refreshes its TTL.
func (s *Store) Increment(ctx context.Context, key Key, amount int64) {
	k := key.String()
	s.swallow("incr", k, s.backend.IncrBy(ctx, k, amount, s.ttl))
}

// AddUnique adds member to the key's unique sketch and refreshes its TTL.
func (s *Store) AddUnique(ctx context.Context, key Key, member string) {
	k := key.String()
	s.swallow("pfadd", k, s.backend.PFAdd(ctx, k, member, s.ttl))
}

// IncrementField increments one field of a hash-style breakdown counter.
func (s *Store) IncrementField(ctx context.Context, key Key, field string, amount int64) {
	k := key.String()
	s.swallow("hincr", k, s.backend.HIncrBy(ctx, k, field, amount, s.ttl))
}

// SetLookup records an undated attribute of a subject for other consumers.
func (s *Store) SetLookup(ctx context.Context, subject domain.Subject, attribute, value string) {
	k := LookupKey(subject, attribute)
	s.swallow("set", k, s.backend.Set(ctx, k, value, s.ttl))
}

// Get returns the counter value, 0 when absent or expired.
func (s *Store) Get(ctx context.Context, key Key) (int64, error) {
	return s.backend.Get(ctx, key.String())
}

// GetField returns one breakdown field, 0 when absent or expired.
func (s *Store) GetField(ctx context.Context, key Key, field string) (int64, error) {
	return s.backend.HGet(ctx, key.String(), field)
}

// CountUnique returns the approximate cardinality of the key's sketch.
func (s *Store) CountUnique(ctx context.Context, key Key) (int64, error) {
	return s.backend.PFCount(ctx, key.String())
}

// Lookup returns a recorded subject attribute, "" when absent.
func (s *Store) Lookup(ctx context.Context, subject domain.Subject, attribute string) (string, error) {
	return s.backend.GetString(ctx, LookupKey(subject, attribute))
}

func (s *Store) swallow(op, key string, err error) {
	if err == nil {
		return
	}
	werr := &domain.StoreWriteError{Op: op, Key: key, Err: err}
	s.log.Warn("Counter store write failed", zap.String("op", op), zap.String("key", key), zap.Error(werr))
	if s.metrics != nil {
		s.metrics.CounterStoreFailures.WithLabelValues(op).Inc()
	}
}
