package lead

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// memoryRepository is a compare-and-swap lead store shared between aggregators
type memoryRepository struct {
	mu      sync.Mutex
	records map[domain.DedupKey]*domain.LeadRecord
	inserts int
	updates int
	failGet error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{records: make(map[domain.DedupKey]*domain.LeadRecord)}
}

func (r *memoryRepository) FindLatest(ctx context.Context, key domain.DedupKey, listerID string) (*domain.LeadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}
	if rec, ok := r.records[key]; ok {
		return clone(rec), nil
	}
	legacy := domain.DedupKey{ContextType: key.ContextType, SeekerID: key.SeekerID}
	if rec, ok := r.records[legacy]; ok && rec.ListerID == listerID {
		return clone(rec), nil
	}
	return nil, nil
}

func (r *memoryRepository) Insert(ctx context.Context, rec *domain.LeadRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Key()]; ok {
		return false, nil
	}
	rec.Version = 1
	r.records[rec.Key()] = clone(rec)
	r.inserts++
	return true, nil
}

func (r *memoryRepository) Update(ctx context.Context, rec *domain.LeadRecord, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[rec.Key()]
	if !ok || stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	r.records[rec.Key()] = clone(rec)
	r.updates++
	return nil
}

func (r *memoryRepository) get(key domain.DedupKey) *domain.LeadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.records[key])
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func clone(rec *domain.LeadRecord) *domain.LeadRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	c.LeadActions = append([]domain.LeadAction(nil), rec.LeadActions...)
	return &c
}

// memoryRollups accumulates rollup increments per subject
type memoryRollups struct {
	mu    sync.Mutex
	calls map[domain.Subject]int
	cols  map[domain.Subject]map[string]int64
}

func newMemoryRollups() *memoryRollups {
	return &memoryRollups{
		calls: make(map[domain.Subject]int),
		cols:  make(map[domain.Subject]map[string]int64),
	}
}

func (r *memoryRollups) IncrementRollups(ctx context.Context, subject domain.Subject, deltas map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[subject]++
	if r.cols[subject] == nil {
		r.cols[subject] = make(map[string]int64)
	}
	for col, d := range deltas {
		r.cols[subject][col] += d
	}
	return nil
}

func (r *memoryRollups) column(subject domain.Subject, col string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cols[subject][col]
}

func (r *memoryRollups) callCount(subject domain.Subject) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[subject]
}

// MockRollupWriter is a mock implementation of RollupWriter
type MockRollupWriter struct {
	mock.Mock
}

func (m *MockRollupWriter) IncrementRollups(ctx context.Context, subject domain.Subject, deltas map[string]int64) error {
	args := m.Called(ctx, subject, deltas)
	return args.Error(0)
}

var errDeadlock = errors.New("deadlock detected")
