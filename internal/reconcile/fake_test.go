package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

var errSourceDown = errors.New("upstream returned 503")

// fakeEventSource pages a fixed event set the way the event store does
type fakeEventSource struct {
	mu       sync.Mutex
	events   []*domain.RawEvent
	calls    int
	failures int // remaining calls that fail
}

func (f *fakeEventSource) FetchEvents(ctx context.Context, q repository.EventQuery) (*repository.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errSourceDown
	}

	names := make(map[string]bool, len(q.Names))
	for _, n := range q.Names {
		names[n] = true
	}
	var matched []*domain.RawEvent
	for _, e := range f.events {
		if names[e.EventName] && !e.Timestamp.Before(q.From) && e.Timestamp.Before(q.To) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].EventID < matched[j].EventID
	})

	page := &repository.EventPage{NextOffset: q.Offset}
	if q.Offset >= len(matched) {
		return page, nil
	}
	end := q.Offset + q.Limit
	if end < len(matched) {
		page.HasMore = true
	} else {
		end = len(matched)
	}
	page.Events = matched[q.Offset:end]
	page.NextOffset = end
	return page, nil
}

// MockSnapshotStore is a mock implementation of the snapshot interfaces
type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) LoadSnapshots(ctx context.Context, subject domain.Subject, from, to time.Time) ([]domain.AggregateSnapshot, error) {
	args := m.Called(ctx, subject, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AggregateSnapshot), args.Error(1)
}

func (m *MockSnapshotStore) ReplaceDay(ctx context.Context, subject domain.Subject, day time.Time, metrics map[string]int64, expectedWatermark int64) error {
	args := m.Called(ctx, subject, day, metrics, expectedWatermark)
	return args.Error(0)
}

func (m *MockSnapshotStore) ListActiveSubjects(ctx context.Context, from, to time.Time) ([]domain.Subject, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Subject), args.Error(1)
}

// MockLeadCounter is a mock implementation of LeadCounter
type MockLeadCounter struct {
	mock.Mock
}

func (m *MockLeadCounter) CountRollups(ctx context.Context, subject domain.Subject) (map[string]int64, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockLeadCounter) ListListerTypes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockRollupStore is a mock implementation of RollupStore
type MockRollupStore struct {
	mock.Mock
}

func (m *MockRollupStore) ReadRollups(ctx context.Context, subject domain.Subject) (map[string]int64, int64, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(map[string]int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockRollupStore) OverwriteRollups(ctx context.Context, subject domain.Subject, values map[string]int64, expectedVersion int64) (bool, error) {
	args := m.Called(ctx, subject, values, expectedVersion)
	return args.Bool(0), args.Error(1)
}

var day1 = time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

func propertyView(id, listing, actor string, at time.Time) *domain.RawEvent {
	return &domain.RawEvent{
		EventID:   id,
		EventName: domain.EventPropertyView,
		Properties: map[string]any{
			"listing_id": listing,
			"lister_id":  "P2",
			"user_id":    actor,
		},
		Timestamp: at,
	}
}

func viewsOn(listing string, day time.Time, n, actors int) []*domain.RawEvent {
	out := make([]*domain.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, propertyView(
			fmt.Sprintf("%s-%s-%03d", listing, domain.DayString(day), i),
			listing,
			fmt.Sprintf("u%d", i%actors),
			day.Add(time.Duration(9+i%3)*time.Hour),
		))
	}
	return out
}
