package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// ErrRunInProgress is returned when a scheduled run is requested while the
// previous one is still active.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// EventSource is the paginated raw event read API
type EventSource interface {
	FetchEvents(ctx context.Context, query repository.EventQuery) (*repository.EventPage, error)
}

// SnapshotReader loads stored snapshot partitions
type SnapshotReader interface {
	LoadSnapshots(ctx context.Context, subject domain.Subject, from, to time.Time) ([]domain.AggregateSnapshot, error)
}

// SnapshotWriter replaces drifted snapshot days
type SnapshotWriter interface {
	ReplaceDay(ctx context.Context, subject domain.Subject, day time.Time, metrics map[string]int64, expectedWatermark int64) error
}

// SubjectLister lists the subjects that have snapshots in a window
type SubjectLister interface {
	ListActiveSubjects(ctx context.Context, from, to time.Time) ([]domain.Subject, error)
}

// LeadCounter recomputes rollup columns from the lead table
type LeadCounter interface {
	CountRollups(ctx context.Context, subject domain.Subject) (map[string]int64, error)
	ListListerTypes(ctx context.Context) ([]string, error)
}

// RollupStore reads and overwrites stored rollup columns
type RollupStore interface {
	ReadRollups(ctx context.Context, subject domain.Subject) (map[string]int64, int64, error)
	OverwriteRollups(ctx context.Context, subject domain.Subject, values map[string]int64, expectedVersion int64) (bool, error)
}
