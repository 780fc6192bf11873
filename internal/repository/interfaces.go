package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// ErrWatermarkMoved is returned by ReplaceDay when live writes touched the day
// after it was read.
var ErrWatermarkMoved = errors.New("snapshot watermark moved")

// MalformedEventError is returned by InsertBatch when one event can never be
// stored. Nothing of the batch was written.
type MalformedEventError struct {
	EventID string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("event %s cannot be stored: %v", e.EventID, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// EventQuery selects a page of raw events for replay
type EventQuery struct {
	Names  []string
	From   time.Time
	To     time.Time
	Offset int
	Limit  int
}

// EventPage is one page of raw events in stable (timestamp, event_id) order
type EventPage struct {
	Events     []*domain.RawEvent
	HasMore    bool
	NextOffset int
}

// EventRepository defines the interface for raw event storage operations
type EventRepository interface {
	// InsertBatch inserts a batch of events into the storage
	InsertBatch(ctx context.Context, events []*domain.RawEvent) (int, error)

	// FetchEvents returns one page of events matching the query
	FetchEvents(ctx context.Context, query EventQuery) (*EventPage, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error
}

// SnapshotRepository defines the interface for per-subject aggregate snapshots
type SnapshotRepository interface {
	// Increment adds amount to an additive metric of one hourly partition
	Increment(ctx context.Context, subject domain.Subject, day time.Time, hour int, metric string, amount int64) error

	// RaiseTo sets a unique metric of one hourly partition to value unless it is already higher
	RaiseTo(ctx context.Context, subject domain.Subject, day time.Time, hour int, metric string, value int64) error

	// LoadSnapshots returns every partition of subject with day in [from, to]
	LoadSnapshots(ctx context.Context, subject domain.Subject, from, to time.Time) ([]domain.AggregateSnapshot, error)

	// ReplaceDay swaps all partitions of a day for one whole-day row, provided
	// the day's watermark still equals expectedWatermark
	ReplaceDay(ctx context.Context, subject domain.Subject, day time.Time, metrics map[string]int64, expectedWatermark int64) error

	// ListActiveSubjects returns subjects that have snapshots with day in [from, to]
	ListActiveSubjects(ctx context.Context, from, to time.Time) ([]domain.Subject, error)
}
