package lead

import (
	"context"
	"errors"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// ErrVersionConflict is returned by Repository writes that lost a race for the
// same dedup key; the caller re-reads and retries.
var ErrVersionConflict = errors.New("lead version conflict")

// Repository defines the interface for lead record storage operations
type Repository interface {
	// FindLatest returns the most recent lead matching the dedup key or its
	// legacy shape (no context id, same lister). nil, nil when none exists.
	FindLatest(ctx context.Context, key domain.DedupKey, listerID string) (*domain.LeadRecord, error)

	// Insert stores a new lead. It returns false when another writer created
	// the dedup key first.
	Insert(ctx context.Context, rec *domain.LeadRecord) (bool, error)

	// Update replaces a lead if its stored version still equals
	// expectedVersion, and bumps rec.Version. ErrVersionConflict otherwise.
	Update(ctx context.Context, rec *domain.LeadRecord, expectedVersion int64) error
}

func isConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// RollupWriter applies additive increments to one subject's rollup columns
type RollupWriter interface {
	IncrementRollups(ctx context.Context, subject domain.Subject, deltas map[string]int64) error
}
