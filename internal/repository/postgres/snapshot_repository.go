package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// SnapshotRepository implements repository.SnapshotRepository on Postgres
type SnapshotRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sqlx.DB, log *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: db, log: log}
}

type snapshotRow struct {
	Day     time.Time `db:"day"`
	Hour    int       `db:"hour"`
	Metric  string    `db:"metric"`
	Value   int64     `db:"value"`
	Version int64     `db:"version"`
}

// Increment adds amount to an additive metric
func (r *SnapshotRepository) Increment(ctx context.Context, subject domain.Subject, day time.Time, hour int, metric string, amount int64) error {
	query := `INSERT INTO analytics_snapshots (subject_type, subject_id, day, hour, metric, value, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (subject_type, subject_id, day, hour, metric) DO UPDATE
		SET value = analytics_snapshots.value + excluded.value,
			version = analytics_snapshots.version + 1`

	if _, err := r.db.ExecContext(ctx, query, string(subject.Type), subject.ID, domain.Day(day), hour, metric, amount); err != nil {
		return fmt.Errorf("failed to increment snapshot %s/%s: %w", subject, metric, err)
	}
	return nil
}

// RaiseTo keeps the max of the stored and given value for a unique metric
func (r *SnapshotRepository) RaiseTo(ctx context.Context, subject domain.Subject, day time.Time, hour int, metric string, value int64) error {
	query := `INSERT INTO analytics_snapshots (subject_type, subject_id, day, hour, metric, value, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (subject_type, subject_id, day, hour, metric) DO UPDATE
		SET value = GREATEST(analytics_snapshots.value, excluded.value),
			version = analytics_snapshots.version + 1`

	if _, err := r.db.ExecContext(ctx, query, string(subject.Type), subject.ID, domain.Day(day), hour, metric, value); err != nil {
		return fmt.Errorf("failed to raise snapshot %s/%s: %w", subject, metric, err)
	}
	return nil
}

// LoadSnapshots returns the subject's partitions ordered by day and hour
func (r *SnapshotRepository) LoadSnapshots(ctx context.Context, subject domain.Subject, from, to time.Time) ([]domain.AggregateSnapshot, error) {
	query := `SELECT day, hour, metric, value, version FROM analytics_snapshots
		WHERE subject_type = $1 AND subject_id = $2 AND day BETWEEN $3 AND $4
		ORDER BY day, hour, metric`

	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, query, string(subject.Type), subject.ID, domain.Day(from), domain.Day(to)); err != nil {
		return nil, fmt.Errorf("failed to load snapshots for %s: %w", subject, err)
	}

	type partition struct {
		day  time.Time
		hour int
	}
	byPartition := make(map[partition]*domain.AggregateSnapshot)
	for _, row := range rows {
		p := partition{day: domain.Day(row.Day), hour: row.Hour}
		snap, ok := byPartition[p]
		if !ok {
			snap = &domain.AggregateSnapshot{
				Subject: subject,
				Day:     p.day,
				Hour:    p.hour,
				Metrics: make(map[string]int64),
			}
			byPartition[p] = snap
		}
		snap.Metrics[row.Metric] = row.Value
		snap.Version += row.Version
	}

	out := make([]domain.AggregateSnapshot, 0, len(byPartition))
	for _, snap := range byPartition {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

// ReplaceDay locks the day's rows, checks the watermark and swaps every
// partition for a single whole-day row inside one transaction.
func (r *SnapshotRepository) ReplaceDay(ctx context.Context, subject domain.Subject, day time.Time, metrics map[string]int64, expectedWatermark int64) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Failed to roll back snapshot replacement", zap.Error(rbErr))
			}
		}
	}()

	d := domain.Day(day)
	var versions []int64
	lockQuery := `SELECT version FROM analytics_snapshots
		WHERE subject_type = $1 AND subject_id = $2 AND day = $3
		FOR UPDATE`
	if err = tx.SelectContext(ctx, &versions, lockQuery, string(subject.Type), subject.ID, d); err != nil {
		return fmt.Errorf("failed to lock snapshot day: %w", err)
	}

	var watermark int64
	for _, v := range versions {
		watermark += v
	}
	if watermark != expectedWatermark {
		err = repository.ErrWatermarkMoved
		return err
	}

	deleteQuery := `DELETE FROM analytics_snapshots WHERE subject_type = $1 AND subject_id = $2 AND day = $3`
	if _, err = tx.ExecContext(ctx, deleteQuery, string(subject.Type), subject.ID, d); err != nil {
		return fmt.Errorf("failed to clear snapshot day: %w", err)
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	// The first row carries the advanced watermark so the day's version sum
	// never returns to a value a concurrent reader already observed.
	insertQuery := `INSERT INTO analytics_snapshots (subject_type, subject_id, day, hour, metric, value, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, name := range names {
		version := int64(0)
		if i == 0 {
			version = expectedWatermark + 1
		}
		if _, err = tx.ExecContext(ctx, insertQuery, string(subject.Type), subject.ID, d, domain.WholeDayHour, name, metrics[name], version); err != nil {
			return fmt.Errorf("failed to write corrected snapshot: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot replacement: %w", err)
	}
	return nil
}

// ListActiveSubjects returns subjects with snapshots in the window, ordered
func (r *SnapshotRepository) ListActiveSubjects(ctx context.Context, from, to time.Time) ([]domain.Subject, error) {
	query := `SELECT DISTINCT subject_type, subject_id FROM analytics_snapshots
		WHERE day BETWEEN $1 AND $2
		ORDER BY subject_type, subject_id`

	var rows []struct {
		Type string `db:"subject_type"`
		ID   string `db:"subject_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, domain.Day(from), domain.Day(to)); err != nil {
		return nil, fmt.Errorf("failed to list active subjects: %w", err)
	}

	out := make([]domain.Subject, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Subject{Type: domain.SubjectType(row.Type), ID: row.ID})
	}
	return out, nil
}
