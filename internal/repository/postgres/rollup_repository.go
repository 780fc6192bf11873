package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

var rollupTables = map[domain.SubjectType]string{
	domain.SubjectListing:         "listings",
	domain.SubjectDevelopment:     "developments",
	domain.SubjectProfile:         "lister_profiles",
	domain.SubjectListerAggregate: "lister_aggregates",
}

var rollupColumnSet = func() map[string]bool {
	set := make(map[string]bool, len(domain.RollupColumns))
	for _, col := range domain.RollupColumns {
		set[col] = true
	}
	return set
}()

// RollupRepository maintains the lead rollup columns of subject rows
type RollupRepository struct {
	db *sqlx.DB
}

// NewRollupRepository creates a new rollup repository
func NewRollupRepository(db *sqlx.DB) *RollupRepository {
	return &RollupRepository{db: db}
}

// IncrementRollups adds deltas to the subject's rollup columns in a single
// atomic statement, creating the row on first use.
func (r *RollupRepository) IncrementRollups(ctx context.Context, subject domain.Subject, deltas map[string]int64) error {
	table, err := tableFor(subject.Type)
	if err != nil {
		return err
	}
	cols, err := sortedColumns(deltas)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	args := make([]any, 0, len(cols)+1)
	args = append(args, subject.ID)
	placeholders := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols)+1)
	for i, col := range cols {
		args = append(args, deltas[col])
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		updates = append(updates, fmt.Sprintf("%s = %s.%s + excluded.%s", col, table, col, col))
	}
	updates = append(updates, fmt.Sprintf("rollup_version = %s.rollup_version + 1", table))

	query := fmt.Sprintf(`INSERT INTO %s (id, %s, rollup_version) VALUES ($1, %s, 1)
		ON CONFLICT (id) DO UPDATE SET %s`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to increment rollups for %s: %w", subject, err)
	}
	return nil
}

// ReadRollups returns the subject's rollup columns and their version. A
// missing row reads as all zeros at version 0.
func (r *RollupRepository) ReadRollups(ctx context.Context, subject domain.Subject) (map[string]int64, int64, error) {
	table, err := tableFor(subject.Type)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s, rollup_version FROM %s WHERE id = $1`,
		strings.Join(domain.RollupColumns, ", "), table)

	rows, err := r.db.QueryxContext(ctx, query, subject.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read rollups for %s: %w", subject, err)
	}
	defer rows.Close()

	values := make(map[string]int64, len(domain.RollupColumns))
	for _, col := range domain.RollupColumns {
		values[col] = 0
	}
	if !rows.Next() {
		return values, 0, rows.Err()
	}

	row := make(map[string]any)
	if err := rows.MapScan(row); err != nil {
		return nil, 0, fmt.Errorf("failed to scan rollups for %s: %w", subject, err)
	}
	for col := range values {
		values[col] = toInt64(row[col])
	}
	return values, toInt64(row["rollup_version"]), rows.Err()
}

// OverwriteRollups replaces the subject's rollup columns if the row is still at
// expectedVersion. It reports false when a concurrent increment won.
func (r *RollupRepository) OverwriteRollups(ctx context.Context, subject domain.Subject, values map[string]int64, expectedVersion int64) (bool, error) {
	table, err := tableFor(subject.Type)
	if err != nil {
		return false, err
	}
	cols, err := sortedColumns(values)
	if err != nil {
		return false, err
	}

	args := []any{subject.ID, expectedVersion}
	sets := make([]string, 0, len(cols))
	for i, col := range cols {
		args = append(args, values[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+3))
	}

	var query string
	if expectedVersion == 0 {
		// no row yet: insert unless someone created it meanwhile
		placeholders := make([]string, 0, len(cols))
		for i := range cols {
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+3))
		}
		query = fmt.Sprintf(`INSERT INTO %s (id, %s, rollup_version)
			SELECT $1, %s, $2::BIGINT + 1
			ON CONFLICT (id) DO NOTHING`,
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	} else {
		query = fmt.Sprintf(`UPDATE %s SET %s, rollup_version = rollup_version + 1
			WHERE id = $1 AND rollup_version = $2`,
			table, strings.Join(sets, ", "))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to overwrite rollups for %s: %w", subject, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read overwrite result: %w", err)
	}
	return affected == 1, nil
}

func tableFor(t domain.SubjectType) (string, error) {
	table, ok := rollupTables[t]
	if !ok {
		return "", fmt.Errorf("no rollup table for subject type %q", t)
	}
	return table, nil
}

// sortedColumns validates column names against the whitelist; they are
// interpolated into SQL.
func sortedColumns(values map[string]int64) ([]string, error) {
	cols := make([]string, 0, len(values))
	for col := range values {
		if !rollupColumnSet[col] {
			return nil, fmt.Errorf("unknown rollup column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		_, _ = fmt.Sscan(string(n), &out)
		return out
	}
	return 0
}
