package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
)

const leadSelectColumns = `id, context_type, context_id, seeker_id, lister_id, lister_type,
	lead_actions, total_actions, lead_score, first_action_date, last_action_date,
	last_action_type, is_anonymous, status, version`

type leadRow struct {
	ID              string         `db:"id"`
	ContextType     string         `db:"context_type"`
	ContextID       sql.NullString `db:"context_id"`
	SeekerID        string         `db:"seeker_id"`
	ListerID        string         `db:"lister_id"`
	ListerType      string         `db:"lister_type"`
	LeadActions     []byte         `db:"lead_actions"`
	TotalActions    int            `db:"total_actions"`
	LeadScore       int            `db:"lead_score"`
	FirstActionDate time.Time      `db:"first_action_date"`
	LastActionDate  time.Time      `db:"last_action_date"`
	LastActionType  string         `db:"last_action_type"`
	IsAnonymous     bool           `db:"is_anonymous"`
	Status          string         `db:"status"`
	Version         int64          `db:"version"`
}

func (r leadRow) toDomain() (*domain.LeadRecord, error) {
	var actions []domain.LeadAction
	if len(r.LeadActions) > 0 {
		if err := json.Unmarshal(r.LeadActions, &actions); err != nil {
			return nil, fmt.Errorf("failed to decode lead actions for %s: %w", r.ID, err)
		}
	}
	return &domain.LeadRecord{
		ID:              r.ID,
		ContextType:     domain.SubjectType(r.ContextType),
		ContextID:       r.ContextID.String,
		SeekerID:        r.SeekerID,
		ListerID:        r.ListerID,
		ListerType:      r.ListerType,
		LeadActions:     actions,
		TotalActions:    r.TotalActions,
		LeadScore:       r.LeadScore,
		FirstActionDate: r.FirstActionDate.UTC(),
		LastActionDate:  r.LastActionDate.UTC(),
		LastActionType:  r.LastActionType,
		IsAnonymous:     r.IsAnonymous,
		Status:          r.Status,
		Version:         r.Version,
	}, nil
}

// LeadRepository implements lead.Repository on Postgres
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// FindLatest returns the newest lead for the dedup key. Rows written before
// context ids existed match on context type, seeker and lister.
func (r *LeadRepository) FindLatest(ctx context.Context, key domain.DedupKey, listerID string) (*domain.LeadRecord, error) {
	query := `SELECT ` + leadSelectColumns + ` FROM leads
		WHERE context_type = $1 AND seeker_id = $2
			AND (context_id = $3 OR (context_id IS NULL AND lister_id = $4))
		ORDER BY last_action_date DESC
		LIMIT 1`

	var row leadRow
	err := r.db.GetContext(ctx, &row, query, string(key.ContextType), key.SeekerID, key.ContextID, listerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select lead: %w", err)
	}
	return row.toDomain()
}

// Insert stores a new lead. A concurrent insert of the same dedup key makes it
// a no-op that returns false.
func (r *LeadRepository) Insert(ctx context.Context, rec *domain.LeadRecord) (bool, error) {
	actions, err := json.Marshal(rec.LeadActions)
	if err != nil {
		return false, fmt.Errorf("failed to encode lead actions: %w", err)
	}

	query := `INSERT INTO leads (
			id, context_type, context_id, seeker_id, lister_id, lister_type,
			lead_actions, total_actions, lead_score, first_action_date, last_action_date,
			last_action_type, is_anonymous, status, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		ON CONFLICT DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.ContextType), nullIfEmpty(rec.ContextID), rec.SeekerID, rec.ListerID, rec.ListerType,
		actions, rec.TotalActions, rec.LeadScore, rec.FirstActionDate, rec.LastActionDate,
		rec.LastActionType, rec.IsAnonymous, rec.Status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert lead: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	rec.Version = 1
	return true, nil
}

// Update writes rec if the stored version is still expectedVersion
func (r *LeadRepository) Update(ctx context.Context, rec *domain.LeadRecord, expectedVersion int64) error {
	actions, err := json.Marshal(rec.LeadActions)
	if err != nil {
		return fmt.Errorf("failed to encode lead actions: %w", err)
	}

	query := `UPDATE leads
		SET lead_actions = $3, total_actions = $4, lead_score = $5,
			first_action_date = $6, last_action_date = $7, last_action_type = $8,
			is_anonymous = $9, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`

	result, err := r.db.ExecContext(ctx, query,
		rec.ID, expectedVersion, actions, rec.TotalActions, rec.LeadScore,
		rec.FirstActionDate, rec.LastActionDate, rec.LastActionType, rec.IsAnonymous,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return lead.ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	return nil
}

// CountRollups recomputes the rollup columns of subject from the leads table
func (r *LeadRepository) CountRollups(ctx context.Context, subject domain.Subject) (map[string]int64, error) {
	scope, err := rollupScope(subject.Type)
	if err != nil {
		return nil, err
	}

	query := `SELECT
			COUNT(*) AS total_leads,
			COUNT(*) FILTER (WHERE NOT is_anonymous) AS unique_leads,
			COUNT(*) FILTER (WHERE is_anonymous) AS anonymous_leads,
			COUNT(*) FILTER (WHERE lead_actions->0->>'type' = 'phone') AS leads_phone,
			COUNT(*) FILTER (WHERE lead_actions->0->>'type' = 'message') AS leads_message,
			COUNT(*) FILTER (WHERE lead_actions->0->>'type' = 'appointment') AS leads_appointment,
			COUNT(*) FILTER (WHERE lead_actions->0->>'sub_type' = 'whatsapp') AS leads_message_whatsapp,
			COUNT(*) FILTER (WHERE lead_actions->0->>'sub_type' = 'direct_message') AS leads_message_direct_message,
			COUNT(*) FILTER (WHERE lead_actions->0->>'sub_type' = 'email') AS leads_message_email
		FROM leads WHERE ` + scope

	var counts rollupCounts
	if err := r.db.GetContext(ctx, &counts, query, subject.ID); err != nil {
		return nil, fmt.Errorf("failed to count leads for %s: %w", subject, err)
	}
	return counts.toMap(), nil
}

// ListListerTypes returns the distinct non-empty lister types in the leads table
func (r *LeadRepository) ListListerTypes(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT lister_type FROM leads WHERE lister_type <> '' ORDER BY lister_type`
	var types []string
	if err := r.db.SelectContext(ctx, &types, query); err != nil {
		return nil, fmt.Errorf("failed to list lister types: %w", err)
	}
	return types, nil
}

func rollupScope(t domain.SubjectType) (string, error) {
	switch t {
	case domain.SubjectListing:
		return `context_type = 'listing' AND context_id = $1`, nil
	case domain.SubjectDevelopment:
		return `context_type = 'development' AND context_id = $1`, nil
	case domain.SubjectProfile:
		return `lister_id = $1`, nil
	case domain.SubjectListerAggregate:
		return `lister_type = $1`, nil
	}
	return "", fmt.Errorf("no rollup scope for subject type %q", t)
}

type rollupCounts struct {
	TotalLeads                int64 `db:"total_leads"`
	UniqueLeads               int64 `db:"unique_leads"`
	AnonymousLeads            int64 `db:"anonymous_leads"`
	LeadsPhone                int64 `db:"leads_phone"`
	LeadsMessage              int64 `db:"leads_message"`
	LeadsAppointment          int64 `db:"leads_appointment"`
	LeadsMessageWhatsApp      int64 `db:"leads_message_whatsapp"`
	LeadsMessageDirectMessage int64 `db:"leads_message_direct_message"`
	LeadsMessageEmail         int64 `db:"leads_message_email"`
}

func (c rollupCounts) toMap() map[string]int64 {
	return map[string]int64{
		"total_leads":                  c.TotalLeads,
		"unique_leads":                 c.UniqueLeads,
		"anonymous_leads":              c.AnonymousLeads,
		"leads_phone":                  c.LeadsPhone,
		"leads_message":                c.LeadsMessage,
		"leads_appointment":            c.LeadsAppointment,
		"leads_message_whatsapp":       c.LeadsMessageWhatsApp,
		"leads_message_direct_message": c.LeadsMessageDirectMessage,
		"leads_message_email":          c.LeadsMessageEmail,
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
