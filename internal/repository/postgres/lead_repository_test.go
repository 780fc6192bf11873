package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/postgres"
)

var leadColumns = []string{
	"id", "context_type", "context_id", "seeker_id", "lister_id", "lister_type",
	"lead_actions", "total_actions", "lead_score", "first_action_date", "last_action_date",
	"last_action_type", "is_anonymous", "status", "version",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestLeadRepository_FindLatest_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	key := domain.DedupKey{ContextType: domain.SubjectListing, ContextID: "L1", SeekerID: "S1"}

	mock.ExpectQuery("SELECT .+ FROM leads").
		WithArgs("listing", "S1", "L1", "P1").
		WillReturnRows(sqlmock.NewRows(leadColumns).AddRow(
			"lead-1", "listing", "L1", "S1", "P1", "agency",
			[]byte(`[{"type":"phone","action_type":"lead_phone","score":10,"is_anonymous":false,"timestamp":"2026-10-01T09:00:00Z"}]`),
			1, 10, now, now, "lead_phone", false, "new", int64(3),
		))

	rec, err := repo.FindLatest(context.Background(), key, "P1")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "lead-1", rec.ID)
	assert.Equal(t, int64(3), rec.Version)
	require.Len(t, rec.LeadActions, 1)
	assert.Equal(t, domain.LeadPhone, rec.LeadActions[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_FindLatest_LegacyRowHasEmptyContext(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM leads").
		WillReturnRows(sqlmock.NewRows(leadColumns).AddRow(
			"legacy", "listing", nil, "S1", "P1", "",
			[]byte(`[]`), 0, 0, now, now, "lead_phone", false, "new", int64(1),
		))

	rec, err := repo.FindLatest(context.Background(), domain.DedupKey{ContextType: domain.SubjectListing, ContextID: "L1", SeekerID: "S1"}, "P1")

	require.NoError(t, err)
	assert.Equal(t, "", rec.ContextID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_FindLatest_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)

	mock.ExpectQuery("SELECT .+ FROM leads").
		WillReturnRows(sqlmock.NewRows(leadColumns))

	rec, err := repo.FindLatest(context.Background(), domain.DedupKey{ContextType: domain.SubjectListing, ContextID: "L1", SeekerID: "S1"}, "P1")

	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newRecord() *domain.LeadRecord {
	action := domain.LeadAction{Type: domain.LeadPhone, ActionType: domain.EventLeadPhone, Score: 10, Timestamp: time.Now().UTC()}
	return domain.NewLeadRecord("lead-1", domain.DedupKey{ContextType: domain.SubjectListing, ContextID: "L1", SeekerID: "S1"}, "P1", "agency", action)
}

func TestLeadRepository_Insert(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
		version  int64
	}{
		{"created", 1, true, 1},
		{"lost race", 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := postgres.NewLeadRepository(db)
			rec := newRecord()

			mock.ExpectExec("INSERT INTO leads").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			inserted, err := repo.Insert(context.Background(), rec)

			require.NoError(t, err)
			assert.Equal(t, tt.want, inserted)
			assert.Equal(t, tt.version, rec.Version)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLeadRepository_Update_VersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)
	rec := newRecord()

	mock.ExpectExec("UPDATE leads").
		WithArgs("lead-1", int64(4), sqlmock.AnyArg(), 1, 10, sqlmock.AnyArg(), sqlmock.AnyArg(), "lead_phone", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), rec, 4)

	assert.ErrorIs(t, err, lead.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_Update_BumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)
	rec := newRecord()

	mock.ExpectExec("UPDATE leads").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), rec, 4))
	assert.Equal(t, int64(5), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_CountRollups(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)

	cols := []string{
		"total_leads", "unique_leads", "anonymous_leads", "leads_phone", "leads_message",
		"leads_appointment", "leads_message_whatsapp", "leads_message_direct_message", "leads_message_email",
	}
	mock.ExpectQuery("SELECT .+ FROM leads WHERE lister_id").
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(5, 4, 1, 2, 2, 1, 1, 1, 0))

	counts, err := repo.CountRollups(context.Background(), domain.Subject{Type: domain.SubjectProfile, ID: "P1"})

	require.NoError(t, err)
	assert.Equal(t, int64(5), counts["total_leads"])
	assert.Equal(t, int64(1), counts["anonymous_leads"])
	assert.Equal(t, int64(1), counts["leads_message_direct_message"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_ListListerTypes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := postgres.NewLeadRepository(db)

	mock.ExpectQuery("SELECT DISTINCT lister_type FROM leads WHERE lister_type <> ''").
		WillReturnRows(sqlmock.NewRows([]string{"lister_type"}).AddRow("agency").AddRow("owner"))

	types, err := repo.ListListerTypes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"agency", "owner"}, types)
	assert.NoError(t, mock.ExpectationsWereMet())
}
