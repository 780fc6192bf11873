package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
)

// MockReportRunner is a mock implementation of ReportRunner
type MockReportRunner struct {
	mock.Mock
}

func (m *MockReportRunner) Run(ctx context.Context, req reconcile.Request) (*reconcile.Report, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Report), args.Error(1)
}

func TestReconcileService_Reconcile_Success(t *testing.T) {
	runner := new(MockReportRunner)
	service := NewReconcileService(runner, zap.NewNop())

	want := reconcile.Request{
		Subject: domain.Subject{Type: domain.SubjectListing, ID: "L2"},
		From:    time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
	}
	report := &reconcile.Report{Subject: want.Subject, From: "2026-10-01", To: "2026-10-05"}
	runner.On("Run", mock.Anything, want).Return(report, nil)

	got, err := service.Reconcile(context.Background(), &dto.ReconciliationQuery{
		SubjectType: "listing", SubjectID: "L2", From: "2026-10-01", To: "2026-10-05",
	})

	require.NoError(t, err)
	assert.Same(t, report, got)
	runner.AssertExpectations(t)
}

func TestReconcileService_Reconcile_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query dto.ReconciliationQuery
		field string
	}{
		{name: "subject", query: dto.ReconciliationQuery{SubjectType: "listing", From: "2026-10-01", To: "2026-10-05"}, field: "subject_id"},
		{name: "from", query: dto.ReconciliationQuery{SubjectType: "listing", SubjectID: "L1", From: "yesterday", To: "2026-10-05"}, field: "from"},
		{name: "window", query: dto.ReconciliationQuery{SubjectType: "listing", SubjectID: "L1", From: "2026-01-01", To: "2026-10-05"}, field: "to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockReportRunner)
			service := NewReconcileService(runner, zap.NewNop())

			_, err := service.Reconcile(context.Background(), &tt.query)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}
