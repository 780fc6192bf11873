package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
)

// maxReconcileWindowDays caps on-demand windows; wider audits go through the reconciler.
const maxReconcileWindowDays = 92

// ReconcileService runs read-only reconciliation reports on demand
type ReconcileService struct {
	runner ReportRunner
	log    *zap.Logger
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(runner ReportRunner, log *zap.Logger) *ReconcileService {
	return &ReconcileService{
		runner: runner,
		log:    log,
	}
}

// Reconcile compares replayed and stored aggregates for one subject. It never
// writes corrections.
func (s *ReconcileService) Reconcile(ctx context.Context, q *dto.ReconciliationQuery) (*reconcile.Report, error) {
	subject, err := domain.ParseSubject(q.SubjectType, q.SubjectID)
	if err != nil {
		return nil, err
	}
	from, err := time.Parse(time.DateOnly, q.From)
	if err != nil {
		return nil, &domain.ValidationError{Field: "from", Reason: "expected yyyy-mm-dd"}
	}
	to, err := time.Parse(time.DateOnly, q.To)
	if err != nil {
		return nil, &domain.ValidationError{Field: "to", Reason: "expected yyyy-mm-dd"}
	}
	if to.Sub(from) > maxReconcileWindowDays*24*time.Hour {
		s.log.Warn("Reconciliation window too large",
			zap.String("subject", subject.String()),
			zap.String("from", q.From),
			zap.String("to", q.To))
		return nil, &domain.ValidationError{Field: "to", Reason: "window exceeds 92 days"}
	}

	return s.runner.Run(ctx, reconcile.Request{Subject: subject, From: from, To: to})
}
