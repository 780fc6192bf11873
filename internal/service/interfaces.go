package service

import (
	"context"

	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
)

// EventServicer defines the interface for event service operations
type EventServicer interface {
	ProcessEvent(ctx context.Context, event *dto.PublishEventRequest) (string, error)
	ProcessBulkEvents(ctx context.Context, events []dto.PublishEventRequest) ([]string, []string, error)
}

// LeadServicer defines the interface for lead service operations
type LeadServicer interface {
	RecordLead(ctx context.Context, req *dto.RecordLeadRequest) (*dto.LeadResponse, error)
}

// CounterServicer defines the interface for counter reads
type CounterServicer interface {
	GetCounter(ctx context.Context, q *dto.CounterQuery) (*dto.CounterResponse, error)
	GetUnique(ctx context.Context, q *dto.CounterQuery) (*dto.CounterResponse, error)
}

// ReconcileServicer defines the interface for on-demand reconciliation
type ReconcileServicer interface {
	Reconcile(ctx context.Context, q *dto.ReconciliationQuery) (*reconcile.Report, error)
}

// LeadRecorder is the lead aggregator as seen by the service
type LeadRecorder interface {
	RecordLeadAction(ctx context.Context, in lead.Input) (*lead.Result, error)
}

// CounterReader is the read side of the counter store
type CounterReader interface {
	Get(ctx context.Context, key counter.Key) (int64, error)
	GetField(ctx context.Context, key counter.Key, field string) (int64, error)
	CountUnique(ctx context.Context, key counter.Key) (int64, error)
}

// ReportRunner produces reconciliation reports
type ReportRunner interface {
	Run(ctx context.Context, req reconcile.Request) (*reconcile.Report, error)
}

var (
	_ CounterReader = (*counter.Store)(nil)
	_ LeadRecorder  = (*lead.Aggregator)(nil)
	_ ReportRunner  = (*reconcile.Engine)(nil)
)
