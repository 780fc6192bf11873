// Package reconcile replays raw events into exact per-day totals and compares
// them with the stored aggregate snapshots. Runs are read-only; writing
// corrections is a separate, explicit step.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

const (
	DefaultPageSize = 1000
	DefaultMaxPages = 100
)

// Request selects the subject and the inclusive day window to reconcile
type Request struct {
	Subject domain.Subject
	From    time.Time
	To      time.Time
}

// Config tunes paging
type Config struct {
	PageSize       int
	MaxPages       int
	PagesPerSecond float64
}

// Engine runs reconciliations
type Engine struct {
	events    EventSource
	snapshots SnapshotReader
	limiter   *rate.Limiter
	pageSize  int
	maxPages  int
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewEngine creates a new reconciliation engine. PagesPerSecond <= 0 disables pacing.
func NewEngine(events EventSource, snapshots SnapshotReader, cfg Config, m *metrics.Metrics, log *zap.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}

	return &Engine{
		events:    events,
		snapshots: snapshots,
		limiter:   limiter,
		pageSize:  cfg.PageSize,
		maxPages:  cfg.MaxPages,
		metrics:   m,
		log:       log,
	}
}

// Run reconciles one subject over the request window. A failed page fetch
// aborts the run with a *domain.SourceFetchError and no report.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if !req.Subject.Type.Valid() || req.Subject.ID == "" {
		return nil, &domain.ValidationError{Field: "subject", Reason: fmt.Sprintf("invalid subject %q", req.Subject)}
	}
	from, to := domain.Day(req.From), domain.Day(req.To)
	if to.Before(from) {
		return nil, &domain.ValidationError{Field: "to", Reason: "before from"}
	}
	req.From, req.To = from, to

	start := time.Now()
	log := e.log.With(zap.String("subject", req.Subject.String()),
		zap.String("from", domain.DayString(from)),
		zap.String("to", domain.DayString(to)))

	events, pages, partial, err := e.fetch(ctx, req)
	if err != nil {
		e.outcome("fetch_error")
		return nil, err
	}

	matched := make([]*domain.RawEvent, 0, len(events))
	for _, ev := range events {
		if domain.MatchesSubject(ev, req.Subject) {
			matched = append(matched, ev)
		}
	}
	replayed := Fold(matched, req.Subject)

	parts, err := e.snapshots.LoadSnapshots(ctx, req.Subject, from, to)
	if err != nil {
		e.outcome("snapshot_error")
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	report := buildReport(req, replayed, domain.MergeDay(parts))
	report.Partial = partial
	report.EventsScanned = len(events)
	report.PagesFetched = pages

	if e.metrics != nil {
		e.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		e.metrics.ReconcileFields.WithLabelValues(string(StatusMatch)).Add(float64(report.Summary.Match))
		e.metrics.ReconcileFields.WithLabelValues(string(StatusMinor)).Add(float64(report.Summary.Minor))
		e.metrics.ReconcileFields.WithLabelValues(string(StatusMajor)).Add(float64(report.Summary.Major))
	}
	if partial {
		e.outcome("partial")
		log.Warn("Reconciliation hit the page cap, report is partial",
			zap.Int("pages_fetched", pages),
			zap.Int("max_pages", e.maxPages))
	} else {
		e.outcome("complete")
	}

	log.Info("Reconciliation finished",
		zap.Int("events_scanned", len(events)),
		zap.Int("events_matched", len(matched)),
		zap.Int("missing_days", len(report.MissingDays)),
		zap.Int("extra_days", len(report.ExtraDays)),
		zap.Int("major", report.Summary.Major),
		zap.Duration("duration", time.Since(start)))

	return report, nil
}

// fetch pages through the window. It reports partial when the page cap stops
// it while the source still has more.
func (e *Engine) fetch(ctx context.Context, req Request) ([]*domain.RawEvent, int, bool, error) {
	query := repository.EventQuery{
		Names: domain.RelevantEventNames(req.Subject.Type),
		From:  req.From,
		To:    req.To.AddDate(0, 0, 1),
		Limit: e.pageSize,
	}

	var (
		events []*domain.RawEvent
		pages  int
	)
	for {
		if pages >= e.maxPages {
			return events, pages, true, nil
		}
		if pages > 0 {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, pages, false, &domain.SourceFetchError{Offset: query.Offset, Err: err}
			}
		} else {
			// the first page spends the initial token so the next one waits
			e.limiter.Allow()
		}

		page, err := e.events.FetchEvents(ctx, query)
		if err != nil {
			return nil, pages, false, &domain.SourceFetchError{Offset: query.Offset, Err: err}
		}
		pages++
		if e.metrics != nil {
			e.metrics.ReconcilePages.Inc()
		}
		events = append(events, page.Events...)

		if !page.HasMore {
			return events, pages, false, nil
		}
		query.Offset = page.NextOffset
	}
}

func (e *Engine) outcome(label string) {
	if e.metrics != nil {
		e.metrics.ReconcileRuns.WithLabelValues(label).Inc()
	}
}
