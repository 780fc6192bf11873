package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
)

const defaultInitialBackoff = time.Second

// SchedulerConfig tunes batch runs
type SchedulerConfig struct {
	WindowDays     int
	MaxAttempts    int
	ApplyFixes     bool
	InitialBackoff time.Duration
}

// RunSummary describes one batch run over every active subject
type RunSummary struct {
	Subjects         int `json:"subjects"`
	ListerAggregates int `json:"lister_aggregates"`
	Reports          int `json:"reports"`
	Partial          int `json:"partial"`
	Failed           int `json:"failed"`
	MajorFields      int `json:"major_fields"`
	DaysCorrected    int `json:"days_corrected"`
	RollupsHealed    int `json:"rollups_healed"`
	RollupsSkipped   int `json:"rollups_skipped"`
}

// Scheduler runs reconciliation over all active subjects on a cron schedule.
// Only one run is active at a time; overlapping windows are never reconciled
// concurrently by the same scheduler.
type Scheduler struct {
	engine    *Engine
	corrector *Corrector
	auditor   *LeadRollupAuditor
	subjects  SubjectLister
	cfg       SchedulerConfig
	cron      *cron.Cron
	running   atomic.Bool
	now       func() time.Time
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewScheduler creates a new scheduler. corrector and auditor may be nil.
func NewScheduler(engine *Engine, corrector *Corrector, auditor *LeadRollupAuditor, subjects SubjectLister, cfg SchedulerConfig, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		engine:    engine,
		corrector: corrector,
		auditor:   auditor,
		subjects:  subjects,
		cfg:       cfg,
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:       time.Now,
		metrics:   m,
		log:       log,
	}
}

// Start registers the batch run on schedule and starts the cron loop
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		summary, err := s.RunOnce(ctx)
		if errors.Is(err, ErrRunInProgress) {
			if s.metrics != nil {
				s.metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
			}
			s.log.Warn("Previous reconciliation still running, skipping tick")
			return
		}
		if err != nil {
			s.log.Error("Scheduled reconciliation failed", zap.Error(err))
			return
		}
		s.log.Info("Scheduled reconciliation finished",
			zap.Int("subjects", summary.Subjects),
			zap.Int("failed", summary.Failed),
			zap.Int("major_fields", summary.MajorFields))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation %q: %w", schedule, err)
	}

	s.cron.Start()
	s.log.Info("Reconciliation scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop stops the cron loop and waits for a running job
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Reconciliation scheduler stopped")
}

// Window returns the default window: the last WindowDays full days.
func (s *Scheduler) Window() (time.Time, time.Time) {
	today := domain.Day(s.now())
	return today.AddDate(0, 0, -s.cfg.WindowDays), today.AddDate(0, 0, -1)
}

// RunOnce reconciles every subject with snapshots in the window. With fixes
// enabled it also heals the lister aggregate rollups.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	from, to := s.Window()
	subjects, err := s.subjects.ListActiveSubjects(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	summary := &RunSummary{Subjects: len(subjects)}
	for _, subject := range subjects {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		s.reconcileSubject(ctx, Request{Subject: subject, From: from, To: to}, summary)
	}

	if !s.cfg.ApplyFixes || s.auditor == nil {
		return summary, nil
	}
	aggregates, err := s.auditor.ListerAggregates(ctx)
	if err != nil {
		s.log.Error("Failed to list lister aggregates", zap.Error(err))
		return summary, nil
	}
	summary.ListerAggregates = len(aggregates)
	for _, subject := range aggregates {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		s.healRollups(ctx, subject, summary)
	}
	return summary, nil
}

func (s *Scheduler) reconcileSubject(ctx context.Context, req Request, summary *RunSummary) {
	report, err := s.RunWithRetry(ctx, req)
	if err != nil {
		summary.Failed++
		s.log.Error("Reconciliation failed",
			zap.String("subject", req.Subject.String()),
			zap.Error(err))
		return
	}
	summary.Reports++
	summary.MajorFields += report.Summary.Major
	if report.Partial {
		summary.Partial++
	}

	if !s.cfg.ApplyFixes {
		return
	}
	if s.corrector != nil && !report.Partial {
		result, err := s.corrector.Apply(ctx, report)
		if err != nil {
			s.log.Error("Failed to apply corrections", zap.String("subject", req.Subject.String()), zap.Error(err))
		}
		summary.DaysCorrected += result.Applied
	}
	if s.auditor != nil {
		s.healRollups(ctx, req.Subject, summary)
	}
}

func (s *Scheduler) healRollups(ctx context.Context, subject domain.Subject, summary *RunSummary) {
	audit, err := s.auditor.Audit(ctx, subject)
	if err != nil {
		s.log.Error("Failed to audit rollups", zap.String("subject", subject.String()), zap.Error(err))
		return
	}
	if audit.Summary.Minor+audit.Summary.Major == 0 {
		return
	}
	healed, err := s.auditor.Apply(ctx, audit)
	switch {
	case err != nil:
		s.log.Error("Failed to heal rollups", zap.String("subject", subject.String()), zap.Error(err))
	case healed:
		summary.RollupsHealed++
	default:
		summary.RollupsSkipped++
	}
}

// RunWithRetry runs one reconciliation, retrying the whole run with
// exponential backoff when the event source fails.
func (s *Scheduler) RunWithRetry(ctx context.Context, req Request) (*Report, error) {
	delay := s.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		report, err := s.engine.Run(ctx, req)
		if err == nil {
			return report, nil
		}
		lastErr = err

		var fetchErr *domain.SourceFetchError
		if !errors.As(err, &fetchErr) || attempt == s.cfg.MaxAttempts {
			break
		}

		s.log.Warn("Event source failed, retrying reconciliation",
			zap.String("subject", req.Subject.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("reconciliation of %s failed: %w", req.Subject, lastErr)
}
