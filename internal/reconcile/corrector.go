package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// CorrectionResult counts what Apply did per day
type CorrectionResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Corrector overwrites drifted snapshot days with replayed totals
type Corrector struct {
	snapshots SnapshotWriter
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewCorrector creates a new corrector
func NewCorrector(snapshots SnapshotWriter, m *metrics.Metrics, log *zap.Logger) *Corrector {
	return &Corrector{snapshots: snapshots, metrics: m, log: log}
}

// Apply replaces every drifted day of the report. A day whose watermark moved
// since the report read it is skipped and left for the next run. Partial
// reports are refused since their replayed totals are incomplete.
func (c *Corrector) Apply(ctx context.Context, report *Report) (CorrectionResult, error) {
	var result CorrectionResult
	if report.Partial {
		return result, fmt.Errorf("refusing to correct %s from a partial report", report.Subject)
	}

	for _, day := range report.Drifted() {
		d, err := time.Parse(time.DateOnly, day.Day)
		if err != nil {
			return result, fmt.Errorf("failed to parse report day %q: %w", day.Day, err)
		}

		values := make(map[string]int64, len(day.Fields))
		for _, f := range day.Fields {
			values[f.Metric] = f.Replayed
		}

		err = c.snapshots.ReplaceDay(ctx, report.Subject, d, values, report.Watermark(day.Day))
		switch {
		case err == nil:
			result.Applied++
			c.count("applied")
			c.log.Info("Snapshot day corrected",
				zap.String("subject", report.Subject.String()),
				zap.String("day", day.Day))
		case errors.Is(err, repository.ErrWatermarkMoved):
			result.Skipped++
			c.count("watermark_moved")
			c.log.Warn("Snapshot day changed since reconciliation, skipping",
				zap.String("subject", report.Subject.String()),
				zap.String("day", day.Day))
		default:
			result.Failed++
			c.count("failed")
			c.log.Error("Failed to correct snapshot day",
				zap.String("subject", report.Subject.String()),
				zap.String("day", day.Day),
				zap.Error(err))
		}
	}
	return result, nil
}

func (c *Corrector) count(outcome string) {
	if c.metrics != nil {
		c.metrics.CorrectionsApplied.WithLabelValues(outcome).Inc()
	}
}

// RollupAudit compares stored rollup columns with counts recomputed from leads
type RollupAudit struct {
	Subject domain.Subject    `json:"subject"`
	Fields  []FieldComparison `json:"fields"`
	Summary Summary           `json:"summary"`

	recomputed map[string]int64
	version    int64
}

// LeadRollupAuditor heals lead rollup columns from the lead table
type LeadRollupAuditor struct {
	leads   LeadCounter
	rollups RollupStore
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewLeadRollupAuditor creates a new auditor
func NewLeadRollupAuditor(leads LeadCounter, rollups RollupStore, m *metrics.Metrics, log *zap.Logger) *LeadRollupAuditor {
	return &LeadRollupAuditor{leads: leads, rollups: rollups, metrics: m, log: log}
}

// ListerAggregates returns one lister_aggregate subject per lister type
// present in the lead table. These subjects never carry snapshots, so the
// batch run enumerates them here.
func (a *LeadRollupAuditor) ListerAggregates(ctx context.Context) ([]domain.Subject, error) {
	types, err := a.leads.ListListerTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lister types: %w", err)
	}
	subjects := make([]domain.Subject, 0, len(types))
	for _, t := range types {
		subjects = append(subjects, domain.Subject{Type: domain.SubjectListerAggregate, ID: t})
	}
	return subjects, nil
}

// Audit recomputes subject's rollups. Recomputed counts play the replayed role.
func (a *LeadRollupAuditor) Audit(ctx context.Context, subject domain.Subject) (*RollupAudit, error) {
	stored, version, err := a.rollups.ReadRollups(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}
	recomputed, err := a.leads.CountRollups(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute rollups: %w", err)
	}

	audit := &RollupAudit{Subject: subject, recomputed: recomputed, version: version}
	for _, col := range domain.RollupColumns {
		// rollup columns are exact counts, no sketch band
		fc := compare(col, recomputed[col], stored[col], false)
		audit.Fields = append(audit.Fields, fc)
		audit.Summary.add(fc.Status)
	}
	return audit, nil
}

// Apply overwrites the rollups of an audit that found drift. It returns false
// when a live increment bumped the row after the audit read it.
func (a *LeadRollupAuditor) Apply(ctx context.Context, audit *RollupAudit) (bool, error) {
	if audit.Summary.Minor == 0 && audit.Summary.Major == 0 {
		return true, nil
	}

	ok, err := a.rollups.OverwriteRollups(ctx, audit.Subject, audit.recomputed, audit.version)
	if err != nil {
		return false, fmt.Errorf("failed to overwrite rollups: %w", err)
	}
	if !ok {
		if a.metrics != nil {
			a.metrics.CorrectionsApplied.WithLabelValues("rollup_version_moved").Inc()
		}
		a.log.Warn("Rollup row changed since audit, skipping",
			zap.String("subject", audit.Subject.String()))
		return false, nil
	}
	if a.metrics != nil {
		a.metrics.CorrectionsApplied.WithLabelValues("rollup_applied").Inc()
	}
	a.log.Info("Rollups healed",
		zap.String("subject", audit.Subject.String()),
		zap.Int("major", audit.Summary.Major),
		zap.Int("minor", audit.Summary.Minor))
	return true, nil
}
