// Package lead deduplicates contact actions into canonical lead records and
// fans new leads out into rollup counters.
package lead

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 10 * time.Millisecond
	maxRetryBackoff     = 500 * time.Millisecond
)

// Input is one contact action as resolved by the web layer
type Input struct {
	LeadType       string
	LeadSubType    string
	ContextType    string
	ContextID      string
	ListerID       string
	ListerType     string
	SeekerID       string
	IsAnonymous    bool
	ActionMetadata map[string]any
	Timestamp      time.Time
}

// Result is the outcome of RecordLeadAction
type Result struct {
	Lead    *domain.LeadRecord
	Created bool
}

// Config tunes the aggregator. RetryBackoff is the base delay between
// conflicting writes; it doubles per attempt and is jittered.
type Config struct {
	MaxAttempts  int
	LockStripes  int
	RetryBackoff time.Duration
}

// Aggregator records lead actions
type Aggregator struct {
	repo        Repository
	rollups     RollupWriter
	runner      *effects.Runner
	locks       *KeyLock
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewAggregator creates a new lead aggregator
func NewAggregator(repo Repository, rollups RollupWriter, runner *effects.Runner, cfg Config, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Aggregator{
		repo:        repo,
		rollups:     rollups,
		runner:      runner,
		locks:       NewKeyLock(cfg.LockStripes),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		metrics:     m,
		log:         log,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// RecordLeadAction appends the action to the lead for its dedup key, creating
// the lead on first contact. Only creation fans out rollup increments; those
// run in the background and their failures never reach the caller.
//
// Lost write races are retried with jittered exponential backoff. Once
// MaxAttempts races are lost the call fails with ErrVersionConflict and the
// caller may resubmit the same action.
func (a *Aggregator) RecordLeadAction(ctx context.Context, in Input) (*Result, error) {
	key, action, err := a.normalize(in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.LeadWriteLatency.Observe(time.Since(start).Seconds())
		}
	}()

	unlock := a.locks.Lock(key.String())
	defer unlock()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		existing, err := a.repo.FindLatest(ctx, key, in.ListerID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up lead: %w", err)
		}

		if existing != nil {
			next := existing.Append(action)
			err := a.repo.Update(ctx, next, existing.Version)
			if err == nil {
				a.recorded(false)
				a.log.Debug("Lead action appended",
					zap.String("lead_id", next.ID),
					zap.String("dedup_key", key.String()),
					zap.Int("total_actions", next.TotalActions))
				return &Result{Lead: next, Created: false}, nil
			}
			if !isConflict(err) {
				return nil, fmt.Errorf("failed to update lead: %w", err)
			}
			if err := a.conflict(ctx, key, attempt); err != nil {
				return nil, err
			}
			continue
		}

		rec := domain.NewLeadRecord(a.newID(), key, in.ListerID, in.ListerType, action)
		inserted, err := a.repo.Insert(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to insert lead: %w", err)
		}
		if !inserted {
			if err := a.conflict(ctx, key, attempt); err != nil {
				return nil, err
			}
			continue
		}

		a.recorded(true)
		a.log.Info("Lead created",
			zap.String("lead_id", rec.ID),
			zap.String("dedup_key", key.String()),
			zap.String("action_type", action.ActionType))
		a.runner.Dispatch(ctx, a.rollupEffects(rec, action))
		return &Result{Lead: rec, Created: true}, nil
	}

	return nil, fmt.Errorf("failed to record lead action after %d attempts: %w", a.maxAttempts, ErrVersionConflict)
}

func (a *Aggregator) normalize(in Input) (domain.DedupKey, domain.LeadAction, error) {
	leadType, err := domain.ParseLeadType(strings.TrimSpace(in.LeadType))
	if err != nil {
		return domain.DedupKey{}, domain.LeadAction{}, err
	}
	subType, err := domain.ParseLeadSubType(leadType, strings.TrimSpace(in.LeadSubType))
	if err != nil {
		return domain.DedupKey{}, domain.LeadAction{}, err
	}

	contextType := domain.SubjectType(strings.TrimSpace(in.ContextType))
	if !contextType.Valid() {
		return domain.DedupKey{}, domain.LeadAction{}, &domain.ValidationError{Field: "context_type", Reason: fmt.Sprintf("unsupported value %q", in.ContextType)}
	}
	seekerID := strings.TrimSpace(in.SeekerID)
	if seekerID == "" {
		return domain.DedupKey{}, domain.LeadAction{}, &domain.ValidationError{Field: "seeker_id", Reason: "missing"}
	}
	listerID := strings.TrimSpace(in.ListerID)
	if listerID == "" {
		return domain.DedupKey{}, domain.LeadAction{}, &domain.ValidationError{Field: "lister_id", Reason: "missing"}
	}

	contextID := strings.TrimSpace(in.ContextID)
	if contextID == "" {
		if contextType != domain.SubjectProfile {
			return domain.DedupKey{}, domain.LeadAction{}, &domain.ValidationError{Field: "context_id", Reason: "missing"}
		}
		contextID = listerID
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	action := domain.LeadAction{
		Type:       leadType,
		SubType:    subType,
		ActionType: domain.LeadEventName(leadType),
		Score:      domain.Score(leadType, subType),
		Anonymous:  in.IsAnonymous,
		Metadata:   in.ActionMetadata,
		Timestamp:  ts.UTC(),
	}
	key := domain.DedupKey{ContextType: contextType, ContextID: contextID, SeekerID: seekerID}
	return key, action, nil
}

func (a *Aggregator) rollupEffects(rec *domain.LeadRecord, action domain.LeadAction) []effects.Effect {
	increments := RollupIncrements(rec, action)
	out := make([]effects.Effect, 0, len(increments))
	for _, inc := range increments {
		inc := inc
		out = append(out, effects.Effect{
			Name: "rollup_" + string(inc.Subject.Type),
			Apply: func(ctx context.Context) error {
				if err := a.rollups.IncrementRollups(ctx, inc.Subject, inc.Deltas); err != nil {
					if a.metrics != nil {
						a.metrics.RollupFailures.WithLabelValues(string(inc.Subject.Type)).Inc()
					}
					return &domain.RollupWriteError{Subject: inc.Subject, Err: err}
				}
				return nil
			},
		})
	}
	return out
}

func (a *Aggregator) recorded(created bool) {
	if a.metrics == nil {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	a.metrics.LeadsRecorded.WithLabelValues(label).Inc()
}

// conflict records a lost race and waits before the next attempt. No wait
// follows the final attempt.
func (a *Aggregator) conflict(ctx context.Context, key domain.DedupKey, attempt int) error {
	if a.metrics != nil {
		a.metrics.LeadConflicts.Inc()
	}
	if attempt >= a.maxAttempts {
		return nil
	}

	delay := retryDelay(a.backoff, attempt)
	a.log.Debug("Lead write conflict, retrying",
		zap.String("dedup_key", key.String()),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// retryDelay returns a delay in [d/2, d) where d is base doubled per prior
// attempt, capped at maxRetryBackoff.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	half := d / 2
	return half + rand.N(d-half)
}
