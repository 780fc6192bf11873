// Package effects executes lists of independent side effects so that one
// failing effect never blocks, cancels or rolls back its siblings.
package effects

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
)

// Effect is one typed side-effect descriptor
type Effect struct {
	Name  string
	Apply func(ctx context.Context) error
}

// Result summarises one Run
type Result struct {
	Succeeded int
	Failed    int
	Errors    []error
}

// Runner executes effects with a bounded number of concurrent workers
type Runner struct {
	workers  int
	metrics  *metrics.Metrics
	log      *zap.Logger
	inflight sync.WaitGroup
}

// NewRunner creates a runner. workers <= 0 means one goroutine per effect.
func NewRunner(workers int, m *metrics.Metrics, log *zap.Logger) *Runner {
	return &Runner{
		workers: workers,
		metrics: m,
		log:     log,
	}
}

// Run applies all effects concurrently and waits for them. Errors are logged
// and returned in the Result, never as a single aggregate failure.
func (r *Runner) Run(ctx context.Context, effects []Effect) Result {
	if len(effects) == 0 {
		return Result{}
	}

	limit := r.workers
	if limit <= 0 || limit > len(effects) {
		limit = len(effects)
	}
	sem := make(chan struct{}, limit)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded atomic.Int64
		errs      []error
	)

	for _, eff := range effects {
		wg.Add(1)
		sem <- struct{}{}
		go func(eff Effect) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.apply(ctx, eff); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			succeeded.Add(1)
		}(eff)
	}
	wg.Wait()

	return Result{
		Succeeded: int(succeeded.Load()),
		Failed:    len(errs),
		Errors:    errs,
	}
}

// Dispatch runs effects in the background, detached from ctx cancellation so
// that a caller going away cannot abandon writes halfway.
func (r *Runner) Dispatch(ctx context.Context, effects []Effect) {
	if len(effects) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.Run(detached, effects)
	}()
}

// Wait blocks until every dispatched batch has finished.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

func (r *Runner) apply(ctx context.Context, eff Effect) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("effect %s panicked: %v", eff.Name, rec)
			if r.metrics != nil {
				r.metrics.EffectPanics.Inc()
			}
			r.log.Error("Effect panicked", zap.String("effect", eff.Name), zap.Any("panic", rec))
		}
	}()

	if err := eff.Apply(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.EffectFailures.WithLabelValues(eff.Name).Inc()
		}
		r.log.Warn("Effect failed", zap.String("effect", eff.Name), zap.Error(err))
		return fmt.Errorf("effect %s: %w", eff.Name, err)
	}
	return nil
}
