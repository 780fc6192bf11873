package effects

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
)

func TestRunner_Run_IsolatesFailures(t *testing.T) {
	m := metrics.NewNop()
	runner := NewRunner(4, m, zap.NewNop())

	var applied atomic.Int32
	ok := func(ctx context.Context) error {
		applied.Add(1)
		return nil
	}

	result := runner.Run(context.Background(), []Effect{
		{Name: "listing", Apply: ok},
		{Name: "profile", Apply: func(ctx context.Context) error { return errors.New("deadlock detected") }},
		{Name: "development", Apply: ok},
		{Name: "global", Apply: func(ctx context.Context) error { panic("boom") }},
		{Name: "snapshot", Apply: ok},
	})

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, int32(3), applied.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EffectFailures.WithLabelValues("profile")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EffectPanics))
}

func TestRunner_Run_Empty(t *testing.T) {
	runner := NewRunner(0, nil, zap.NewNop())

	result := runner.Run(context.Background(), nil)

	assert.Equal(t, Result{}, result)
}

func TestRunner_Run_BoundsConcurrency(t *testing.T) {
	runner := NewRunner(2, nil, zap.NewNop())

	var current, peak atomic.Int32
	eff := Effect{Name: "slow", Apply: func(ctx context.Context) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	}}

	result := runner.Run(context.Background(), []Effect{eff, eff, eff, eff, eff, eff})

	assert.Equal(t, 6, result.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunner_Dispatch_SurvivesCallerCancellation(t *testing.T) {
	runner := NewRunner(0, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	runner.Dispatch(ctx, []Effect{{Name: "rollup", Apply: func(ctx context.Context) error {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}}})

	<-started
	cancel()
	close(release)
	runner.Wait()

	assert.False(t, sawCancel.Load())
}
