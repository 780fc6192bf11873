package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/classifier"
	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// partition identifies one snapshot row
type partition struct {
	subject domain.Subject
	day     time.Time
	hour    int
	metric  string
}

// Processor turns stored raw events into counter and snapshot effects
type Processor struct {
	store     *counter.Store
	snapshots repository.SnapshotRepository
	runner    *effects.Runner
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewProcessor creates a new event processor
func NewProcessor(store *counter.Store, snapshots repository.SnapshotRepository, runner *effects.Runner, m *metrics.Metrics, log *zap.Logger) *Processor {
	return &Processor{
		store:     store,
		snapshots: snapshots,
		runner:    runner,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Process classifies events and applies their ops. Counter ops run first as
// independent effects; snapshot writes follow, merged per partition so a
// batch costs one upsert per row. Failures are isolated per effect and never
// returned: the raw events are already durable and reconciliation heals drift.
func (p *Processor) Process(ctx context.Context, events []*domain.RawEvent) effects.Result {
	now := p.now()
	var ops []classifier.Op
	for _, e := range events {
		eventOps, err := classifier.Classify(e, now)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				p.dropped(e.EventName, "validation")
				p.log.Debug("Event dropped",
					zap.String("event_id", e.EventID),
					zap.String("event_name", e.EventName),
					zap.String("field", verr.Field))
				continue
			}
			p.dropped(e.EventName, "error")
			continue
		}
		if len(eventOps) == 0 {
			p.dropped(e.EventName, "unknown")
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsClassified.WithLabelValues(e.EventName).Inc()
			p.metrics.OpsEmitted.Add(float64(len(eventOps)))
		}
		ops = append(ops, eventOps...)
	}
	if len(ops) == 0 {
		return effects.Result{}
	}

	counterResult := p.runner.Run(ctx, p.counterEffects(ops))
	snapshotResult := p.runner.Run(ctx, p.snapshotEffects(ops))

	return effects.Result{
		Succeeded: counterResult.Succeeded + snapshotResult.Succeeded,
		Failed:    counterResult.Failed + snapshotResult.Failed,
		Errors:    append(counterResult.Errors, snapshotResult.Errors...),
	}
}

func (p *Processor) counterEffects(ops []classifier.Op) []effects.Effect {
	out := make([]effects.Effect, 0, len(ops))
	for _, op := range ops {
		op := op
		out = append(out, effects.Effect{
			Name: "counter_" + op.Kind.String(),
			Apply: func(ctx context.Context) error {
				switch op.Kind {
				case classifier.OpIncrement:
					p.store.Increment(ctx, op.Key(), op.Amount)
				case classifier.OpAddUnique:
					p.store.AddUnique(ctx, op.Key(), op.Member)
				case classifier.OpIncrementField:
					p.store.IncrementField(ctx, op.Key(), op.Field, op.Amount)
				case classifier.OpSetLookup:
					p.store.SetLookup(ctx, op.Subject, op.Metric, op.Value)
				}
				return nil
			},
		})
	}
	return out
}

func (p *Processor) snapshotEffects(ops []classifier.Op) []effects.Effect {
	increments := make(map[partition]int64)
	uniques := make(map[partition]counter.Key)
	for _, op := range ops {
		if !op.Mirrored() {
			continue
		}
		part := partition{subject: op.Subject, day: op.Day, hour: op.Hour, metric: op.Metric}
		switch op.Kind {
		case classifier.OpIncrement:
			increments[part] += op.Amount
		case classifier.OpAddUnique:
			uniques[part] = op.Key()
		}
	}

	out := make([]effects.Effect, 0, len(increments)+len(uniques))
	for _, part := range sortedPartitions(increments) {
		part, amount := part, increments[part]
		out = append(out, effects.Effect{
			Name: "snapshot_increment",
			Apply: func(ctx context.Context) error {
				return p.snapshots.Increment(ctx, part.subject, part.day, part.hour, part.metric, amount)
			},
		})
	}
	for part, key := range uniques {
		part, key := part, key
		out = append(out, effects.Effect{
			Name: "snapshot_unique",
			Apply: func(ctx context.Context) error {
				// the sketch is per day, so its count is the day-to-date cardinality
				n, err := p.store.CountUnique(ctx, key)
				if err != nil {
					return fmt.Errorf("failed to count %s: %w", key, err)
				}
				return p.snapshots.RaiseTo(ctx, part.subject, part.day, part.hour, part.metric, n)
			},
		})
	}
	return out
}

func sortedPartitions(m map[partition]int64) []partition {
	out := make([]partition, 0, len(m))
	for part := range m {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.subject != b.subject {
			return a.subject.String() < b.subject.String()
		}
		if !a.day.Equal(b.day) {
			return a.day.Before(b.day)
		}
		if a.hour != b.hour {
			return a.hour < b.hour
		}
		return a.metric < b.metric
	})
	return out
}

func (p *Processor) dropped(eventName, reason string) {
	if p.metrics != nil {
		p.metrics.EventsDropped.WithLabelValues(eventName, reason).Inc()
	}
}
