// Package metrics holds the Prometheus instruments shared by the API, the
// consumer and the reconciler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lead_analytics"

// Metrics holds all service Prometheus metrics
type Metrics struct {
	// Counter store
	CounterStoreFailures *prometheus.CounterVec

	// Consumer
	MessagesMalformed prometheus.Counter
	EventsStored      prometheus.Counter

	// Classification
	EventsClassified *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	OpsEmitted       prometheus.Counter

	// Effects
	EffectFailures *prometheus.CounterVec
	EffectPanics   prometheus.Counter

	// Leads
	LeadsRecorded    *prometheus.CounterVec
	LeadConflicts    prometheus.Counter
	RollupFailures   *prometheus.CounterVec
	LeadWriteLatency prometheus.Histogram

	// Reconciliation
	ReconcileRuns      *prometheus.CounterVec
	ReconcileFields    *prometheus.CounterVec
	ReconcilePages     prometheus.Counter
	ReconcileDuration  prometheus.Histogram
	CorrectionsApplied *prometheus.CounterVec
}

// New registers the metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CounterStoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_store_failures_total",
			Help:      "Counter store writes that failed and were swallowed",
		}, []string{"op"}),
		MessagesMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Queue messages that could not be parsed and were deleted",
		}),
		EventsStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Raw events written to the event log",
		}),
		EventsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_classified_total",
			Help:      "Raw events classified into counter ops",
		}, []string{"event_name"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Raw events that produced no ops",
		}, []string{"event_name", "reason"}),
		OpsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_emitted_total",
			Help:      "Counter ops emitted by the classifier",
		}),
		EffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_failures_total",
			Help:      "Side effects that failed in isolation",
		}, []string{"effect"}),
		EffectPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_panics_total",
			Help:      "Side effects that panicked and were recovered",
		}),
		LeadsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_recorded_total",
			Help:      "Lead actions recorded, by whether a new lead was created",
		}, []string{"created"}),
		LeadConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_write_conflicts_total",
			Help:      "Optimistic concurrency conflicts on lead writes",
		}),
		RollupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_failures_total",
			Help:      "Rollup increments that failed and await reconciliation",
		}, []string{"subject_type"}),
		LeadWriteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lead_write_duration_seconds",
			Help:      "Latency of the primary lead write",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by outcome",
		}, []string{"outcome"}),
		ReconcileFields: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_fields_total",
			Help:      "Compared fields by classification",
		}, []string{"status"}),
		ReconcilePages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_pages_fetched_total",
			Help:      "Event pages fetched by reconciliation",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		CorrectionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_applied_total",
			Help:      "Reconciliation corrections by outcome",
		}, []string{"outcome"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
