package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter handles batching raw events into the event log and applying
// their side effects once they are durable
type BatchWriter struct {
	repository repository.EventRepository
	processor  EventProcessor
	config     BatchWriterConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(repo repository.EventRepository, processor EventProcessor, config BatchWriterConfig, m *metrics.Metrics, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		repository: repo,
		processor:  processor,
		config:     config,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Start begins processing envelopes, batching, and writing to the repository
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			if len(batch) > 0 {
				w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
				w.processBatch(context.WithoutCancel(ctx), batch)
			}
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				if len(batch) > 0 {
					w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
					w.processBatch(ctx, batch)
				}
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("envelope_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// processBatch inserts the batch, acks it, then applies side effects.
// Effects run after the ack so a redelivered message is never counted twice;
// effects lost to a crash in between are restored by reconciliation.
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	w.stampMissingTimestamps(envelopes)

	var (
		events        []*domain.RawEvent
		insertedCount int
		err           error
	)
	for {
		events = make([]*domain.RawEvent, len(envelopes))
		for i, env := range envelopes {
			events[i] = env.Event
		}

		insertedCount, err = w.repository.InsertBatch(ctx, events)

		var malformed *repository.MalformedEventError
		if !errors.As(err, &malformed) {
			break
		}
		remaining, dropped := w.dropMalformed(ctx, envelopes, malformed)
		if !dropped {
			break
		}
		if len(remaining) == 0 {
			return
		}
		envelopes = remaining
	}

	if err != nil {
		w.log.Error("Failed to insert batch",
			zap.Error(err),
			zap.Int("event_count", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	if insertedCount != len(events) {
		w.log.Warn("Partial insert success",
			zap.Int("inserted", insertedCount),
			zap.Int("expected", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.log.Info("Successfully inserted events",
		zap.Int("count", insertedCount))
	if w.metrics != nil {
		w.metrics.EventsStored.Add(float64(insertedCount))
	}
	w.ackAll(ctx, envelopes)

	if w.processor == nil {
		return
	}
	result := w.processor.Process(ctx, events)
	if result.Failed > 0 {
		w.log.Warn("Some side effects failed",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed))
	}
}

// stampMissingTimestamps gives timestamp-less events the processing time
// before they are stored, so live counters and replay use the same day.
func (w *BatchWriter) stampMissingTimestamps(envelopes []*Envelope) {
	// the event log keeps millisecond precision
	now := w.now().UTC().Truncate(time.Millisecond)
	for _, env := range envelopes {
		if env.Event.Timestamp.IsZero() {
			env.Event.Timestamp = now
		}
	}
}

// dropMalformed deletes the one message the event log cannot store and
// returns the rest of the batch. It reports false when the event is not in
// the batch.
func (w *BatchWriter) dropMalformed(ctx context.Context, envelopes []*Envelope, malformed *repository.MalformedEventError) ([]*Envelope, bool) {
	for i, env := range envelopes {
		if env.Event.EventID != malformed.EventID {
			continue
		}
		w.log.Warn("Dropping event the event log cannot store",
			zap.String("event_id", malformed.EventID),
			zap.Error(malformed.Err))
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to delete malformed message", zap.Error(err))
		}
		if w.metrics != nil {
			w.metrics.MessagesMalformed.Inc()
		}
		remaining := make([]*Envelope, 0, len(envelopes)-1)
		remaining = append(remaining, envelopes[:i]...)
		return append(remaining, envelopes[i+1:]...), true
	}
	return envelopes, false
}

// ackAll acknowledges all envelopes (deletes from SQS)
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.Error(err))
		}
	}
}

// nackAll negatively acknowledges all envelopes (leaves in SQS for retry)
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
