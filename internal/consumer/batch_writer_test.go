package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/classifier"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.RawEvent) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockEventRepository) FetchEvents(ctx context.Context, query repository.EventQuery) (*repository.EventPage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.EventPage), args.Error(1)
}

// MockEventProcessor is a mock implementation of EventProcessor
type MockEventProcessor struct {
	mock.Mock
}

func (m *MockEventProcessor) Process(ctx context.Context, events []*domain.RawEvent) effects.Result {
	args := m.Called(ctx, events)
	return args.Get(0).(effects.Result)
}

func createTestEnvelope(eventID string) *Envelope {
	event := &domain.RawEvent{
		EventID:    eventID,
		EventName:  domain.EventPropertyView,
		Properties: map[string]any{"listing_id": "L1", "user_id": "user123"},
		Timestamp:  testTimestamp,
	}

	ack := func(ctx context.Context) error {
		return nil
	}

	nack := func(ctx context.Context) error {
		return nil
	}

	envelope := NewEnvelope(event, ack, nack)
	return envelope
}

func TestBatchWriter_Start_BatchSizeThreshold(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 3,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 3
	})).Return(3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 3 envelopes to trigger batch size threshold
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")

	// Give time for processing
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_TimeoutFlush(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 50 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes (less than max batch size)
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for timeout to trigger flush
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_InsertSuccess(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_Start_InsertFailure(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	insertErr := errors.New("database connection error")
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, insertErr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_PartialInsert(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 3,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	// Repository inserts only 2 out of 3 events
	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 3
	})).Return(2, nil) // Partial success

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 3 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_GracefulShutdown(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan *Envelope, 5)
	done := make(chan bool)

	go func() {
		writer.Start(ctx, in)
		done <- true
	}()

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Give time for messages to be received
	time.Sleep(10 * time.Millisecond)

	// Cancel context to trigger graceful shutdown
	cancel()

	// Wait for shutdown
	select {
	case <-done:
		// Shutdown completed
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Graceful shutdown took too long")
	}

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_InputChannelClosed(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx := context.Background()

	in := make(chan *Envelope, 5)
	done := make(chan bool)

	go func() {
		writer.Start(ctx, in)
		done <- true
	}()

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Close input channel
	close(in)

	// Wait for shutdown
	select {
	case <-done:
		// Shutdown completed
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Shutdown took too long after input channel closed")
	}

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_EmptyBatchNotFlushed(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 50 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Don't send any envelopes

	// Wait for timeout
	<-ctx.Done()

	// InsertBatch should not be called for empty batch
	mockRepo.AssertNotCalled(t, "InsertBatch")
}

func TestBatchWriter_Start_MultipleBatches(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, config, nil, log)

	// Expect two batches of 2 events each
	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(2, nil).Times(2)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 10)
	go writer.Start(ctx, in)

	// Send 4 envelopes (should create 2 batches)
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")
	in <- createTestEnvelope("4")

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertNumberOfCalls(t, "InsertBatch", 2)
}

func TestBatchWriter_ProcessBatch_AppliesEffectsAfterAck(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockProcessor := new(MockEventProcessor)
	m := metrics.NewNop()

	writer := NewBatchWriter(mockRepo, mockProcessor, BatchWriterConfig{MaxBatchSize: 2, FlushTimeout: time.Second}, m, zap.NewNop())

	var order []string
	envelope := func(id string) *Envelope {
		return NewEnvelope(&domain.RawEvent{EventID: id, EventName: domain.EventPropertyView},
			func(context.Context) error { order = append(order, "ack_"+id); return nil },
			func(context.Context) error { order = append(order, "nack_"+id); return nil })
	}

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(2, nil).Once()
	mockProcessor.On("Process", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2 && events[0].EventID == "a" && events[1].EventID == "b"
	})).Run(func(mock.Arguments) { order = append(order, "process") }).
		Return(effects.Result{Succeeded: 4}).Once()

	writer.processBatch(context.Background(), []*Envelope{envelope("a"), envelope("b")})

	assert.Equal(t, []string{"ack_a", "ack_b", "process"}, order)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsStored))
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestBatchWriter_ProcessBatch_InsertFailureSkipsEffects(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockProcessor := new(MockEventProcessor)

	writer := NewBatchWriter(mockRepo, mockProcessor, BatchWriterConfig{MaxBatchSize: 2, FlushTimeout: time.Second}, nil, zap.NewNop())

	nacked := 0
	env := NewEnvelope(&domain.RawEvent{EventID: "a", EventName: domain.EventPropertyView},
		func(context.Context) error { t.Fatal("unexpected ack"); return nil },
		func(context.Context) error { nacked++; return nil })

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("clickhouse unavailable"))

	writer.processBatch(context.Background(), []*Envelope{env})

	assert.Equal(t, 1, nacked)
	mockProcessor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestBatchWriter_ProcessBatch_StampsMissingTimestampBeforeInsert(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockProcessor := new(MockEventProcessor)
	writer := NewBatchWriter(mockRepo, mockProcessor, BatchWriterConfig{MaxBatchSize: 1, FlushTimeout: time.Second}, nil, zap.NewNop())
	processedAt := time.Date(2026, 10, 5, 23, 59, 59, 999_999_999, time.UTC)
	writer.now = func() time.Time { return processedAt }

	event, err := NewJSONEventParser().Parse([]byte(`{"event_id":"e1","event_name":"property_view","properties":{"listing_id":"L1","user_id":"U1"}}`))
	require.NoError(t, err)
	require.True(t, event.Timestamp.IsZero())

	var stored *domain.RawEvent
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).([]*domain.RawEvent)[0]
			assert.False(t, stored.Timestamp.IsZero(), "timestamp must be set before the event is stored")
		}).
		Return(1, nil)
	mockProcessor.On("Process", mock.Anything, mock.Anything).Return(effects.Result{})

	env := NewEnvelope(event, func(context.Context) error { return nil }, func(context.Context) error { return nil })
	writer.processBatch(context.Background(), []*Envelope{env})

	require.NotNil(t, stored)
	assert.Equal(t, processedAt.Truncate(time.Millisecond), stored.Timestamp)

	// the live path classifies at a later wall clock; replay has no clock at all
	listing := domain.Subject{Type: domain.SubjectListing, ID: "L1"}
	liveOps, err := classifier.Classify(stored, processedAt.Add(time.Hour))
	require.NoError(t, err)
	var liveDay time.Time
	for _, op := range liveOps {
		if op.Subject == listing {
			liveDay = op.Day
		}
	}
	replayed := reconcile.Fold([]*domain.RawEvent{stored}, listing)

	assert.Equal(t, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), liveDay)
	require.Len(t, replayed, 1)
	assert.Contains(t, replayed, liveDay)
}

func TestBatchWriter_ProcessBatch_KeepsExistingTimestamp(t *testing.T) {
	mockRepo := new(MockEventRepository)
	writer := NewBatchWriter(mockRepo, nil, BatchWriterConfig{MaxBatchSize: 1, FlushTimeout: time.Second}, nil, zap.NewNop())
	writer.now = func() time.Time { return testTimestamp.Add(48 * time.Hour) }

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 1 && events[0].Timestamp.Equal(testTimestamp)
	})).Return(1, nil).Once()

	writer.processBatch(context.Background(), []*Envelope{createTestEnvelope("e1")})

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_ProcessBatch_DropsOnlyUnstorableEvent(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockProcessor := new(MockEventProcessor)
	m := metrics.NewNop()
	writer := NewBatchWriter(mockRepo, mockProcessor, BatchWriterConfig{MaxBatchSize: 3, FlushTimeout: time.Second}, m, zap.NewNop())

	var acked, nacked []string
	envelope := func(id string) *Envelope {
		return NewEnvelope(&domain.RawEvent{EventID: id, EventName: domain.EventPropertyView, Timestamp: testTimestamp},
			func(context.Context) error { acked = append(acked, id); return nil },
			func(context.Context) error { nacked = append(nacked, id); return nil })
	}

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 3
	})).Return(0, &repository.MalformedEventError{EventID: "b", Err: errors.New("unsupported type")}).Once()
	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2 && events[0].EventID == "a" && events[1].EventID == "c"
	})).Return(2, nil).Once()
	mockProcessor.On("Process", mock.Anything, mock.MatchedBy(func(events []*domain.RawEvent) bool {
		return len(events) == 2
	})).Return(effects.Result{}).Once()

	writer.processBatch(context.Background(), []*Envelope{envelope("a"), envelope("b"), envelope("c")})

	assert.Equal(t, []string{"b", "a", "c"}, acked)
	assert.Empty(t, nacked)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesMalformed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsStored))
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestBatchWriter_ProcessBatch_UnknownMalformedEventNacksBatch(t *testing.T) {
	mockRepo := new(MockEventRepository)
	writer := NewBatchWriter(mockRepo, nil, BatchWriterConfig{MaxBatchSize: 1, FlushTimeout: time.Second}, nil, zap.NewNop())

	nacked := 0
	env := NewEnvelope(&domain.RawEvent{EventID: "a", EventName: domain.EventPropertyView, Timestamp: testTimestamp},
		func(context.Context) error { t.Fatal("unexpected ack"); return nil },
		func(context.Context) error { nacked++; return nil })

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).
		Return(0, &repository.MalformedEventError{EventID: "zzz", Err: errors.New("unsupported type")}).Once()

	writer.processBatch(context.Background(), []*Envelope{env})

	assert.Equal(t, 1, nacked)
	mockRepo.AssertExpectations(t)
}
