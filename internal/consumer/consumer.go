package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// Consumer orchestrates a pipeline of stages to process SQS messages
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	batchWriter *BatchWriter
	bufferSize  int
}

// NewConsumer creates a new consumer with a pipeline architecture. The
// processor may be nil, in which case events are only stored.
func NewConsumer(cfg *config.Config, queueConsumer queue.QueueConsumer, repo repository.EventRepository, processor EventProcessor, m *metrics.Metrics, log *zap.Logger) *Consumer {
	receiverCfg := ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}
	receiver := NewReceiver(queueConsumer, receiverCfg, log)

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), m, log)

	batchWriter := NewBatchWriter(repo, processor, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, m, log)

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		batchWriter: batchWriter,
		bufferSize:  receiverCfg.BufferSize,
	}
}

// Start begins the consumer pipeline
func (c *Consumer) Start(ctx context.Context) error {
	bufferSize := c.bufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	messageChan := make(chan types.Message, bufferSize)
	envelopeChan := make(chan *Envelope, bufferSize)

	var wg sync.WaitGroup

	wg.Add(3)

	// Stage 1: Receive messages from SQS
	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	// Stage 2: Parse messages into envelopes
	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, envelopeChan)
	}()

	// Stage 3: Batch, store and apply side effects
	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}
