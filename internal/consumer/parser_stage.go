package consumer

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue"
)

// ParserStage handles parsing SQS messages into raw event envelopes
type ParserStage struct {
	consumer queue.QueueConsumer
	parser   MessageParser
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewParserStage creates a new parser stage
func NewParserStage(consumer queue.QueueConsumer, parser MessageParser, m *metrics.Metrics, log *zap.Logger) *ParserStage {
	return &ParserStage{
		consumer: consumer,
		parser:   parser,
		metrics:  m,
		log:      log,
	}
}

// Start begins parsing messages and outputs envelopes
func (p *ParserStage) Start(ctx context.Context, in <-chan types.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Parser stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				p.log.Info("Parser stage input channel closed")
				return
			}

			envelope := p.parseMessage(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// parseMessage parses a single SQS message into an envelope. Malformed
// messages can never succeed, so they are deleted instead of redelivered.
func (p *ParserStage) parseMessage(ctx context.Context, msg types.Message) *Envelope {
	messageID := aws.ToString(msg.MessageId)
	event, err := p.parser.Parse([]byte(aws.ToString(msg.Body)))

	if err != nil {
		p.log.Warn("Failed to parse message",
			zap.String("message_id", messageID),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.MessagesMalformed.Inc()
		}
		if err := p.deleteMessage(ctx, msg); err == nil {
			p.log.Info("Deleted malformed message from SQS", zap.String("message_id", messageID))
		}
		return nil
	}

	ack := func(ctx context.Context) error {
		return p.deleteMessage(ctx, msg)
	}

	// Unacked messages reappear after the visibility timeout.
	nack := func(ctx context.Context) error {
		return nil
	}

	return NewEnvelope(event, ack, nack)
}

// deleteMessage deletes a message from SQS
func (p *ParserStage) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		p.log.Error("Failed to delete message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		return err
	}
	return nil
}
