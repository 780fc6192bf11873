package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// Message attributes set on every published event
const (
	AttrEventName = "EventName"
	AttrEventID   = "EventID"
)

// Client carries raw events between the API and the consumer
type Client struct {
	client   *sqs.Client
	queueURL string
	log      *zap.Logger
}

// NewClient creates a new SQS client. A non-empty endpoint targets a local
// ElasticMQ with static credentials.
func NewClient(ctx context.Context, cfg envConfig.SQS, log *zap.Logger) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	var clientOpts []func(*sqs.Options)

	if cfg.Endpoint != "" {
		log.Info("Using local SQS endpoint", zap.String("endpoint", cfg.Endpoint))
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created",
		zap.String("region", cfg.Region),
		zap.String("queue_url", cfg.QueueURL))

	return &Client{
		client:   sqs.NewFromConfig(awsCfg, clientOpts...),
		queueURL: cfg.QueueURL,
		log:      log,
	}, nil
}

// ReceiveMessages receives messages from SQS
func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from SQS
func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.client.DeleteMessage(ctx, input)
}

// QueueURL returns the configured queue URL
func (c *Client) QueueURL() string {
	return c.queueURL
}

// newMessage encodes event as a send request. The event name travels as an
// attribute so queue subscriptions can filter without parsing bodies.
func newMessage(queueURL string, event *domain.RawEvent) (*sqs.SendMessageInput, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	return &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttrEventName: {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventName),
			},
			AttrEventID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventID),
			},
		},
	}, nil
}

// PublishEvent publishes a raw event to SQS
func (c *Client) PublishEvent(ctx context.Context, event *domain.RawEvent) error {
	input, err := newMessage(c.queueURL, event)
	if err != nil {
		return err
	}

	if _, err := c.client.SendMessage(ctx, input); err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("event_id", event.EventID),
			zap.String("event_name", event.EventName),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Debug("Event published to SQS",
		zap.String("event_id", event.EventID),
		zap.String("event_name", event.EventName))
	return nil
}
