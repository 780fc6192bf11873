package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testQueueURL = "https://sqs.eu-central-1.amazonaws.com/123/lead-events"

// MockQueueConsumer is a mock implementation of queue.QueueConsumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) QueueURL() string {
	args := m.Called()
	return args.String(0)
}

func viewMessages(n int) []types.Message {
	out := make([]types.Message, n)
	for i := range out {
		out[i] = types.Message{
			MessageId: aws.String(fmt.Sprintf("msg-%d", i)),
			Body:      aws.String(fmt.Sprintf(`{"event_id":"e%d","event_name":"property_view","properties":{"listing_id":"L1"}}`, i)),
		}
	}
	return out
}

func newTestReceiver(mockConsumer *MockQueueConsumer) *Receiver {
	mockConsumer.On("QueueURL").Return(testQueueURL)
	return NewReceiver(mockConsumer, ReceiverConfig{MaxMessages: 10, WaitTimeSeconds: 20}, zap.NewNop())
}

// drain reads out until it closes or the deadline passes
func drain(out <-chan types.Message, deadline time.Duration) []types.Message {
	var got []types.Message
	timeout := time.After(deadline)
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, msg)
		case <-timeout:
			return got
		}
	}
}

func TestReceiver_Start_Success(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return *in.QueueUrl == testQueueURL && in.MaxNumberOfMessages == 10 && in.WaitTimeSeconds == 20
	})).Return(&sqs.ReceiveMessageOutput{Messages: viewMessages(2)}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	go receiver.Start(ctx, out)

	got := drain(out, 300*time.Millisecond)

	require.Len(t, got, 2)
	assert.Equal(t, "msg-0", *got[0].MessageId)
	assert.Equal(t, "msg-1", *got[1].MessageId)
}

func TestReceiver_Start_BacksOffAfterError(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(nil, errors.New("SQS connection error")).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: viewMessages(1)}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make(chan types.Message, 10)
	start := time.Now()
	go receiver.Start(ctx, out)

	select {
	case msg := <-out:
		assert.Equal(t, "msg-0", *msg.MessageId)
		assert.GreaterOrEqual(t, time.Since(start), receiveBackoffInitial)
	case <-ctx.Done():
		t.Fatal("receiver did not recover after the error")
	}
}

func TestReceiver_Start_ErrorBackoffHonorsCancellation(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(nil, errors.New("SQS connection error"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	done := make(chan struct{})
	go func() {
		receiver.Start(ctx, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(receiveBackoffInitial):
		t.Fatal("receiver kept sleeping after cancellation")
	}
	_, ok := <-out
	assert.False(t, ok)
}

func TestReceiver_Start_ContextCancellation(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := NewReceiver(mockConsumer, ReceiverConfig{MaxMessages: 10}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan types.Message, 10)
	receiver.Start(ctx, out)

	_, ok := <-out
	assert.False(t, ok, "channel should be closed after cancellation")
	mockConsumer.AssertNotCalled(t, "ReceiveMessages", mock.Anything, mock.Anything)
}

func TestReceiver_Start_BufferBackpressure(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: viewMessages(5)}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make(chan types.Message, 2)
	go receiver.Start(ctx, out)

	var got []string
	for len(got) < 5 {
		select {
		case msg := <-out:
			got = append(got, *msg.MessageId)
			time.Sleep(10 * time.Millisecond)
		case <-ctx.Done():
			t.Fatalf("received %d of 5 messages", len(got))
		}
	}
	assert.Equal(t, []string{"msg-0", "msg-1", "msg-2", "msg-3", "msg-4"}, got)
}
