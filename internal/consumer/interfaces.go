package consumer

import (
	"context"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.RawEvent, error)
}

// EventProcessor applies the counter and snapshot side effects of stored events
type EventProcessor interface {
	Process(ctx context.Context, events []*domain.RawEvent) effects.Result
}
