package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue"
)

// EventService represents event service
type EventService struct {
	publisher queue.QueuePublisher
	log       *zap.Logger
	now       func() time.Time
}

// NewEventService creates a new event service
func NewEventService(publisher queue.QueuePublisher, log *zap.Logger) *EventService {
	return &EventService{
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// computeEventID generates a deterministic event ID based on event content.
// Properties are hashed in their JSON form, whose map keys are sorted, so a
// client retry of the same event yields the same ID and collapses in the log.
func computeEventID(name string, ts time.Time, properties map[string]interface{}, aliases []string) (string, error) {
	props, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}
	data := fmt.Sprintf("%s|%d|%s|%s", name, ts.Unix(), props, strings.Join(aliases, ","))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:]), nil
}

// ProcessEvent validates and publishes a single raw event
func (s *EventService) ProcessEvent(ctx context.Context, event *dto.PublishEventRequest) (string, error) {
	now := s.now()
	ts := now.UTC()
	if event.Timestamp != 0 {
		if event.Timestamp > now.Unix()+1 {
			s.log.Warn("Timestamp validation failed: future timestamp",
				zap.Int64("event_timestamp", event.Timestamp),
				zap.Int64("current_time", now.Unix()),
				zap.String("event_name", event.EventName))
			return "", &domain.ValidationError{
				Field:  "timestamp",
				Reason: fmt.Sprintf("cannot be in the future: %d > %d", event.Timestamp, now.Unix()),
			}
		}
		ts = time.Unix(event.Timestamp, 0).UTC()
	}

	eventID, err := computeEventID(event.EventName, ts, event.Properties, event.SubjectAliases)
	if err != nil {
		return "", err
	}

	raw := &domain.RawEvent{
		EventID:        eventID,
		EventName:      event.EventName,
		Properties:     event.Properties,
		SubjectAliases: event.SubjectAliases,
		Timestamp:      ts,
	}
	if err := s.publisher.PublishEvent(ctx, raw); err != nil {
		return "", fmt.Errorf("failed to publish event to queue: %w", err)
	}

	return eventID, nil
}

// ProcessBulkEvents validates and processes multiple events
func (s *EventService) ProcessBulkEvents(ctx context.Context, events []dto.PublishEventRequest) ([]string, []string, error) {
	var eventIDs []string
	var errors []string

	for i := range events {
		eventID, err := s.ProcessEvent(ctx, &events[i])
		if err != nil {
			errors = append(errors, fmt.Sprintf("event %d: %s", i, err.Error()))
			s.log.Warn("Failed to process event in bulk",
				zap.Int("index", i),
				zap.Error(err),
				zap.String("event_name", events[i].EventName))
			continue
		}
		eventIDs = append(eventIDs, eventID)
	}

	return eventIDs, errors, nil
}
