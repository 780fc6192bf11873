package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// Timestamps above this are taken as unix milliseconds.
const unixMillisThreshold = 1e12

var (
	ErrMissingEventID   = errors.New("missing event_id")
	ErrMissingEventName = errors.New("missing event_name")
)

// JSONEventParser implements MessageParser for JSON-formatted raw events
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse parses a JSON message body into a RawEvent. Unknown event names are
// accepted; the raw log keeps everything and classification ignores them.
func (p *JSONEventParser) Parse(body []byte) (*domain.RawEvent, error) {
	var msgBody map[string]interface{}
	if err := json.Unmarshal(body, &msgBody); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	event := &domain.RawEvent{
		EventID:   strings.TrimSpace(getStringField(msgBody, "event_id")),
		EventName: strings.TrimSpace(getStringField(msgBody, "event_name")),
	}
	if event.EventID == "" {
		return nil, ErrMissingEventID
	}
	if event.EventName == "" {
		return nil, ErrMissingEventName
	}

	if props, ok := msgBody["properties"].(map[string]interface{}); ok {
		event.Properties = props
	} else {
		event.Properties = map[string]interface{}{}
	}

	if aliases, ok := msgBody["subject_aliases"].([]interface{}); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok && s != "" {
				event.SubjectAliases = append(event.SubjectAliases, s)
			}
		}
	}

	ts, err := parseTimestamp(msgBody["timestamp"])
	if err != nil {
		return nil, err
	}
	event.Timestamp = ts

	return event, nil
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
// A missing timestamp stays zero and falls back to processing time downstream.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if ts == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		return t.UTC(), nil
	case float64:
		if ts <= 0 {
			return time.Time{}, nil
		}
		if ts >= unixMillisThreshold {
			return time.UnixMilli(int64(ts)).UTC(), nil
		}
		return time.Unix(int64(ts), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

// Helper functions for extracting fields from parsed JSON
func getStringField(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}
