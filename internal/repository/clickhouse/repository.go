package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository"
)

// Repository implements EventRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema initializes the ClickHouse schema with ReplacingMergeTree engine
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS raw_events (
		event_id String,
		event_name LowCardinality(String),
		properties String,
		subject_aliases Array(String),
		timestamp DateTime64(3, 'UTC'),
		ingested_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (event_name, timestamp, event_id)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create raw_events table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch inserts a batch of raw events into ClickHouse. Re-delivered
// events collapse on event_id when parts merge. An event whose properties
// cannot be encoded fails the call with a *repository.MalformedEventError
// before anything is sent.
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.RawEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	props, err := encodeAll(events)
	if err != nil {
		return 0, err
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO raw_events (event_id, event_name, properties, subject_aliases, timestamp, version)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	version := uint64(time.Now().UnixNano())
	for i, event := range events {
		aliases := event.SubjectAliases
		if aliases == nil {
			aliases = []string{}
		}

		err = batch.Append(
			event.EventID,
			event.EventName,
			props[i],
			aliases,
			event.Timestamp.UTC(),
			version,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return len(events), nil
}

// encodeAll encodes the properties column of every event
func encodeAll(events []*domain.RawEvent) ([]string, error) {
	out := make([]string, len(events))
	for i, event := range events {
		props, err := encodeProperties(event.Properties)
		if err != nil {
			return nil, &repository.MalformedEventError{EventID: event.EventID, Err: err}
		}
		out[i] = props
	}
	return out, nil
}

// FetchEvents returns one page of events ordered by (timestamp, event_id).
// One extra row is requested to learn whether another page exists.
func (r *Repository) FetchEvents(ctx context.Context, query repository.EventQuery) (*repository.EventPage, error) {
	if query.Limit <= 0 {
		return nil, fmt.Errorf("invalid page limit: %d", query.Limit)
	}
	if len(query.Names) == 0 {
		return &repository.EventPage{NextOffset: query.Offset}, nil
	}

	sql := `
		SELECT event_id, event_name, properties, subject_aliases, timestamp
		FROM raw_events FINAL
		WHERE event_name IN (?) AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, event_id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := r.client.Conn().Query(ctx, sql, query.Names, query.From.UTC(), query.To.UTC(), query.Limit+1, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw events: %w", err)
	}
	defer func(rows driver.Rows) {
		err := rows.Close()
		if err != nil {
			r.log.Error("Failed to close raw event rows", zap.Error(err))
		}
	}(rows)

	events := make([]*domain.RawEvent, 0, query.Limit)
	for rows.Next() {
		var (
			event domain.RawEvent
			props string
		)
		if err := rows.Scan(&event.EventID, &event.EventName, &props, &event.SubjectAliases, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan raw event row: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &event.Properties); err != nil {
			r.log.Warn("Raw event has malformed properties",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			event.Properties = map[string]any{}
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw event rows: %w", err)
	}

	return paginate(events, query), nil
}

func paginate(events []*domain.RawEvent, query repository.EventQuery) *repository.EventPage {
	page := &repository.EventPage{Events: events}
	if len(events) > query.Limit {
		page.Events = events[:query.Limit]
		page.HasMore = true
	}
	page.NextOffset = query.Offset + len(page.Events)
	return page
}

func encodeProperties(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}
