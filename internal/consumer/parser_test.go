package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEventParser_Parse_FullEvent(t *testing.T) {
	body := []byte(`{
		"event_id": "evt-1",
		"event_name": "property_view",
		"properties": {"listing_id": "L1", "is_logged_in": true},
		"subject_aliases": ["anon-9", ""],
		"timestamp": "2026-10-05T14:02:32Z"
	}`)

	event, err := NewJSONEventParser().Parse(body)

	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.EventID)
	assert.Equal(t, "property_view", event.EventName)
	assert.Equal(t, "L1", event.Properties["listing_id"])
	assert.Equal(t, true, event.Properties["is_logged_in"])
	assert.Equal(t, []string{"anon-9"}, event.SubjectAliases)
	assert.Equal(t, testTimestamp, event.Timestamp)
}

func TestJSONEventParser_Parse_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "unix seconds", raw: `1791208952`, want: time.Unix(1791208952, 0).UTC()},
		{name: "unix milliseconds", raw: `1791208952123`, want: time.UnixMilli(1791208952123).UTC()},
		{name: "offset string", raw: `"2026-10-05T16:02:32+02:00"`, want: testTimestamp},
		{name: "missing", raw: `null`, want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"event_id": "e", "event_name": "listing_share", "timestamp": ` + tt.raw + `}`)

			event, err := NewJSONEventParser().Parse(body)

			require.NoError(t, err)
			assert.True(t, tt.want.Equal(event.Timestamp), "got %s", event.Timestamp)
			assert.NotNil(t, event.Properties)
		})
	}
}

func TestJSONEventParser_Parse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "invalid json", body: `{invalid}`},
		{name: "missing id", body: `{"event_name": "property_view"}`, wantErr: ErrMissingEventID},
		{name: "blank name", body: `{"event_id": "e", "event_name": "  "}`, wantErr: ErrMissingEventName},
		{name: "bad timestamp", body: `{"event_id": "e", "event_name": "property_view", "timestamp": "yesterday"}`},
		{name: "timestamp object", body: `{"event_id": "e", "event_name": "property_view", "timestamp": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := NewJSONEventParser().Parse([]byte(tt.body))

			assert.Nil(t, event)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestJSONEventParser_Parse_UnknownEventAccepted(t *testing.T) {
	event, err := NewJSONEventParser().Parse([]byte(`{"event_id": "e", "event_name": "newsletter_signup"}`))

	require.NoError(t, err)
	assert.Equal(t, "newsletter_signup", event.EventName)
}
