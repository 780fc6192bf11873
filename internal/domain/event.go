package domain

import "time"

// Event names understood by the classifier and the replay
const (
	EventPropertyView          = "property_view"
	EventPropertyImpression    = "property_impression"
	EventProfileView           = "profile_view"
	EventDevelopmentView       = "development_view"
	EventDevelopmentImpression = "development_impression"
	EventListingShare          = "listing_share"
	EventLeadPhone             = "lead_phone"
	EventLeadMessage           = "lead_message"
	EventLeadAppointment       = "lead_appointment"
)

// RawEvent is an immutable behavioral event read from the event stream store
type RawEvent struct {
	EventID        string         `json:"event_id"`
	EventName      string         `json:"event_name"`
	Properties     map[string]any `json:"properties"`
	SubjectAliases []string       `json:"subject_aliases,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// DayBucket returns the UTC calendar day of the event, falling back to now
// when the event carries no timestamp.
func (e *RawEvent) DayBucket(now time.Time) time.Time {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Day(ts)
}

// HourBucket returns the UTC hour of the event, falling back to now.
func (e *RawEvent) HourBucket(now time.Time) int {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return ts.UTC().Hour()
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayString formats a day bucket as yyyy-mm-dd.
func DayString(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// LeadEventName maps a lead type to the raw event name emitted for it.
func LeadEventName(t LeadType) string {
	return "lead_" + string(t)
}

// RelevantEventNames lists the events that can contribute to a subject's
// reconciled totals.
func RelevantEventNames(subjectType SubjectType) []string {
	switch subjectType {
	case SubjectListing:
		return []string{EventPropertyView, EventPropertyImpression, EventListingShare,
			EventLeadPhone, EventLeadMessage, EventLeadAppointment}
	case SubjectProfile:
		return []string{EventPropertyView, EventProfileView,
			EventLeadPhone, EventLeadMessage, EventLeadAppointment}
	case SubjectDevelopment:
		return []string{EventDevelopmentView, EventDevelopmentImpression,
			EventLeadPhone, EventLeadMessage, EventLeadAppointment}
	default:
		return nil
	}
}
