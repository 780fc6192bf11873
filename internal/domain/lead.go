package domain

import (
	"fmt"
	"time"
)

// LeadType is the kind of contact action a seeker took
type LeadType string

const (
	LeadPhone       LeadType = "phone"
	LeadMessage     LeadType = "message"
	LeadAppointment LeadType = "appointment"
)

// LeadSubType qualifies message leads
type LeadSubType string

const (
	SubTypeNone          LeadSubType = ""
	SubTypeWhatsApp      LeadSubType = "whatsapp"
	SubTypeDirectMessage LeadSubType = "direct_message"
	SubTypeEmail         LeadSubType = "email"
)

// LeadStatusNew is the workflow label given to freshly created leads.
const LeadStatusNew = "new"

// ParseLeadType accepts both the bare type ("phone") and the event form ("lead_phone").
func ParseLeadType(s string) (LeadType, error) {
	switch s {
	case "phone", EventLeadPhone:
		return LeadPhone, nil
	case "message", EventLeadMessage:
		return LeadMessage, nil
	case "appointment", EventLeadAppointment:
		return LeadAppointment, nil
	}
	return "", &ValidationError{Field: "lead_type", Reason: fmt.Sprintf("unsupported value %q", s)}
}

// ParseLeadSubType normalises the sub-type for a lead type. Only message leads
// carry one; "direct" is accepted as shorthand for direct_message.
func ParseLeadSubType(t LeadType, s string) (LeadSubType, error) {
	if t != LeadMessage {
		return SubTypeNone, nil
	}
	switch s {
	case "whatsapp":
		return SubTypeWhatsApp, nil
	case "direct_message", "direct":
		return SubTypeDirectMessage, nil
	case "email":
		return SubTypeEmail, nil
	case "":
		return SubTypeNone, nil
	}
	return "", &ValidationError{Field: "lead_sub_type", Reason: fmt.Sprintf("unsupported value %q", s)}
}

// Score returns the fixed weight of an action. Lead scores take the max over
// actions, never the sum.
func Score(t LeadType, sub LeadSubType) int {
	switch t {
	case LeadPhone:
		return 10
	case LeadMessage:
		switch sub {
		case SubTypeWhatsApp:
			return 15
		case SubTypeDirectMessage:
			return 20
		default:
			return 10
		}
	case LeadAppointment:
		return 25
	}
	return 0
}

// DedupKey identifies one logical lead relationship
type DedupKey struct {
	ContextType SubjectType
	ContextID   string
	SeekerID    string
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ContextType, k.ContextID, k.SeekerID)
}

// LeadAction is one entry of a lead's append-only action log
type LeadAction struct {
	Type       LeadType       `json:"type"`
	SubType    LeadSubType    `json:"sub_type,omitempty"`
	ActionType string         `json:"action_type"`
	Score      int            `json:"score"`
	Anonymous  bool           `json:"is_anonymous"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// LeadRecord is the canonical deduplicated lead
type LeadRecord struct {
	ID              string       `json:"id"`
	ContextType     SubjectType  `json:"context_type"`
	ContextID       string       `json:"context_id,omitempty"`
	SeekerID        string       `json:"seeker_id"`
	ListerID        string       `json:"lister_id"`
	ListerType      string       `json:"lister_type,omitempty"`
	LeadActions     []LeadAction `json:"lead_actions"`
	TotalActions    int          `json:"total_actions"`
	LeadScore       int          `json:"lead_score"`
	FirstActionDate time.Time    `json:"first_action_date"`
	LastActionDate  time.Time    `json:"last_action_date"`
	LastActionType  string       `json:"last_action_type"`
	IsAnonymous     bool         `json:"is_anonymous"`
	Status          string       `json:"status"`
	Version         int64        `json:"version"`
}

// Key returns the record's dedup key
func (r *LeadRecord) Key() DedupKey {
	return DedupKey{ContextType: r.ContextType, ContextID: r.ContextID, SeekerID: r.SeekerID}
}

// NewLeadRecord builds the record for the first action of a dedup key.
func NewLeadRecord(id string, key DedupKey, listerID, listerType string, action LeadAction) *LeadRecord {
	return &LeadRecord{
		ID:              id,
		ContextType:     key.ContextType,
		ContextID:       key.ContextID,
		SeekerID:        key.SeekerID,
		ListerID:        listerID,
		ListerType:      listerType,
		LeadActions:     []LeadAction{action},
		TotalActions:    1,
		LeadScore:       action.Score,
		FirstActionDate: action.Timestamp,
		LastActionDate:  action.Timestamp,
		LastActionType:  action.ActionType,
		IsAnonymous:     action.Anonymous,
		Status:          LeadStatusNew,
	}
}

// Append returns a copy of r with action applied. The receiver is not modified
// so a failed compare-and-swap can retry from a fresh read.
func (r *LeadRecord) Append(action LeadAction) *LeadRecord {
	next := *r
	next.LeadActions = make([]LeadAction, len(r.LeadActions), len(r.LeadActions)+1)
	copy(next.LeadActions, r.LeadActions)
	next.LeadActions = append(next.LeadActions, action)
	next.TotalActions = len(next.LeadActions)

	if action.Score > next.LeadScore {
		next.LeadScore = action.Score
	}
	if next.FirstActionDate.IsZero() || action.Timestamp.Before(next.FirstActionDate) {
		next.FirstActionDate = action.Timestamp
	}
	// last_action_date never moves backwards, even for late-arriving actions
	if !action.Timestamp.Before(next.LastActionDate) {
		next.LastActionDate = action.Timestamp
	}
	next.LastActionType = action.ActionType
	next.IsAnonymous = action.Anonymous
	return &next
}
