package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"event_name is required"`
}

// PublishEventResponse represents a successful event ingestion response
type PublishEventResponse struct {
	EventID string `json:"event_id" example:"5f1c0b..."`
	Status  string `json:"status" example:"accepted"`
}

// PublishBulkEventsResponse represents a successful bulk event ingestion response
type PublishBulkEventsResponse struct {
	Accepted int      `json:"accepted" example:"5"`
	Rejected int      `json:"rejected" example:"0"`
	EventIDs []string `json:"event_ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// LeadResponse is the lead after a recorded action
type LeadResponse struct {
	LeadID         string `json:"lead_id"`
	Created        bool   `json:"created"`
	ContextType    string `json:"context_type"`
	ContextID      string `json:"context_id,omitempty"`
	SeekerID       string `json:"seeker_id"`
	ListerID       string `json:"lister_id"`
	TotalActions   int    `json:"total_actions"`
	LeadScore      int    `json:"lead_score"`
	LastActionType string `json:"last_action_type"`
	LastActionDate int64  `json:"last_action_date"`
	IsAnonymous    bool   `json:"is_anonymous"`
	Status         string `json:"status"`
}

// CounterResponse is the value of one daily counter
type CounterResponse struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Day         string `json:"day"`
	Metric      string `json:"metric"`
	Field       string `json:"field,omitempty"`
	Value       int64  `json:"value"`
}
