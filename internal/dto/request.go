package dto

// PublishEventRequest represents a publish event request
type PublishEventRequest struct {
	EventName      string                 `json:"event_name" binding:"required" example:"property_view"`
	Properties     map[string]interface{} `json:"properties" binding:"required"`
	SubjectAliases []string               `json:"subject_aliases"`
	Timestamp      int64                  `json:"timestamp" example:"1791208952"`
}

// PublishEventsBulkRequest represents a publish bulk event request
type PublishEventsBulkRequest struct {
	Events []PublishEventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// RecordLeadRequest represents one contact action on a listing, development or profile
type RecordLeadRequest struct {
	LeadType       string                 `json:"lead_type" binding:"required" example:"message"`
	LeadSubType    string                 `json:"lead_sub_type" example:"whatsapp"`
	ContextType    string                 `json:"context_type" binding:"required" example:"listing"`
	ContextID      string                 `json:"context_id" example:"L1"`
	ListerID       string                 `json:"lister_id" binding:"required" example:"A1"`
	ListerType     string                 `json:"lister_type" example:"agency"`
	SeekerID       string                 `json:"seeker_id" binding:"required" example:"U1"`
	IsAnonymous    bool                   `json:"is_anonymous"`
	ActionMetadata map[string]interface{} `json:"action_metadata"`
	Timestamp      int64                  `json:"timestamp" example:"1791208952"`
}

// CounterQuery selects one daily counter
type CounterQuery struct {
	SubjectType string `form:"subject_type" binding:"required" example:"listing"`
	SubjectID   string `form:"subject_id" binding:"required" example:"L1"`
	Day         string `form:"day" binding:"required" example:"2026-10-05"`
	Metric      string `form:"metric" binding:"required" example:"total_views"`
	Field       string `form:"field" example:"whatsapp"`
}

// ReconciliationQuery selects a subject and an inclusive day window
type ReconciliationQuery struct {
	SubjectType string `form:"subject_type" binding:"required" example:"listing"`
	SubjectID   string `form:"subject_id" binding:"required" example:"L1"`
	From        string `form:"from" binding:"required" example:"2026-10-01"`
	To          string `form:"to" binding:"required" example:"2026-10-05"`
}
