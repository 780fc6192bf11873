package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue"
)

// LeadService records contact actions and mirrors each one into the event
// stream, where the consumer turns it into contact counters
type LeadService struct {
	recorder  LeadRecorder
	publisher queue.QueuePublisher
	log       *zap.Logger
}

// NewLeadService creates a new lead service. publisher may be nil.
func NewLeadService(recorder LeadRecorder, publisher queue.QueuePublisher, log *zap.Logger) *LeadService {
	return &LeadService{
		recorder:  recorder,
		publisher: publisher,
		log:       log,
	}
}

// RecordLead records one action. Publishing the mirrored event is best-effort:
// the lead write is the source of truth and a lost event only shows up as
// contact counter drift.
func (s *LeadService) RecordLead(ctx context.Context, req *dto.RecordLeadRequest) (*dto.LeadResponse, error) {
	in := lead.Input{
		LeadType:       req.LeadType,
		LeadSubType:    req.LeadSubType,
		ContextType:    req.ContextType,
		ContextID:      req.ContextID,
		ListerID:       req.ListerID,
		ListerType:     req.ListerType,
		SeekerID:       req.SeekerID,
		IsAnonymous:    req.IsAnonymous,
		ActionMetadata: req.ActionMetadata,
	}
	if req.Timestamp > 0 {
		in.Timestamp = time.Unix(req.Timestamp, 0).UTC()
	}

	result, err := s.recorder.RecordLeadAction(ctx, in)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, leadEvent(result.Lead)); err != nil {
			s.log.Warn("Failed to publish lead event",
				zap.String("lead_id", result.Lead.ID),
				zap.Error(err))
		}
	}

	return toLeadResponse(result), nil
}

// leadEvent builds the raw event for the lead's latest action. The ID is
// derived from the lead and its action count so redelivery stays idempotent.
func leadEvent(rec *domain.LeadRecord) *domain.RawEvent {
	action := rec.LeadActions[len(rec.LeadActions)-1]

	props := map[string]interface{}{
		"seeker_id":    rec.SeekerID,
		"context_type": string(rec.ContextType),
		"lister_id":    rec.ListerID,
		"is_anonymous": action.Anonymous,
	}
	switch rec.ContextType {
	case domain.SubjectListing:
		props["listing_id"] = rec.ContextID
	case domain.SubjectDevelopment:
		props["development_id"] = rec.ContextID
	}
	if rec.ListerType != "" {
		props["lister_type"] = rec.ListerType
	}
	if action.SubType != domain.SubTypeNone {
		props["lead_sub_type"] = string(action.SubType)
	}

	return &domain.RawEvent{
		EventID:    fmt.Sprintf("%s-%d", rec.ID, rec.TotalActions),
		EventName:  domain.LeadEventName(action.Type),
		Properties: props,
		Timestamp:  action.Timestamp,
	}
}

func toLeadResponse(result *lead.Result) *dto.LeadResponse {
	rec := result.Lead
	return &dto.LeadResponse{
		LeadID:         rec.ID,
		Created:        result.Created,
		ContextType:    string(rec.ContextType),
		ContextID:      rec.ContextID,
		SeekerID:       rec.SeekerID,
		ListerID:       rec.ListerID,
		TotalActions:   rec.TotalActions,
		LeadScore:      rec.LeadScore,
		LastActionType: rec.LastActionType,
		LastActionDate: rec.LastActionDate.Unix(),
		IsAnonymous:    rec.IsAnonymous,
		Status:         rec.Status,
	}
}
