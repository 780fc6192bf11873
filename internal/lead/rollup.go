package lead

import (
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// RollupIncrement is the additive delta for one rollup subject
type RollupIncrement struct {
	Subject domain.Subject
	Deltas  map[string]int64
}

// NewLeadDeltas returns the rollup columns a newly created lead adds to every
// containing subject: total_leads, exactly one of unique_leads/anonymous_leads,
// and the type and sub-type breakdowns.
func NewLeadDeltas(action domain.LeadAction) map[string]int64 {
	deltas := map[string]int64{"total_leads": 1}
	if action.Anonymous {
		deltas["anonymous_leads"] = 1
	} else {
		deltas["unique_leads"] = 1
	}
	deltas["leads_"+string(action.Type)] = 1
	if action.SubType != domain.SubTypeNone {
		deltas["leads_"+string(action.Type)+"_"+string(action.SubType)] = 1
	}
	return deltas
}

// RollupIncrements lists the subjects a new lead rolls up into: its context
// (listing, development or the lister profile), the lister profile when the
// context is something else, and the lister-type aggregate row.
func RollupIncrements(rec *domain.LeadRecord, action domain.LeadAction) []RollupIncrement {
	profile := domain.Subject{Type: domain.SubjectProfile, ID: rec.ListerID}
	contextSubject := domain.Subject{Type: rec.ContextType, ID: rec.ContextID}
	if rec.ContextType == domain.SubjectProfile && rec.ContextID == "" {
		contextSubject = profile
	}

	out := []RollupIncrement{{Subject: contextSubject, Deltas: NewLeadDeltas(action)}}
	if contextSubject != profile && rec.ListerID != "" {
		out = append(out, RollupIncrement{Subject: profile, Deltas: NewLeadDeltas(action)})
	}
	if rec.ListerType != "" {
		out = append(out, RollupIncrement{
			Subject: domain.Subject{Type: domain.SubjectListerAggregate, ID: rec.ListerType},
			Deltas:  NewLeadDeltas(action),
		})
	}
	return out
}
