// Package classifier maps one raw event to the list of counter operations it
// implies. It is pure: the live consumer and the reconciliation replay both
// call it, so they can never disagree on what an event means.
package classifier

import (
	"strings"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

type handlerFunc func(e *domain.RawEvent, day time.Time, hour int) ([]Op, error)

var handlers = map[string]handlerFunc{
	domain.EventPropertyView:          classifyPropertyView,
	domain.EventPropertyImpression:    classifyPropertyImpression,
	domain.EventProfileView:           classifyProfileView,
	domain.EventDevelopmentView:       classifyDevelopmentView,
	domain.EventDevelopmentImpression: classifyDevelopmentImpression,
	domain.EventListingShare:          classifyListingShare,
	domain.EventLeadPhone:             classifyLead(domain.LeadPhone),
	domain.EventLeadMessage:           classifyLead(domain.LeadMessage),
	domain.EventLeadAppointment:       classifyLead(domain.LeadAppointment),
}

// Known reports whether the classifier has a branch for the event name.
func Known(eventName string) bool {
	_, ok := handlers[eventName]
	return ok
}

// Classify returns the ops for e. now is only used when the event carries no
// timestamp. Unknown events yield no ops and no error; a missing required
// identifier yields a *domain.ValidationError and no ops at all.
func Classify(e *domain.RawEvent, now time.Time) ([]Op, error) {
	h, ok := handlers[e.EventName]
	if !ok {
		return nil, nil
	}
	ops, err := h(e, e.DayBucket(now), e.HourBucket(now))
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func requireID(chain domain.AliasChain, props map[string]any, field string) (string, error) {
	v := chain.Resolve(props)
	if v == "" {
		return "", &domain.ValidationError{Field: field, Reason: "missing"}
	}
	return v, nil
}

func incr(subject domain.Subject, day time.Time, hour int, metric string) Op {
	return Op{Kind: OpIncrement, Subject: subject, Day: day, Hour: hour, Metric: metric, Amount: 1}
}

// viewOps is the op set shared by every "view" event.
func viewOps(e *domain.RawEvent, subject domain.Subject, day time.Time, hour int) []Op {
	ops := []Op{incr(subject, day, hour, domain.MetricTotalViews)}

	if loggedIn, _ := domain.LoggedInChain.ResolveBool(e.Properties); loggedIn {
		ops = append(ops, incr(subject, day, hour, domain.MetricLoggedInViews))
	} else {
		ops = append(ops, incr(subject, day, hour, domain.MetricAnonymousViews))
	}

	if channel := MetricToken(domain.ChannelChain.Resolve(e.Properties)); channel != "" {
		ops = append(ops, incr(subject, day, hour, domain.MetricViewsFromPrefix+channel))
	}

	if actor := domain.ActorID(e); actor != "" {
		ops = append(ops, Op{Kind: OpAddUnique, Subject: subject, Day: day, Hour: hour,
			Metric: domain.MetricUniqueViews, Member: actor})
	}
	return ops
}

func classifyPropertyView(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.ListingIDChain, e.Properties, "listing_id")
	if err != nil {
		return nil, err
	}
	listing := domain.Subject{Type: domain.SubjectListing, ID: id}
	ops := viewOps(e, listing, day, hour)

	if pt := domain.PropertyTypeChain.Resolve(e.Properties); pt != "" {
		ops = append(ops, Op{Kind: OpSetLookup, Subject: listing, Metric: "property_type", Value: pt})
	}
	if lister := domain.ListerIDChain.Resolve(e.Properties); lister != "" {
		profile := domain.Subject{Type: domain.SubjectProfile, ID: lister}
		ops = append(ops, incr(profile, day, hour, domain.MetricListingViews))
	}
	return ops, nil
}

func classifyPropertyImpression(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.ListingIDChain, e.Properties, "listing_id")
	if err != nil {
		return nil, err
	}
	return impressionOps(e, domain.Subject{Type: domain.SubjectListing, ID: id}, day, hour), nil
}

func impressionOps(e *domain.RawEvent, subject domain.Subject, day time.Time, hour int) []Op {
	ops := []Op{incr(subject, day, hour, domain.MetricImpressions)}
	if channel := MetricToken(domain.ChannelChain.Resolve(e.Properties)); channel != "" {
		ops = append(ops, incr(subject, day, hour, domain.MetricImpressionsPrefix+channel))
	}
	return ops
}

func classifyProfileView(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.ListerIDChain, e.Properties, "lister_id")
	if err != nil {
		return nil, err
	}
	profile := domain.Subject{Type: domain.SubjectProfile, ID: id}
	ops := viewOps(e, profile, day, hour)
	if lt := domain.ListerTypeChain.Resolve(e.Properties); lt != "" {
		ops = append(ops, Op{Kind: OpSetLookup, Subject: profile, Metric: "lister_type", Value: lt})
	}
	return ops, nil
}

func classifyDevelopmentView(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.DevelopmentIDChain, e.Properties, "development_id")
	if err != nil {
		return nil, err
	}
	return viewOps(e, domain.Subject{Type: domain.SubjectDevelopment, ID: id}, day, hour), nil
}

func classifyDevelopmentImpression(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.DevelopmentIDChain, e.Properties, "development_id")
	if err != nil {
		return nil, err
	}
	return impressionOps(e, domain.Subject{Type: domain.SubjectDevelopment, ID: id}, day, hour), nil
}

func classifyListingShare(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
	id, err := requireID(domain.ListingIDChain, e.Properties, "listing_id")
	if err != nil {
		return nil, err
	}
	listing := domain.Subject{Type: domain.SubjectListing, ID: id}
	ops := []Op{incr(listing, day, hour, domain.MetricTotalShares)}
	if platform := MetricToken(domain.PlatformChain.Resolve(e.Properties)); platform != "" {
		ops = append(ops, Op{Kind: OpIncrementField, Subject: listing, Day: day, Hour: hour,
			Metric: domain.MetricSharesByPlatform, Field: platform, Amount: 1})
	}
	return ops, nil
}

func classifyLead(leadType domain.LeadType) handlerFunc {
	return func(e *domain.RawEvent, day time.Time, hour int) ([]Op, error) {
		if domain.ActorID(e) == "" {
			return nil, &domain.ValidationError{Field: "seeker_id", Reason: "missing"}
		}
		leadCtx, err := LeadContext(e.Properties)
		if err != nil {
			return nil, err
		}

		metrics := []string{domain.MetricContactsTotal, domain.MetricContactsPrefix + string(leadType)}
		if sub, err := domain.ParseLeadSubType(leadType, domain.LeadSubTypeChain.Resolve(e.Properties)); err == nil && sub != domain.SubTypeNone {
			metrics = append(metrics, domain.MetricContactsPrefix+string(leadType)+"_"+string(sub))
		}

		subjects := []domain.Subject{leadCtx}
		if lister := domain.ListerIDChain.Resolve(e.Properties); lister != "" {
			profile := domain.Subject{Type: domain.SubjectProfile, ID: lister}
			if profile != leadCtx {
				subjects = append(subjects, profile)
			}
		}

		ops := make([]Op, 0, len(subjects)*len(metrics))
		for _, s := range subjects {
			for _, m := range metrics {
				ops = append(ops, incr(s, day, hour, m))
			}
		}
		return ops, nil
	}
}

// LeadContext resolves the subject a contact action was made on. An explicit
// context type wins; otherwise the most specific identifier present is used
// (development, then listing, then the lister's profile).
func LeadContext(props map[string]any) (domain.Subject, error) {
	if ct := domain.SubjectType(domain.ContextTypeChain.Resolve(props)); ct != "" {
		if !ct.Valid() {
			return domain.Subject{}, &domain.ValidationError{Field: "context_type", Reason: "unsupported value " + string(ct)}
		}
		id := domain.SubjectIDChain(ct).Resolve(props)
		if id == "" {
			return domain.Subject{}, &domain.ValidationError{Field: "context_id", Reason: "missing"}
		}
		return domain.Subject{Type: ct, ID: id}, nil
	}

	for _, t := range []domain.SubjectType{domain.SubjectDevelopment, domain.SubjectListing, domain.SubjectProfile} {
		if id := domain.SubjectIDChain(t).Resolve(props); id != "" {
			return domain.Subject{Type: t, ID: id}, nil
		}
	}
	return domain.Subject{}, &domain.ValidationError{Field: "context_id", Reason: "missing"}
}

// MetricToken normalises free-form values (channels, platforms) into metric
// name fragments: lower case, anything outside [a-z0-9] becomes "_".
func MetricToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
