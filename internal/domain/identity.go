package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AliasChain is the ordered list of property names that historically carried
// one logical identifier. The first non-empty value wins.
type AliasChain []string

// Resolution chains. The live classifier, the lead API and the reconciliation
// replay all resolve identities through these, so order changes here change
// every path at once.
var (
	ListingIDChain     = AliasChain{"listing_id", "listingId", "property_id", "propertyId", "$listing_id"}
	ListerIDChain      = AliasChain{"lister_id", "listerId", "agent_id", "agentId", "owner_id", "profile_id", "user_profile_id"}
	ListerTypeChain    = AliasChain{"lister_type", "listerType", "agent_type", "owner_type", "profile_type"}
	DevelopmentIDChain = AliasChain{"development_id", "developmentId", "project_id", "projectId"}
	ActorIDChain       = AliasChain{"seeker_id", "seekerId", "user_id", "userId", "viewer_id", "distinct_id"}
	ChannelChain       = AliasChain{"channel", "source", "utm_source", "referrer_channel"}
	LoggedInChain      = AliasChain{"is_logged_in", "logged_in", "isLoggedIn", "authenticated"}
	PropertyTypeChain  = AliasChain{"property_type", "propertyType", "listing_type", "category"}
	PlatformChain      = AliasChain{"platform", "share_platform", "network"}
	LeadSubTypeChain   = AliasChain{"lead_sub_type", "message_type", "messageType", "contact_method"}
	ContextTypeChain   = AliasChain{"context_type", "contextType"}
	AnonymousChain     = AliasChain{"is_anonymous", "anonymous", "isAnonymous"}
)

// Resolve returns the first non-empty value in props for the chain, rendered as a string.
func (c AliasChain) Resolve(props map[string]any) string {
	for _, key := range c {
		raw, ok := props[key]
		if !ok || raw == nil {
			continue
		}
		if s := stringify(raw); s != "" {
			return s
		}
	}
	return ""
}

// ResolveBool returns the first boolean-like value for the chain and whether one was found.
func (c AliasChain) ResolveBool(props map[string]any) (bool, bool) {
	for _, key := range c {
		raw, ok := props[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case float64:
			return v != 0, true
		case int:
			return v != 0, true
		case int64:
			return v != 0, true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n != 0, true
			}
		}
	}
	return false, false
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// ActorID resolves the acting user of an event, falling back to the first
// subject alias attached by the event stream.
func ActorID(e *RawEvent) string {
	if id := ActorIDChain.Resolve(e.Properties); id != "" {
		return id
	}
	for _, alias := range e.SubjectAliases {
		if a := strings.TrimSpace(alias); a != "" {
			return a
		}
	}
	return ""
}

// SubjectIDChain returns the chain that identifies subjects of the given type.
func SubjectIDChain(t SubjectType) AliasChain {
	switch t {
	case SubjectListing:
		return ListingIDChain
	case SubjectProfile:
		return ListerIDChain
	case SubjectDevelopment:
		return DevelopmentIDChain
	default:
		return nil
	}
}

// MatchesSubject reports whether the event references the subject through
// that subject type's resolution chain.
func MatchesSubject(e *RawEvent, s Subject) bool {
	chain := SubjectIDChain(s.Type)
	if chain == nil {
		return false
	}
	return chain.Resolve(e.Properties) == s.ID
}
