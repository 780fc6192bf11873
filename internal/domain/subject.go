package domain

import "fmt"

// SubjectType identifies the kind of entity an aggregate belongs to
type SubjectType string

const (
	SubjectListing     SubjectType = "listing"
	SubjectProfile     SubjectType = "profile"
	SubjectDevelopment SubjectType = "development"

	// SubjectListerAggregate is the market-wide rollup row per lister type.
	// It only receives lead rollups and is never a reconciliation target.
	SubjectListerAggregate SubjectType = "lister_aggregate"
)

// Valid reports whether t is one of the known subject types
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectListing, SubjectProfile, SubjectDevelopment:
		return true
	}
	return false
}

// Subject is one aggregate owner, e.g. a listing or a lister profile
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

func (s Subject) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// ParseSubject validates a subject type/id pair coming from an outer layer
func ParseSubject(subjectType, subjectID string) (Subject, error) {
	t := SubjectType(subjectType)
	if !t.Valid() {
		return Subject{}, &ValidationError{Field: "subject_type", Reason: fmt.Sprintf("unsupported value %q", subjectType)}
	}
	if subjectID == "" {
		return Subject{}, &ValidationError{Field: "subject_id", Reason: "required"}
	}
	return Subject{Type: t, ID: subjectID}, nil
}
