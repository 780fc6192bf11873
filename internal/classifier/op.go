package classifier

import (
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// OpKind is the counter store primitive an Op maps to
type OpKind int

const (
	OpIncrement OpKind = iota
	OpAddUnique
	OpIncrementField
	OpSetLookup
)

func (k OpKind) String() string {
	switch k {
	case OpIncrement:
		return "increment"
	case OpAddUnique:
		return "add_unique"
	case OpIncrementField:
		return "increment_field"
	case OpSetLookup:
		return "set_lookup"
	}
	return "unknown"
}

// Op is one independent counter operation derived from an event
type Op struct {
	Kind    OpKind
	Subject domain.Subject
	Day     time.Time
	Hour    int
	Metric  string
	Field   string
	Member  string
	Value   string
	Amount  int64
}

// Key returns the counter key the op writes to. Lookup ops use LookupKey instead.
func (o Op) Key() counter.Key {
	return counter.NewKey(o.Subject, o.Day, o.Metric)
}

// Mirrored reports whether the op is also reflected in the relational
// aggregate snapshot: increments as additive metrics, unique adds as
// cardinality metrics.
func (o Op) Mirrored() bool {
	return o.Kind == OpIncrement || o.Kind == OpAddUnique
}
