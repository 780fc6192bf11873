package counter

import (
	"strings"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

const (
	counterPrefix = "ctr"
	lookupPrefix  = "lkp"
)

// escaper keeps the separator out of key components so that two distinct
// tuples can never render to the same key.
var escaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key identifies one daily counter
type Key struct {
	Subject domain.Subject
	Day     time.Time
	Metric  string
}

// NewKey builds a counter key, truncating day to its UTC day bucket.
func NewKey(subject domain.Subject, day time.Time, metric string) Key {
	return Key{Subject: subject, Day: domain.Day(day), Metric: metric}
}

// String renders ctr:<subject_type>:<subject_id>:<yyyy-mm-dd>:<metric>.
func (k Key) String() string {
	return strings.Join([]string{
		counterPrefix,
		escaper.Replace(string(k.Subject.Type)),
		escaper.Replace(k.Subject.ID),
		domain.DayString(k.Day),
		escaper.Replace(k.Metric),
	}, ":")
}

// LookupKey renders lkp:<subject_type>:<subject_id>:<attribute> for
// undated per-subject attributes such as the property type.
func LookupKey(subject domain.Subject, attribute string) string {
	return strings.Join([]string{
		lookupPrefix,
		escaper.Replace(string(subject.Type)),
		escaper.Replace(subject.ID),
		escaper.Replace(attribute),
	}, ":")
}
