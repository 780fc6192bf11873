package reconcile

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// Status classifies one replayed-vs-stored comparison
type Status string

const (
	StatusMatch Status = "match"
	StatusMinor Status = "minor"
	StatusMajor Status = "major"
)

const (
	// MinorThresholdPercent is the largest |percent diff| still classed as minor.
	MinorThresholdPercent = 5.0

	// UniqueTolerancePercent is the unique sketch error band; differences on
	// unique metrics inside it are expected and classed as a match.
	UniqueTolerancePercent = 2.0
)

// FieldComparison compares one metric
type FieldComparison struct {
	Metric   string  `json:"metric"`
	Replayed int64   `json:"replayed"`
	Stored   int64   `json:"stored"`
	Diff     int64   `json:"diff"`
	Percent  float64 `json:"percent"`
	Status   Status  `json:"status"`
}

// DayComparison compares every metric of one day
type DayComparison struct {
	Day    string            `json:"day"`
	Fields []FieldComparison `json:"fields"`
}

// Summary counts comparisons by status over all fields and days
type Summary struct {
	Match int `json:"match"`
	Minor int `json:"minor"`
	Major int `json:"major"`
}

// Report is the read-only outcome of one reconciliation run. It carries no
// wall-clock data so identical inputs render identical JSON.
type Report struct {
	Subject       domain.Subject    `json:"subject"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Partial       bool              `json:"partial"`
	EventsScanned int               `json:"events_scanned"`
	PagesFetched  int               `json:"pages_fetched"`
	Fields        []FieldComparison `json:"fields"`
	Days          []DayComparison   `json:"days"`
	MissingDays   []string          `json:"missing_days"`
	ExtraDays     []string          `json:"extra_days"`
	Summary       Summary           `json:"summary"`

	// watermarks of the stored days as read for this report
	watermarks map[string]int64
}

// JSON renders the report
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Drifted returns the days with at least one non-matching field
func (r *Report) Drifted() []DayComparison {
	var out []DayComparison
	for _, d := range r.Days {
		for _, f := range d.Fields {
			if f.Status != StatusMatch {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Watermark returns the stored watermark of day as read by the run
func (r *Report) Watermark(day string) int64 {
	return r.watermarks[day]
}

// Compare classifies one snapshot metric. percent is diff relative to the
// replayed value, or 100 when only the stored side is non-zero.
func Compare(metric string, replayed, stored int64) FieldComparison {
	return compare(metric, replayed, stored, domain.IsUniqueMetric(metric))
}

func compare(metric string, replayed, stored int64, sketched bool) FieldComparison {
	diff := replayed - stored
	fc := FieldComparison{Metric: metric, Replayed: replayed, Stored: stored, Diff: diff}

	switch {
	case replayed != 0:
		fc.Percent = round2(float64(diff) / float64(replayed) * 100)
	case stored != 0:
		fc.Percent = 100
	}

	abs := math.Abs(fc.Percent)
	switch {
	case diff == 0:
		fc.Status = StatusMatch
	case sketched && replayed != 0 && abs <= UniqueTolerancePercent:
		fc.Status = StatusMatch
	case abs <= MinorThresholdPercent:
		fc.Status = StatusMinor
	default:
		fc.Status = StatusMajor
	}
	return fc
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// buildReport compares replayed per-day totals with merged stored days.
func buildReport(req Request, replayed map[time.Time]map[string]int64, stored []domain.DaySnapshot) *Report {
	report := &Report{
		Subject:     req.Subject,
		From:        domain.DayString(req.From),
		To:          domain.DayString(req.To),
		Fields:      []FieldComparison{},
		Days:        []DayComparison{},
		MissingDays: []string{},
		ExtraDays:   []string{},
		watermarks:  make(map[string]int64),
	}

	storedByDay := make(map[time.Time]map[string]int64, len(stored))
	for _, ds := range stored {
		storedByDay[ds.Day] = ds.Metrics
		report.watermarks[domain.DayString(ds.Day)] = ds.Watermark
	}

	days := make(map[time.Time]struct{})
	for d := range replayed {
		days[d] = struct{}{}
		if _, ok := storedByDay[d]; !ok {
			report.MissingDays = append(report.MissingDays, domain.DayString(d))
		}
	}
	for d := range storedByDay {
		days[d] = struct{}{}
		if _, ok := replayed[d]; !ok {
			report.ExtraDays = append(report.ExtraDays, domain.DayString(d))
		}
	}
	sort.Strings(report.MissingDays)
	sort.Strings(report.ExtraDays)

	ordered := make([]time.Time, 0, len(days))
	for d := range days {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	totalsReplayed := make(map[string]int64)
	totalsStored := make(map[string]int64)
	for _, d := range ordered {
		r, s := replayed[d], storedByDay[d]
		dc := DayComparison{Day: domain.DayString(d)}
		for _, metric := range metricNames(r, s) {
			fc := Compare(metric, r[metric], s[metric])
			dc.Fields = append(dc.Fields, fc)
			report.Summary.add(fc.Status)
			mergeTotal(totalsReplayed, metric, r[metric])
			mergeTotal(totalsStored, metric, s[metric])
		}
		report.Days = append(report.Days, dc)
	}

	for _, metric := range metricNames(totalsReplayed, totalsStored) {
		fc := Compare(metric, totalsReplayed[metric], totalsStored[metric])
		report.Fields = append(report.Fields, fc)
		report.Summary.add(fc.Status)
	}
	return report
}

// mergeTotal folds one day into window totals; unique metrics are per-day
// cardinalities and cannot be summed across days.
func mergeTotal(totals map[string]int64, metric string, v int64) {
	if domain.IsUniqueMetric(metric) {
		if v > totals[metric] {
			totals[metric] = v
		}
		return
	}
	totals[metric] += v
}

func metricNames(maps ...map[string]int64) []string {
	set := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Summary) add(status Status) {
	switch status {
	case StatusMatch:
		s.Match++
	case StatusMinor:
		s.Minor++
	case StatusMajor:
		s.Major++
	}
}
