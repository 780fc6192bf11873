package domain

import (
	"sort"
	"strings"
	"time"
)

// WholeDayHour marks a snapshot partition that covers a full day, written by
// reconciliation corrections.
const WholeDayHour = -1

// Metric names shared by the classifier, snapshots and the replay
const (
	MetricTotalViews        = "total_views"
	MetricLoggedInViews     = "logged_in_views"
	MetricAnonymousViews    = "anonymous_views"
	MetricUniqueViews       = "unique_views"
	MetricListingViews      = "listing_views"
	MetricImpressions       = "impressions"
	MetricTotalShares       = "total_shares"
	MetricSharesByPlatform  = "shares_by_platform"
	MetricContactsTotal     = "contacts_total"
	MetricViewsFromPrefix   = "views_from_"
	MetricImpressionsPrefix = "impressions_from_"
	MetricContactsPrefix    = "contacts_"
)

// IsUniqueMetric reports whether a metric is a cardinality metric; those merge
// with max and are compared with a tolerance band.
func IsUniqueMetric(metric string) bool {
	return strings.HasPrefix(metric, "unique_")
}

// AggregateSnapshot is one stored partition of a subject's daily counters
type AggregateSnapshot struct {
	Subject Subject
	Day     time.Time
	Hour    int
	Metrics map[string]int64
	Version int64
}

// DaySnapshot is the merge of all partitions of one subject-day
type DaySnapshot struct {
	Day       time.Time
	Metrics   map[string]int64
	Watermark int64
}

// MergeDay folds sub-day partitions into per-day snapshots: additive metrics
// are summed, unique metrics take the max. The watermark is the sum of the
// partition versions. The result is ordered by day.
func MergeDay(parts []AggregateSnapshot) []DaySnapshot {
	byDay := make(map[time.Time]*DaySnapshot)
	for _, p := range parts {
		day := Day(p.Day)
		ds, ok := byDay[day]
		if !ok {
			ds = &DaySnapshot{Day: day, Metrics: make(map[string]int64)}
			byDay[day] = ds
		}
		ds.Watermark += p.Version
		for metric, v := range p.Metrics {
			if IsUniqueMetric(metric) {
				if v > ds.Metrics[metric] {
					ds.Metrics[metric] = v
				}
				continue
			}
			ds.Metrics[metric] += v
		}
	}

	out := make([]DaySnapshot, 0, len(byDay))
	for _, ds := range byDay {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// RollupColumns is the set of lead rollup columns kept on listing, development,
// lister profile and lister aggregate rows.
var RollupColumns = []string{
	"total_leads",
	"unique_leads",
	"anonymous_leads",
	"leads_phone",
	"leads_message",
	"leads_appointment",
	"leads_message_whatsapp",
	"leads_message_direct_message",
	"leads_message_email",
}
