package reconcile

import (
	"time"

	"github.com/BarkinBalci/lead-analytics-service/internal/classifier"
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
)

// Fold replays events into exact per-day totals for subject. It classifies
// every event exactly as the live consumer does and keeps the ops that the
// live path mirrors into snapshots. Unique metrics are counted exactly.
// Events that fail classification are skipped, as they are live.
func Fold(events []*domain.RawEvent, subject domain.Subject) map[time.Time]map[string]int64 {
	totals := make(map[time.Time]map[string]int64)
	members := make(map[time.Time]map[string]map[string]struct{})

	for _, e := range events {
		// replayed events always carry a timestamp; the zero fallback keeps Fold pure
		ops, err := classifier.Classify(e, time.Time{})
		if err != nil {
			continue
		}
		for _, op := range ops {
			if op.Subject != subject || !op.Mirrored() {
				continue
			}
			day := totals[op.Day]
			if day == nil {
				day = make(map[string]int64)
				totals[op.Day] = day
			}

			switch op.Kind {
			case classifier.OpIncrement:
				day[op.Metric] += op.Amount
			case classifier.OpAddUnique:
				if members[op.Day] == nil {
					members[op.Day] = make(map[string]map[string]struct{})
				}
				set := members[op.Day][op.Metric]
				if set == nil {
					set = make(map[string]struct{})
					members[op.Day][op.Metric] = set
				}
				set[op.Member] = struct{}{}
				day[op.Metric] = int64(len(set))
			}
		}
	}
	return totals
}
