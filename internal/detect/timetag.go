package detect

import (
	"sort"
	"time"

	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/game"
)

// ThinkPercentile returns, per time-control category, the p-th percentile
// of the time spent on the given moves.
func ThinkPercentile(records []*classify.MoveRecord, p float64) map[game.Category]time.Duration {
	spent := make(map[game.Category][]time.Duration)
	for _, r := range records {
		if r.Time != nil && r.Time.HasSpent {
			spent[r.TimeControl] = append(spent[r.TimeControl], r.Time.Spent)
		}
	}
	out := make(map[game.Category]time.Duration, len(spent))
	for cat, ds := range spent {
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		idx := int(float64(len(ds)) * p)
		if idx >= len(ds) {
			idx = len(ds) - 1
		}
		out[cat] = ds[idx]
	}
	return out
}

// TimeTags tags each blunder played on autopilot (an insta-move) or after a
// long think (at or above the percentile for its time control).
func TimeTags(records []*classify.MoveRecord, p float64) map[classify.Key]TimeTag {
	long := ThinkPercentile(records, p)
	tags := make(map[classify.Key]TimeTag)
	for _, r := range records {
		if r.Severity != classify.Blunder || r.Time == nil || !r.Time.HasSpent {
			continue
		}
		switch {
		case r.Time.Insta:
			tags[r.Key()] = Autopilot
		case r.Time.Spent >= long[r.TimeControl]:
			tags[r.Key()] = CalculationFailure
		}
	}
	return tags
}
