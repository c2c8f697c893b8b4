// Package rank rolls weakness events up per label, scores their impact and
// picks diversified evidence for the report.
package rank

import (
	"sort"

	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/game"
)

// Breakdown is a count with its average CPL.
type Breakdown struct {
	Count  int     `json:"count" yaml:"count"`
	AvgCPL float64 `json:"avg_cpl" yaml:"avg_cpl"`
}

// AggregateStat is the rollup of one label.
type AggregateStat struct {
	Label          detect.Label                 `json:"label" yaml:"label"`
	Count          int                          `json:"count" yaml:"count"`
	AvgCPL         float64                      `json:"avg_cpl" yaml:"avg_cpl"`
	Games          int                          `json:"games" yaml:"games"`
	MeanConfidence float64                      `json:"mean_confidence" yaml:"mean_confidence"`
	ByPhase        map[classify.Phase]Breakdown `json:"by_phase" yaml:"by_phase"`
	ByTimeControl  map[game.Category]Breakdown  `json:"by_time_control" yaml:"by_time_control"`
	Subtypes       map[string]int               `json:"subtypes,omitempty" yaml:"subtypes,omitempty"`
	TimeTags       map[detect.TimeTag]int       `json:"time_tags,omitempty" yaml:"time_tags,omitempty"`
	Reduced        int                          `json:"reduced,omitempty" yaml:"reduced,omitempty"`
}

// group holds one label's events, one per move.
type group struct {
	label    detect.Label
	events   []detect.Event // best event per move, sorted by preference
	subtypes map[string]int
}

// better orders two events for the same label: higher confidence, larger
// swing, then stable identity fields.
func better(a, b *detect.Event) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Evidence.Swing != b.Evidence.Swing {
		return a.Evidence.Swing > b.Evidence.Swing
	}
	if a.Evidence.GameID != b.Evidence.GameID {
		return a.Evidence.GameID < b.Evidence.GameID
	}
	if a.Evidence.Ply != b.Evidence.Ply {
		return a.Evidence.Ply < b.Evidence.Ply
	}
	return a.Subtype < b.Subtype
}

type moveKey struct {
	game string
	ply  int
}

// groupEvents buckets events by label. Several events of one label on the
// same move count once; the preferred one is kept.
func groupEvents(events []detect.Event) []*group {
	byLabel := make(map[detect.Label]*group)
	best := make(map[detect.Label]map[moveKey]int)
	seenSub := make(map[detect.Label]map[string]map[moveKey]bool)
	for i := range events {
		e := &events[i]
		g, ok := byLabel[e.Label]
		if !ok {
			g = &group{label: e.Label, subtypes: make(map[string]int)}
			byLabel[e.Label] = g
			best[e.Label] = make(map[moveKey]int)
			seenSub[e.Label] = make(map[string]map[moveKey]bool)
		}
		k := moveKey{e.Evidence.GameID, e.Evidence.Ply}
		if e.Subtype != "" {
			if seenSub[e.Label][e.Subtype] == nil {
				seenSub[e.Label][e.Subtype] = make(map[moveKey]bool)
			}
			if !seenSub[e.Label][e.Subtype][k] {
				seenSub[e.Label][e.Subtype][k] = true
				g.subtypes[e.Subtype]++
			}
		}
		if idx, ok := best[e.Label][k]; ok {
			if better(e, &g.events[idx]) {
				g.events[idx] = *e
			}
			continue
		}
		best[e.Label][k] = len(g.events)
		g.events = append(g.events, *e)
	}

	groups := make([]*group, 0, len(byLabel))
	for _, g := range byLabel {
		sort.Slice(g.events, func(i, j int) bool { return better(&g.events[i], &g.events[j]) })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].label < groups[j].label })
	return groups
}

func (g *group) stat() AggregateStat {
	st := AggregateStat{
		Label:         g.label,
		Count:         len(g.events),
		ByPhase:       make(map[classify.Phase]Breakdown),
		ByTimeControl: make(map[game.Category]Breakdown),
	}
	if len(g.subtypes) > 0 {
		st.Subtypes = make(map[string]int, len(g.subtypes))
		for k, v := range g.subtypes {
			st.Subtypes[k] = v
		}
	}
	games := make(map[string]bool)
	total, conf := 0, 0.0
	phaseCPL := make(map[classify.Phase]int)
	tcCPL := make(map[game.Category]int)
	for _, e := range g.events {
		ev := e.Evidence
		games[ev.GameID] = true
		total += ev.Swing
		conf += e.Confidence
		if e.Reduced {
			st.Reduced++
		}
		if e.TimeTag != detect.NoTimeTag {
			if st.TimeTags == nil {
				st.TimeTags = make(map[detect.TimeTag]int)
			}
			st.TimeTags[e.TimeTag]++
		}
		b := st.ByPhase[ev.Phase]
		b.Count++
		st.ByPhase[ev.Phase] = b
		phaseCPL[ev.Phase] += ev.Swing

		t := st.ByTimeControl[ev.TimeControl]
		t.Count++
		st.ByTimeControl[ev.TimeControl] = t
		tcCPL[ev.TimeControl] += ev.Swing
	}
	for p, b := range st.ByPhase {
		b.AvgCPL = float64(phaseCPL[p]) / float64(b.Count)
		st.ByPhase[p] = b
	}
	for c, b := range st.ByTimeControl {
		b.AvgCPL = float64(tcCPL[c]) / float64(b.Count)
		st.ByTimeControl[c] = b
	}
	if st.Count > 0 {
		st.AvgCPL = float64(total) / float64(st.Count)
		st.MeanConfidence = conf / float64(st.Count)
	}
	st.Games = len(games)
	return st
}

// Aggregate computes the per-label rollups, sorted by label.
func Aggregate(events []detect.Event) []AggregateStat {
	groups := groupEvents(events)
	out := make([]AggregateStat, len(groups))
	for i, g := range groups {
		out[i] = g.stat()
	}
	return out
}
