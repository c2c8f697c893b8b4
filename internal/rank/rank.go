package rank

import (
	"errors"
	"fmt"
	"sort"

	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/game"
)

// ErrInsufficientEvidence is returned when fewer examples than requested
// can be selected.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Config controls ranking and evidence selection.
type Config struct {
	TopK       int // labels kept by impact
	Evidence   int // examples per label
	MinCount   int // occurrences needed to be ranked
	HangFloor  int // hang is kept at this count even outside the top K
	SubtypeMin int // subtypes shown at this count

	CountScale float64
	CPLScale   float64
	GamesScale float64
}

// MaxEvidence bounds Config.Evidence.
const MaxEvidence = 5

// DefaultConfig returns the standard ranking settings.
func DefaultConfig() Config {
	return Config{
		TopK:       5,
		Evidence:   3,
		MinCount:   3,
		HangFloor:  3,
		SubtypeMin: 5,
		CountScale: 20,
		CPLScale:   300,
		GamesScale: 10,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.Evidence <= 0 {
		c.Evidence = d.Evidence
	}
	if c.Evidence > MaxEvidence {
		c.Evidence = MaxEvidence
	}
	if c.MinCount <= 0 {
		c.MinCount = d.MinCount
	}
	if c.HangFloor <= 0 {
		c.HangFloor = d.HangFloor
	}
	if c.SubtypeMin <= 0 {
		c.SubtypeMin = d.SubtypeMin
	}
	if c.CountScale <= 0 {
		c.CountScale = d.CountScale
	}
	if c.CPLScale <= 0 {
		c.CPLScale = d.CPLScale
	}
	if c.GamesScale <= 0 {
		c.GamesScale = d.GamesScale
	}
	return c
}

// Impact scores a label from its count, average CPL and game coverage.
func (c Config) Impact(count int, avgCPL float64, games int) float64 {
	c = c.normalize()
	return unit(float64(count)/c.CountScale) *
		unit(avgCPL/c.CPLScale) *
		unit(float64(games)/c.GamesScale)
}

func unit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Example is one piece of evidence in the report.
type Example struct {
	detect.Evidence `yaml:",inline"`
	Subtype         string            `json:"subtype,omitempty" yaml:"subtype,omitempty"`
	Confidence      float64           `json:"confidence" yaml:"confidence"`
	Meta            map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
	TimeTag         detect.TimeTag    `json:"time_tag,omitempty" yaml:"time_tag,omitempty"`
}

// RankedWeakness is one label of the final report.
type RankedWeakness struct {
	Label    detect.Label   `json:"label" yaml:"label"`
	Impact   float64        `json:"impact" yaml:"impact"`
	Stat     AggregateStat  `json:"stat" yaml:"stat"`
	Evidence []Example      `json:"evidence" yaml:"evidence"`
	Subtypes map[string]int `json:"subtypes,omitempty" yaml:"subtypes,omitempty"`
	// Floor is set when the label was kept by the hang floor rather than
	// by its impact rank.
	Floor   bool     `json:"floor,omitempty" yaml:"floor,omitempty"`
	Reduced bool     `json:"reduced_confidence,omitempty" yaml:"reduced_confidence,omitempty"`
	Notes   []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Result is the ranker's output.
type Result struct {
	Ranked []RankedWeakness `json:"ranked" yaml:"ranked"`
	Stats  []AggregateStat  `json:"stats" yaml:"stats"`
	Notes  []string         `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Rank aggregates events, orders labels by impact and selects evidence.
// The result does not depend on the order of events.
func Rank(events []detect.Event, cfg Config) Result {
	cfg = cfg.normalize()
	groups := groupEvents(events)

	type scored struct {
		g      *group
		stat   AggregateStat
		impact float64
	}
	var res Result
	var candidates []scored
	for _, g := range groups {
		st := g.stat()
		res.Stats = append(res.Stats, st)
		if st.Count < cfg.MinCount && (st.Label != detect.Hang || st.Count < cfg.HangFloor) {
			res.Notes = append(res.Notes, fmt.Sprintf("%s: %d occurrence(s), too few to rank", st.Label, st.Count))
			continue
		}
		candidates = append(candidates, scored{g: g, stat: st, impact: cfg.Impact(st.Count, st.AvgCPL, st.Games)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.impact != b.impact {
			return a.impact > b.impact
		}
		if a.stat.Count != b.stat.Count {
			return a.stat.Count > b.stat.Count
		}
		if a.stat.AvgCPL != b.stat.AvgCPL {
			return a.stat.AvgCPL > b.stat.AvgCPL
		}
		return a.stat.Label < b.stat.Label
	})

	for i, c := range candidates {
		floor := false
		if i >= cfg.TopK {
			if c.stat.Label != detect.Hang || c.stat.Count < cfg.HangFloor {
				continue
			}
			floor = true
		}
		rw := RankedWeakness{
			Label:  c.stat.Label,
			Impact: c.impact,
			Stat:   c.stat,
			Floor:  floor,
		}
		for sub, n := range c.stat.Subtypes {
			if n >= cfg.SubtypeMin {
				if rw.Subtypes == nil {
					rw.Subtypes = make(map[string]int)
				}
				rw.Subtypes[sub] = n
			}
		}
		examples, err := SelectEvidence(c.g.events, cfg.Evidence)
		if len(examples) == 0 {
			res.Notes = append(res.Notes, fmt.Sprintf("%s: no usable evidence", c.stat.Label))
			continue
		}
		rw.Evidence = examples
		if errors.Is(err, ErrInsufficientEvidence) {
			rw.Notes = append(rw.Notes, fmt.Sprintf("reduced sample: %d of %d examples from distinct games", len(examples), cfg.Evidence))
		}
		if c.stat.Reduced == c.stat.Count {
			rw.Reduced = true
			rw.Notes = append(rw.Notes, "phase came from a fallback heuristic; reduced confidence")
		}
		if c.stat.Games < 3 {
			rw.Notes = append(rw.Notes, fmt.Sprintf("seen in only %d game(s)", c.stat.Games))
		}
		res.Ranked = append(res.Ranked, rw)
	}
	return res
}

// SelectEvidence picks up to n examples from distinct games, preferring
// phases and time controls not yet represented, then stronger events.
// events must be sorted by preference. When fewer than n games are
// available every one is used and ErrInsufficientEvidence is returned.
func SelectEvidence(events []detect.Event, n int) ([]Example, error) {
	if n <= 0 {
		return nil, nil
	}
	usedGame := make(map[string]bool)
	phases := make(map[classify.Phase]bool)
	tcs := make(map[game.Category]bool)
	var out []Example
	for len(out) < n {
		pick, score := -1, -1
		for i := range events {
			ev := events[i].Evidence
			if usedGame[ev.GameID] {
				continue
			}
			s := 0
			if !phases[ev.Phase] {
				s += 2
			}
			if !tcs[ev.TimeControl] {
				s++
			}
			if s > score {
				pick, score = i, s
			}
		}
		if pick < 0 {
			break
		}
		e := events[pick]
		usedGame[e.Evidence.GameID] = true
		phases[e.Evidence.Phase] = true
		tcs[e.Evidence.TimeControl] = true
		out = append(out, exampleOf(e))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no examples: %w", ErrInsufficientEvidence)
	}
	if len(out) < n {
		return out, fmt.Errorf("%d of %d examples: %w", len(out), n, ErrInsufficientEvidence)
	}
	return out, nil
}

func exampleOf(e detect.Event) Example {
	ex := Example{
		Evidence:   e.Evidence,
		Subtype:    e.Subtype,
		Confidence: e.Confidence,
		TimeTag:    e.TimeTag,
	}
	ex.Evidence.PV = append([]string(nil), e.Evidence.PV...)
	if len(e.Meta) > 0 {
		ex.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			ex.Meta[k] = v
		}
	}
	return ex
}
