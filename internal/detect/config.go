package detect

import (
	"fmt"
	"sort"
)

// Config holds detector thresholds and default confidences.
type Config struct {
	MateCap int

	// Confidences by rule name, see DefaultConfig for the names.
	Confidence map[string]float64

	HangCPL          int // minimum CPL for the pinned-piece rule
	MissedCPL        int
	MissedWithin     int // plies of the best line searched for the win
	MissedFast       int // a win this early gets the higher confidence
	ThreatCPL        int
	MateThreatPlies  int
	KingSafetyCPL    int
	HarmCPL          int // opening flags count as harmful at this CPL
	SpikeCP          int
	CollapseCP       int
	GivebackPoints   int
	EndgameACPL      float64
	EndgameBlunders  float64 // blunder rate must stay below this
	EndgameMinSample int
	EndgameFullConf  int // sample size for the full endgame confidence
	EndgameEvidence  int // CPL of the moves cited as examples
	MateRun          int
	CalcPercentile   float64
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		MateCap: 2000,
		Confidence: map[string]float64{
			"hang_en_prise.ply1":        0.9,
			"hang_en_prise.within3":     0.7,
			"hang_moved_defender":       0.8,
			"hang_pinned.absolute":      0.75,
			"hang_pinned.practical":     0.6,
			"missed_forcing.fast":       0.85,
			"missed_forcing.slow":       0.6,
			"missed_forcing.fork":       0.85,
			"ignored_threat.mate":       0.85,
			"ignored_threat.other":      0.65,
			"allowed_mate_threat":       0.9,
			"opening_principles.harm":   0.7,
			"opening_principles.noharm": 0.5,
			"king_safety.checks":        0.75,
			"king_safety.other":         0.55,
			"win_then_return.material":  0.8,
			"win_then_return.eval":      0.6,
			"endgame_technique.full":    0.7,
			"endgame_technique.small":   0.4,
			"mate_technique":            0.9,
		},
		HangCPL:          200,
		MissedCPL:        200,
		MissedWithin:     8,
		MissedFast:       6,
		ThreatCPL:        250,
		MateThreatPlies:  12,
		KingSafetyCPL:    200,
		HarmCPL:          50,
		SpikeCP:          200,
		CollapseCP:       250,
		GivebackPoints:   3,
		EndgameACPL:      80,
		EndgameBlunders:  0.1,
		EndgameMinSample: 10,
		EndgameFullConf:  80,
		EndgameEvidence:  50,
		MateRun:          5,
		CalcPercentile:   0.9,
	}
}

// SetConfidence overrides one rule's confidence.
func (c *Config) SetConfidence(name string, v float64) error {
	if _, ok := c.Confidence[name]; !ok {
		return fmt.Errorf("unknown confidence %q", name)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("confidence %q out of range: %v", name, v)
	}
	c.Confidence[name] = v
	return nil
}

// ConfidenceNames lists the overridable rule names.
func (c *Config) ConfidenceNames() []string {
	names := make([]string, 0, len(c.Confidence))
	for n := range c.Confidence {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Config) conf(name string) float64 {
	return c.Confidence[name]
}
