package classify

import (
	"time"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/eval"
)

// Thresholds drive severity, mate capping and time criticality.
type Thresholds struct {
	MateCap       int
	Inaccuracy    int
	Mistake       int
	Blunder       int
	ClockCoverage float64

	CriticalCPL        int // CPL alone makes a move critical
	CriticalGap        int // best-vs-second line gap
	CriticalBalance    int // |eval before| at most this ...
	CriticalBalanceCPL int // ... and CPL at least this
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MateCap:            2000,
		Inaccuracy:         50,
		Mistake:            150,
		Blunder:            300,
		ClockCoverage:      0.7,
		CriticalCPL:        150,
		CriticalGap:        120,
		CriticalBalance:    200,
		CriticalBalanceCPL: 200,
	}
}

// Normalize expresses a side-to-move-relative score for player.
func Normalize(s eval.Score, sideToMove, player board.Side) eval.Score {
	if sideToMove == player {
		return s
	}
	return s.Negate()
}

// CPL returns the centipawn loss of a move whose best continuation scored
// best and whose resulting position scores after, both player-relative.
// Mates are clamped to cap, and a lost forced mate costs the full cap.
func CPL(best, after eval.Score, cap int) (int, MateFlags) {
	var f MateFlags
	if !best.IsMate() && !after.IsMate() {
		return max(0, best.CP-after.CP), f
	}
	f.MateEvent = true
	loss := min(cap, max(0, best.Clamp(cap)-after.Clamp(cap)))
	if best.MateFor() && !after.MateFor() {
		f.MateDrop = true
		loss = cap
	}
	if after.MateAgainst() && (!best.MateAgainst() || after.Plies < best.Plies-1) {
		f.AllowedMate = true
	}
	return loss, f
}

// Grade maps CPL to a severity.
func (t Thresholds) Grade(cpl int) Severity {
	switch {
	case cpl >= t.Blunder:
		return Blunder
	case cpl >= t.Mistake:
		return Mistake
	case cpl >= t.Inaccuracy:
		return Inaccuracy
	}
	return OK
}

// critical applies the time-criticality rule.
func (t Thresholds) critical(r *MoveRecord) bool {
	if r.CPL >= t.CriticalCPL {
		return true
	}
	if r.Gap(t.MateCap) >= t.CriticalGap {
		return true
	}
	before := r.EvalBefore.Clamp(t.MateCap)
	return abs(before) <= t.CriticalBalance && r.CPL >= t.CriticalBalanceCPL
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func secondsDur(s int) time.Duration {
	return time.Duration(s) * time.Second
}
