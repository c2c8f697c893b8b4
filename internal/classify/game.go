package classify

import (
	"fmt"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
)

// PlyEval carries the engine results around one ply. Before is the result
// for the position before the move (mover to play), After the result for
// the position after it.
type PlyEval struct {
	Before  eval.Result
	After   eval.Result
	Refined bool
}

// Skip records a player move left out of the analysis.
type Skip struct {
	Ply int
	Err error
}

// Classifier builds move records.
type Classifier struct {
	th     Thresholds
	boards *board.Cache
}

// New creates a classifier. boards may be shared across games of a run.
func New(th Thresholds, boards *board.Cache) *Classifier {
	if boards == nil {
		boards = board.NewCache()
	}
	return &Classifier{th: th, boards: boards}
}

// Thresholds returns the classifier's thresholds.
func (c *Classifier) Thresholds() Thresholds { return c.th }

// Game classifies every player move that has an evaluation. Moves without
// one are reported as skipped with eval.ErrEvaluatorUnavailable.
func (c *Classifier) Game(g *game.Game, evals map[int]PlyEval) ([]*MoveRecord, []Skip) {
	var (
		records []*MoveRecord
		skips   []Skip
		tracker PhaseTracker
	)
	withTime := g.ClockCoverage() >= c.th.ClockCoverage
	insta, trouble := g.TimeControl.Category.Thresholds()
	var prevClock *game.Ply

	for i := range g.Plies {
		p := g.Plies[i]
		phase, fallback := c.phase(p)
		phase = tracker.Advance(phase)
		if p.Mover != g.Color {
			continue
		}

		var usage *TimeUsage
		if withTime && p.HasClock {
			usage = &TimeUsage{Remaining: p.Clock}
			if prevClock != nil {
				spent := prevClock.Clock - p.Clock + secondsDur(g.TimeControl.Increment)
				if spent < 0 {
					spent = 0
				}
				usage.Spent, usage.HasSpent = spent, true
				usage.Insta = spent.Seconds() <= insta
			}
			usage.TimeTrouble = p.Clock.Seconds() <= trouble
			prevClock = &g.Plies[i]
		}

		pe, ok := evals[p.Index]
		if !ok {
			skips = append(skips, Skip{Ply: p.Index, Err: fmt.Errorf("ply %d: %w", p.Index, eval.ErrEvaluatorUnavailable)})
			continue
		}
		r := c.Record(g, p, pe)
		r.Phase, r.PhaseFallback = phase, fallback
		if usage != nil {
			usage.Critical = c.th.critical(r)
			r.Time = usage
		}
		records = append(records, r)
	}
	return records, skips
}

// Record classifies one ply without phase or time context.
func (c *Classifier) Record(g *game.Game, p game.Ply, pe PlyEval) *MoveRecord {
	player := g.Color
	r := &MoveRecord{
		GameID:      g.ID,
		Ply:         p.Index,
		MoveNumber:  p.MoveNumber(),
		Color:       player,
		Before:      p.Before,
		After:       p.After,
		Played:      p.UCI,
		SAN:         p.SAN,
		BestMove:    pe.Before.BestMove,
		BestLine:    pe.Before.PV,
		ReplyLine:   pe.After.PV,
		TimeControl: g.TimeControl.Category,
		Depth:       min(pe.Before.Depth, pe.After.Depth),
		Refined:     pe.Refined,
	}
	if r.BestMove != "" {
		r.BestSAN = p.Before.SAN(r.BestMove)
	}

	stmBefore := board.SideOf(p.Before.WhiteToMove())
	stmAfter := board.SideOf(p.After.WhiteToMove())
	r.EvalBefore = Normalize(pe.Before.Score, stmBefore, player)
	r.EvalBest = r.EvalBefore
	r.EvalAfter = Normalize(pe.After.Score, stmAfter, player)
	if second, ok := pe.Before.SecondBest(); ok {
		s := Normalize(second, stmBefore, player)
		r.SecondBest = &s
	}

	r.CPL, r.Flags = CPL(r.EvalBest, r.EvalAfter, c.th.MateCap)
	if r.PlayedBest() {
		r.CPL = 0
		r.Flags.MateDrop = false
	}
	r.Severity = c.th.Grade(r.CPL)
	return r
}

// phase labels the position before p, falling back to counts when the
// board context cannot be built.
func (c *Classifier) phase(p game.Ply) (Phase, bool) {
	ctx, err := c.boards.Get(p.Before)
	if err != nil {
		return FallbackPhase(p.Before, p.Index), true
	}
	return DetectPhase(ctx, p.MoveNumber()), false
}
