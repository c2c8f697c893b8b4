package detect

import (
	"fmt"
	"strconv"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
)

// seriesRule is a detector over an ordered run of moves.
type seriesRule struct {
	name string
	run  func(*Config, []*Move) []Event
}

// gameRules see one game's moves in ply order.
var gameRules = []seriesRule{
	{string(WinThenReturn), winThenReturn},
	{string(MateTechnique), mateTechnique},
}

// runRules see every move of the run.
var runRules = []seriesRule{
	{string(EndgameTechnique), endgameTechnique},
}

// playerBalance is the material balance from side s's point of view.
func playerBalance(ctx *board.Context, s board.Side) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	b := ctx.Balance()
	if s == board.Black {
		b = -b
	}
	return b, true
}

// settledBalance is the player's material after move k once the opponent
// has replied, so a capture that is recaptured at once nets out.
func settledBalance(moves []*Move, k int) (int, bool) {
	m := moves[k]
	if k+1 < len(moves) && moves[k+1].Record.Ply == m.Record.Ply+2 {
		return playerBalance(moves[k+1].Before, m.Record.Color)
	}
	return playerBalance(m.After, m.Record.Color)
}

// winThenReturn looks for a move that lifts the player's evaluation by at
// least SpikeCP which is handed back within the next three player moves,
// either as an evaluation collapse or by returning material won with it.
func winThenReturn(c *Config, moves []*Move) []Event {
	var events []Event
	for i := 0; i < len(moves); i++ {
		cur := moves[i]
		peak := cur.Record.EvalAfter.Clamp(c.MateCap)
		if peak-cur.Record.EvalBefore.Clamp(c.MateCap) < c.SpikeCP {
			continue
		}
		baseMat, okBase := playerBalance(cur.Before, cur.Record.Color)
		peakMat, okPeak := settledBalance(moves, i)
		matWon := okBase && okPeak && peakMat-baseMat >= c.GivebackPoints
		for j := i + 1; j < len(moves) && j <= i+3; j++ {
			later := moves[j]
			drop := peak - later.Record.EvalAfter.Clamp(c.MateCap)
			mat, okMat := settledBalance(moves, j)
			giveback := matWon && okMat && peakMat-mat >= c.GivebackPoints
			if drop < c.CollapseCP && !giveback {
				continue
			}
			sub, conf := SubEvalReturn, c.conf("win_then_return.eval")
			if giveback {
				sub, conf = SubMaterialReturn, c.conf("win_then_return.material")
			}
			ev := newEvent(WinThenReturn, sub, conf, later.Record)
			ev.Meta = map[string]string{
				"peak_ply":  strconv.Itoa(cur.Record.Ply),
				"peak_eval": cur.Record.EvalAfter.String(),
				"drop_cp":   strconv.Itoa(drop),
			}
			if giveback {
				ev.Meta["material_returned"] = strconv.Itoa(peakMat - mat)
			}
			events = append(events, ev)
			i = j
			break
		}
	}
	return events
}

// simpleMating reports whether s has a textbook mating force against a
// bare king.
func simpleMating(ctx *board.Context, s board.Side) bool {
	if ctx == nil {
		return false
	}
	o := s.Other()
	if ctx.Material(o) != 0 || ctx.Count(o, board.Pawn) != 0 {
		return false
	}
	q, r := ctx.Count(s, board.Queen), ctx.Count(s, board.Rook)
	b, n := ctx.Count(s, board.Bishop), ctx.Count(s, board.Knight)
	return q > 0 || r > 0 || b >= 2 || (b >= 1 && n >= 1)
}

// mateTechnique flags stretches of a won mating ending where the forced
// mate gets no closer.
func mateTechnique(c *Config, moves []*Move) []Event {
	var events []Event
	run, emitted := 0, false
	for i, m := range moves {
		r := m.Record
		if !r.EvalBefore.MateFor() || !simpleMating(m.Before, r.Color) {
			run, emitted = 0, false
			continue
		}
		if run > 0 && moves[i-1].Record.Ply+2 != r.Ply {
			run, emitted = 0, false
		}
		run++
		if emitted || run < c.MateRun {
			continue
		}
		first := moves[i-c.MateRun+1].Record
		if r.EvalBefore.Plies < first.EvalBefore.Plies {
			continue
		}
		ev := newEvent(MateTechnique, SubMateNotShrinking, c.conf("mate_technique"), r)
		ev.Meta = map[string]string{
			"mate_plies_start": strconv.Itoa(first.EvalBefore.Plies),
			"mate_plies_end":   strconv.Itoa(r.EvalBefore.Plies),
			"moves":            strconv.Itoa(run),
		}
		events = append(events, ev)
		emitted = true
	}
	return events
}

// endgameTechnique reports a steady leak of small losses in endgames.
func endgameTechnique(c *Config, moves []*Move) []Event {
	var endgame []*classify.MoveRecord
	total, blunders := 0, 0
	for _, m := range moves {
		r := m.Record
		if r.Phase != classify.Endgame {
			continue
		}
		endgame = append(endgame, r)
		total += r.CPL
		if r.Severity == classify.Blunder {
			blunders++
		}
	}
	n := len(endgame)
	if n == 0 || n < c.EndgameMinSample {
		return nil
	}
	acpl := float64(total) / float64(n)
	rate := float64(blunders) / float64(n)
	if acpl < c.EndgameACPL || rate >= c.EndgameBlunders {
		return nil
	}
	conf := c.conf("endgame_technique.small")
	if n >= c.EndgameFullConf {
		conf = c.conf("endgame_technique.full")
	}
	var events []Event
	for _, r := range endgame {
		if r.CPL < c.EndgameEvidence {
			continue
		}
		ev := newEvent(EndgameTechnique, "", conf, r)
		ev.Meta = map[string]string{
			"endgame_moves": strconv.Itoa(n),
			"endgame_acpl":  fmt.Sprintf("%.1f", acpl),
			"blunder_rate":  fmt.Sprintf("%.3f", rate),
		}
		events = append(events, ev)
	}
	return events
}
