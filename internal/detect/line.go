package detect

import (
	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/position"
)

// step is one ply of a replayed engine line.
type step struct {
	facts position.MoveFacts
	mover board.Side
	// material is the player's cumulative material change in pawns,
	// including this ply.
	material int
}

// walkLine replays up to limit plies of line from start and tracks the
// material swing for player. Replay stops at the first illegal move.
func walkLine(start position.Position, line []string, player board.Side, limit int) []step {
	if len(line) > limit {
		line = line[:limit]
	}
	steps := make([]step, 0, len(line))
	cur := start
	total := 0
	for _, uci := range line {
		facts, err := cur.Describe(uci)
		if err != nil {
			break
		}
		mover := board.SideOf(cur.WhiteToMove())
		gain := board.KindFromLetter(facts.Captured).Value()
		if facts.Promo != 0 {
			gain += board.KindFromLetter(facts.Promo).Value() - 1
		}
		if mover == player {
			total += gain
		} else {
			total -= gain
		}
		next, err := cur.Play(uci)
		if err != nil {
			break
		}
		steps = append(steps, step{facts: facts, mover: mover, material: total})
		cur = next
	}
	return steps
}

// materialAt returns the material change after n plies (or the last
// replayed ply when the line is shorter).
func materialAt(steps []step, n int) int {
	if len(steps) == 0 {
		return 0
	}
	if n > len(steps) {
		n = len(steps)
	}
	return steps[n-1].material
}

// firstGain returns the 1-based ply at which the player's material change
// first reaches at least points, or 0.
func firstGain(steps []step, points int) int {
	for i, s := range steps {
		if s.material >= points {
			return i + 1
		}
	}
	return 0
}

func squareOf(uci string, to bool) int {
	if len(uci) < 4 {
		return -1
	}
	name := uci[0:2]
	if to {
		name = uci[2:4]
	}
	sq, ok := position.SquareFromName(name)
	if !ok {
		return -1
	}
	return sq
}
