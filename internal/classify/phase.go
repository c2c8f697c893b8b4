package classify

import (
	"strings"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/position"
)

// startWeight is the weighted non-pawn material of the initial position:
// per side Q4 + 2*R2 + 4 minors.
const startWeight = 2 * (4 + 2*2 + 4)

// PhaseWeight returns the non-pawn material on the board (Q4, R2, minor 1)
// as a share of the starting total.
func PhaseWeight(c *board.Context) float64 {
	w := 0
	for _, s := range []board.Side{board.White, board.Black} {
		w += 4*c.Count(s, board.Queen) +
			2*c.Count(s, board.Rook) +
			c.Count(s, board.Bishop) +
			c.Count(s, board.Knight)
	}
	return float64(w) / startWeight
}

// DetectPhase classifies a single position from its material.
func DetectPhase(c *board.Context, moveNumber int) Phase {
	w := PhaseWeight(c)
	queens := c.Count(board.White, board.Queen) + c.Count(board.Black, board.Queen)
	if w <= 0.25 || (queens == 0 && w <= 0.35) {
		return Endgame
	}
	if moveNumber <= 10 && w >= 0.85 {
		return Opening
	}
	return Middlegame
}

// FallbackPhase guesses the phase from the ply index and the number of
// pieces in the placement field when no board context is available.
func FallbackPhase(pos position.Position, ply int) Phase {
	pieces := 0
	placement, _, _ := strings.Cut(pos.FEN(), " ")
	for _, c := range placement {
		if strings.ContainsRune("pnbrqkPNBRQK", c) {
			pieces++
		}
	}
	switch {
	case pieces > 0 && pieces <= 12:
		return Endgame
	case ply < 20:
		return Opening
	}
	return Middlegame
}

// PhaseTracker keeps phase labels monotonic within one game.
type PhaseTracker struct {
	cur Phase
}

// Advance returns the later of the current phase and p, and remembers it.
func (t *PhaseTracker) Advance(p Phase) Phase {
	if t.cur == "" || p.order() > t.cur.order() {
		t.cur = p
	}
	return t.cur
}
