package eval

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a Score.
type Kind uint8

const (
	KindCentipawn Kind = iota
	KindMate
)

// mateBase orders mate scores above any centipawn value.
const mateBase = 1_000_000

// Score is an engine verdict from one side's point of view: either a
// centipawn value or a forced mate that favors (Winning) or goes against
// that side, Plies half-moves from the position.
type Score struct {
	Kind    Kind
	CP      int
	Plies   int
	Winning bool
}

// CP returns a centipawn score.
func CP(v int) Score {
	return Score{Kind: KindCentipawn, CP: v}
}

// MateIn converts a UCI "mate N" value (side-to-move relative, in moves)
// into a Score. N > 0 means the side to move mates in 2N-1 plies; N <= 0
// means it is mated in 2|N| plies.
func MateIn(moves int) Score {
	if moves > 0 {
		return Score{Kind: KindMate, Plies: 2*moves - 1, Winning: true}
	}
	return Score{Kind: KindMate, Plies: -2 * moves, Winning: false}
}

// Mated is the score of a side that has already been checkmated.
func Mated() Score {
	return Score{Kind: KindMate, Plies: 0, Winning: false}
}

// IsMate reports whether the score is a forced mate.
func (s Score) IsMate() bool { return s.Kind == KindMate }

// MateFor reports a forced mate in favor of this point of view.
func (s Score) MateFor() bool { return s.Kind == KindMate && s.Winning }

// MateAgainst reports a forced mate against this point of view.
func (s Score) MateAgainst() bool { return s.Kind == KindMate && !s.Winning }

// Negate expresses the score from the other side's point of view. The mate
// distance in plies does not change.
func (s Score) Negate() Score {
	if s.Kind == KindMate {
		s.Winning = !s.Winning
		return s
	}
	s.CP = -s.CP
	return s
}

// Clamp maps the score onto [-limit, limit], mates to the bounds.
func (s Score) Clamp(limit int) int {
	if s.Kind == KindMate {
		if s.Winning {
			return limit
		}
		return -limit
	}
	if s.CP > limit {
		return limit
	}
	if s.CP < -limit {
		return -limit
	}
	return s.CP
}

// Rank returns a total order over scores: faster wins above slower wins
// above any centipawn value above slower losses above faster losses.
func (s Score) Rank() int {
	if s.Kind == KindMate {
		if s.Winning {
			return mateBase - s.Plies
		}
		return -mateBase + s.Plies
	}
	return s.CP
}

// Compare returns -1, 0 or 1 as a is worse than, equal to, or better than b.
func Compare(a, b Score) int {
	ra, rb := a.Rank(), b.Rank()
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// MateMoves returns the signed UCI-style mate distance in moves.
func (s Score) MateMoves() int {
	if s.Kind != KindMate {
		return 0
	}
	if s.Winning {
		return (s.Plies + 1) / 2
	}
	return -(s.Plies / 2)
}

func (s Score) String() string {
	if s.Kind == KindMate {
		if s.Winning {
			return fmt.Sprintf("#%d", s.MateMoves())
		}
		return fmt.Sprintf("#-%d", s.Plies/2)
	}
	return fmt.Sprintf("%+.2f", float64(s.CP)/100)
}

// Encode writes the score in the compact text form used by snapshots:
// "cp:-35" or "mate:+5" / "mate:-4" (plies, sign = Winning).
func (s Score) Encode() string {
	if s.Kind == KindMate {
		sign := "-"
		if s.Winning {
			sign = "+"
		}
		return "mate:" + sign + strconv.Itoa(s.Plies)
	}
	return "cp:" + strconv.Itoa(s.CP)
}

// ParseScore reads the Encode form.
func ParseScore(v string) (Score, error) {
	kind, val, ok := strings.Cut(v, ":")
	if !ok {
		return Score{}, fmt.Errorf("bad score %q", v)
	}
	switch kind {
	case "cp":
		n, err := strconv.Atoi(val)
		if err != nil {
			return Score{}, fmt.Errorf("bad score %q: %w", v, err)
		}
		return CP(n), nil
	case "mate":
		if len(val) < 2 || (val[0] != '+' && val[0] != '-') {
			return Score{}, fmt.Errorf("bad mate score %q", v)
		}
		n, err := strconv.Atoi(val[1:])
		if err != nil || n < 0 {
			return Score{}, fmt.Errorf("bad mate score %q", v)
		}
		return Score{Kind: KindMate, Plies: n, Winning: val[0] == '+'}, nil
	}
	return Score{}, fmt.Errorf("bad score kind %q", kind)
}
