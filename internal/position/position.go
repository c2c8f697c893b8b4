// Package position wraps the pgn game state with an immutable, canonical
// position value used for cache keys and move replay.
package position

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// ErrMalformedPosition is returned when a FEN fails shape or legality checks.
var ErrMalformedPosition = errors.New("malformed position")

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// pgn move flags
const (
	flagEnPassant = 2
	flagCastle    = 4
)

// Position is an immutable board state. The canonical form keeps placement,
// side to move, castling rights and an en-passant square only when an
// en-passant capture is actually legal.
type Position struct {
	fen       string
	canonical string
	white     bool
	fullmove  int
}

// Parse validates a FEN and returns the position.
func Parse(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	fields := strings.Fields(fen)
	if err := checkShape(fields); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	if len(fields) == 4 {
		fields = append(fields, "0", "1")
		fen = strings.Join(fields, " ")
	}

	gs, err := pgn.NewGame(fen)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	return fromState(gs, fen, fields)
}

// MustParse is Parse for constants and tests.
func MustParse(fen string) Position {
	p, err := Parse(fen)
	if err != nil {
		panic(err)
	}
	return p
}

// Start returns the initial position.
func Start() Position {
	return MustParse(StartFEN)
}

// FromState snapshots a pgn game state.
func FromState(gs *pgn.GameState) (Position, error) {
	if gs == nil {
		return Position{}, fmt.Errorf("%w: nil state", ErrMalformedPosition)
	}
	fen := gs.ToFEN()
	fields := strings.Fields(fen)
	if err := checkShape(fields); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	return fromState(gs, fen, fields)
}

func fromState(gs *pgn.GameState, fen string, fields []string) (Position, error) {
	ep := fields[3]
	if ep != "-" {
		ep = "-"
		for _, mv := range pgn.GenerateLegalMoves(gs) {
			if mv.Flags == flagEnPassant {
				ep = fields[3]
				break
			}
		}
	}
	full := 1
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			full = n
		}
	}
	return Position{
		fen:       fen,
		canonical: strings.Join([]string{fields[0], fields[1], fields[2], ep}, " "),
		white:     fields[1] == "w",
		fullmove:  full,
	}, nil
}

// checkShape performs the structural FEN checks the move generator does not.
func checkShape(fields []string) error {
	if len(fields) != 4 && len(fields) != 6 {
		return fmt.Errorf("want 4 or 6 fields, got %d", len(fields))
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("want 8 ranks, got %d", len(ranks))
	}
	var kings [2]int
	for i, rank := range ranks {
		width := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				width += int(c - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", c):
				width++
				if c == 'K' {
					kings[0]++
				} else if c == 'k' {
					kings[1]++
				}
				if (c == 'p' || c == 'P') && (i == 0 || i == 7) {
					return fmt.Errorf("pawn on back rank")
				}
			default:
				return fmt.Errorf("bad placement char %q", c)
			}
		}
		if width != 8 {
			return fmt.Errorf("rank %d has width %d", 8-i, width)
		}
	}
	if kings[0] != 1 || kings[1] != 1 {
		return fmt.Errorf("want one king per side, got %d/%d", kings[0], kings[1])
	}
	if fields[1] != "w" && fields[1] != "b" {
		return fmt.Errorf("bad side to move %q", fields[1])
	}
	if fields[2] != "-" && strings.Trim(fields[2], "KQkq") != "" {
		return fmt.Errorf("bad castling field %q", fields[2])
	}
	if fields[3] != "-" {
		if _, ok := SquareFromName(fields[3]); !ok {
			return fmt.Errorf("bad en-passant field %q", fields[3])
		}
	}
	return nil
}

// FEN returns the full FEN including move counters.
func (p Position) FEN() string { return p.fen }

// Canonical returns the counter-free form used in cache keys.
func (p Position) Canonical() string { return p.canonical }

// WhiteToMove reports the side to move.
func (p Position) WhiteToMove() bool { return p.white }

// MoveNumber returns the FEN full-move number.
func (p Position) MoveNumber() int { return p.fullmove }

// IsZero reports whether p is the zero value.
func (p Position) IsZero() bool { return p.fen == "" }

func (p Position) String() string { return p.canonical }

// State returns a fresh mutable game state for this position.
func (p Position) State() (*pgn.GameState, error) {
	if p.IsZero() {
		return nil, fmt.Errorf("%w: empty position", ErrMalformedPosition)
	}
	gs, err := pgn.NewGame(p.fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	return gs, nil
}

// Packed returns the pgn packed key of the position.
func (p Position) Packed() (pgn.PackedPosition, error) {
	gs, err := p.State()
	if err != nil {
		return pgn.PackedPosition{}, err
	}
	return gs.Pack(), nil
}

// LegalMoves returns the legal moves in UCI notation.
func (p Position) LegalMoves() []string {
	gs, err := p.State()
	if err != nil {
		return nil
	}
	moves := pgn.GenerateLegalMoves(gs)
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, MvToUCI(mv))
	}
	return out
}

// InCheck reports whether the side to move is in check.
func (p Position) InCheck() bool {
	gs, err := p.State()
	if err != nil {
		return false
	}
	return gs.IsInCheck()
}

// Checkmated reports whether the side to move has been mated.
func (p Position) Checkmated() bool {
	gs, err := p.State()
	if err != nil {
		return false
	}
	return gs.IsInCheck() && len(pgn.GenerateLegalMoves(gs)) == 0
}

// find resolves a UCI string against the legal moves of gs.
func find(gs *pgn.GameState, uci string) (pgn.Mv, error) {
	want := strings.ToLower(strings.TrimSpace(uci))
	for _, mv := range pgn.GenerateLegalMoves(gs) {
		if MvToUCI(mv) == want {
			return mv, nil
		}
	}
	return pgn.Mv{}, fmt.Errorf("illegal move %q", uci)
}

// Play applies a UCI move and returns the resulting position.
func (p Position) Play(uci string) (Position, error) {
	gs, err := p.State()
	if err != nil {
		return Position{}, err
	}
	mv, err := find(gs, uci)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	if err := pgn.ApplyMove(gs, mv); err != nil {
		return Position{}, fmt.Errorf("apply %s: %w", uci, err)
	}
	return FromState(gs)
}

// Line replays a UCI sequence and returns every intermediate position,
// stopping at the first illegal move.
func (p Position) Line(ucis []string) []Position {
	out := make([]Position, 0, len(ucis))
	cur := p
	for _, u := range ucis {
		next, err := cur.Play(u)
		if err != nil {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// MvToUCI converts a pgn move into UCI notation. Castling is always written
// as a two-square king move.
func MvToUCI(mv pgn.Mv) string {
	from, to := int(mv.From), int(mv.To)
	if mv.Flags == flagCastle && to-from != 2 && from-to != 2 {
		if to > from {
			to = from + 2
		} else {
			to = from - 2
		}
	}
	var promo byte
	switch mv.Promo {
	case pgn.PromoQueen:
		promo = PromoQueen
	case pgn.PromoRook:
		promo = PromoRook
	case pgn.PromoBishop:
		promo = PromoBishop
	case pgn.PromoKnight:
		promo = PromoKnight
	}
	return EncodeMove(from, to, promo).UCI()
}
