// Package board derives static, read-only facts about a position: who
// attacks and defends each square, which pieces are pinned, material, and
// the area around each king. A Context is built once per distinct position
// and shared by reference; nothing mutates it after Build returns.
package board

import (
	"fmt"
	"math/bits"

	"github.com/dylhunn/dragontoothmg"

	"github.com/freeeve/weakscan/internal/position"
)

// Side is a color.
type Side uint8

const (
	White Side = 0
	Black Side = 1
)

// Other returns the opposing side.
func (s Side) Other() Side { return s ^ 1 }

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}

// SideOf maps a "white to move" flag to a Side.
func SideOf(white bool) Side {
	if white {
		return White
	}
	return Black
}

// Kind is a piece type.
type Kind uint8

const (
	None Kind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

var kindNames = [...]string{"none", "pawn", "knight", "bishop", "rook", "queen", "king"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is the conventional material value in pawns.
func (k Kind) Value() int {
	return pieceValue[k]
}

var pieceValue = [...]int{None: 0, Pawn: 1, Knight: 3, Bishop: 3, Rook: 5, Queen: 9, King: 0}

// KindFromLetter maps a SAN/FEN piece letter (either case) to a Kind.
func KindFromLetter(c byte) Kind {
	switch c {
	case 'P', 'p':
		return Pawn
	case 'N', 'n':
		return Knight
	case 'B', 'b':
		return Bishop
	case 'R', 'r':
		return Rook
	case 'Q', 'q':
		return Queen
	case 'K', 'k':
		return King
	}
	return None
}

// Piece is a colored piece.
type Piece struct {
	Kind Kind
	Side Side
}

// PinKind separates pins to the king from pins to a more valuable piece.
type PinKind uint8

const (
	AbsolutePin PinKind = iota + 1
	PracticalPin
)

func (k PinKind) String() string {
	switch k {
	case AbsolutePin:
		return "absolute"
	case PracticalPin:
		return "practical"
	}
	return "none"
}

// Pin describes one pinned piece.
type Pin struct {
	Square int    // pinned piece
	Piece  Piece  //
	Pinner int    // square of the pinning slider
	Target int    // square of the piece the pin shields
	Line   uint64 // squares from the pinner up to (not including) the target
	Kind   PinKind
}

// Context holds the derived facts for one position.
type Context struct {
	FEN         string
	WhiteToMove bool

	squares  [64]Piece
	occ      [2]uint64
	attacks  [2][64]uint64 // attacks[side][sq]: bitboard of side's pieces hitting sq
	pins     []Pin
	material [2]int
	kings    [2]int
	zones    [2]uint64
}

// Build computes the context for a position.
func Build(pos position.Position) (ctx *Context, err error) {
	if pos.IsZero() {
		return nil, fmt.Errorf("%w: empty position", position.ErrMalformedPosition)
	}
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("%w: %v", position.ErrMalformedPosition, r)
		}
	}()

	b := dragontoothmg.ParseFen(pos.FEN())
	c := &Context{
		FEN:         pos.FEN(),
		WhiteToMove: b.Wtomove,
		kings:       [2]int{-1, -1},
	}
	c.load(White, &b.White)
	c.load(Black, &b.Black)
	if c.kings[White] < 0 || c.kings[Black] < 0 {
		return nil, fmt.Errorf("%w: missing king", position.ErrMalformedPosition)
	}

	all := c.occ[White] | c.occ[Black]
	for sq := 0; sq < 64; sq++ {
		p := c.squares[sq]
		if p.Kind == None {
			continue
		}
		for t := attackSet(p, sq, all); t != 0; t &= t - 1 {
			c.attacks[p.Side][bits.TrailingZeros64(t)] |= 1 << uint(sq)
		}
	}
	for _, s := range []Side{White, Black} {
		c.zones[s] = kingZone(c.kings[s], s)
	}
	c.findPins(all)
	return c, nil
}

func (c *Context) load(s Side, bb *dragontoothmg.Bitboards) {
	sets := []struct {
		mask uint64
		kind Kind
	}{
		{bb.Pawns, Pawn},
		{bb.Knights, Knight},
		{bb.Bishops, Bishop},
		{bb.Rooks, Rook},
		{bb.Queens, Queen},
		{bb.Kings, King},
	}
	for _, set := range sets {
		for m := set.mask; m != 0; m &= m - 1 {
			sq := bits.TrailingZeros64(m)
			c.squares[sq] = Piece{Kind: set.kind, Side: s}
			c.occ[s] |= 1 << uint(sq)
			c.material[s] += set.kind.Value()
			if set.kind == King {
				c.kings[s] = sq
			}
		}
	}
}

// PieceAt returns the piece on sq.
func (c *Context) PieceAt(sq int) (Piece, bool) {
	if sq < 0 || sq > 63 {
		return Piece{}, false
	}
	p := c.squares[sq]
	return p, p.Kind != None
}

// Occupancy returns the bitboard of a side's pieces.
func (c *Context) Occupancy(s Side) uint64 { return c.occ[s] }

// AttackersMask returns the bitboard of side s's pieces attacking sq.
func (c *Context) AttackersMask(sq int, s Side) uint64 {
	if sq < 0 || sq > 63 {
		return 0
	}
	return c.attacks[s][sq]
}

// Attackers lists the squares of side s's pieces attacking sq.
func (c *Context) Attackers(sq int, s Side) []int {
	return squaresOf(c.AttackersMask(sq, s))
}

// IsAttacked reports whether side s attacks sq.
func (c *Context) IsAttacked(sq int, s Side) bool {
	return c.AttackersMask(sq, s) != 0
}

// Defenders lists the pieces protecting the piece on sq (attackers of the
// same color). Empty squares have no defenders.
func (c *Context) Defenders(sq int) []int {
	p, ok := c.PieceAt(sq)
	if !ok {
		return nil
	}
	return c.Attackers(sq, p.Side)
}

// Hanging lists side s's pieces (kings excluded) that are attacked by the
// opponent and not defended.
func (c *Context) Hanging(s Side) []int {
	var out []int
	for m := c.occ[s]; m != 0; m &= m - 1 {
		sq := bits.TrailingZeros64(m)
		if c.squares[sq].Kind == King {
			continue
		}
		if c.attacks[s.Other()][sq] != 0 && c.attacks[s][sq] == 0 {
			out = append(out, sq)
		}
	}
	return out
}

// Pins returns every pin in the position.
func (c *Context) Pins() []Pin { return c.pins }

// PinOf returns the pin on the piece at sq, preferring absolute pins.
func (c *Context) PinOf(sq int) (Pin, bool) {
	var found Pin
	ok := false
	for _, p := range c.pins {
		if p.Square != sq {
			continue
		}
		if !ok || p.Kind == AbsolutePin {
			found, ok = p, true
		}
	}
	return found, ok
}

// Material returns side s's material in pawns.
func (c *Context) Material(s Side) int { return c.material[s] }

// Balance returns white material minus black material.
func (c *Context) Balance() int { return c.material[White] - c.material[Black] }

// KingSquare returns the king square of side s.
func (c *Context) KingSquare(s Side) int { return c.kings[s] }

// KingZone returns the squares around side s's king.
func (c *Context) KingZone(s Side) uint64 { return c.zones[s] }

// Count returns how many pieces of a kind side s has.
func (c *Context) Count(s Side, k Kind) int {
	n := 0
	for m := c.occ[s]; m != 0; m &= m - 1 {
		if c.squares[bits.TrailingZeros64(m)].Kind == k {
			n++
		}
	}
	return n
}

// Squares lists the squares holding side s's pieces of kind k.
func (c *Context) Squares(s Side, k Kind) []int {
	var out []int
	for m := c.occ[s]; m != 0; m &= m - 1 {
		sq := bits.TrailingZeros64(m)
		if c.squares[sq].Kind == k {
			out = append(out, sq)
		}
	}
	return out
}

// PieceCount returns the number of pieces on the board, kings included.
func (c *Context) PieceCount() int {
	return bits.OnesCount64(c.occ[White] | c.occ[Black])
}

// PawnShield counts side s's pawns on the three squares directly in front of
// its king. A king off its first two ranks has no shield.
func (c *Context) PawnShield(s Side) int {
	k := c.kings[s]
	file, rank := k%8, k/8
	front := rank + 1
	if s == Black {
		front = rank - 1
	}
	if s == White && rank > 1 || s == Black && rank < 6 {
		return 0
	}
	n := 0
	for f := file - 1; f <= file+1; f++ {
		if f < 0 || f > 7 {
			continue
		}
		p := c.squares[front*8+f]
		if p.Kind == Pawn && p.Side == s {
			n++
		}
	}
	return n
}

// KingCommitted reports whether side s's king sits on a wing of its back
// rank, as after castling.
func (c *Context) KingCommitted(s Side) bool {
	k := c.kings[s]
	file, rank := k%8, k/8
	back := 0
	if s == Black {
		back = 7
	}
	return rank == back && (file <= 2 || file >= 5)
}

func squaresOf(m uint64) []int {
	if m == 0 {
		return nil
	}
	out := make([]int, 0, bits.OnesCount64(m))
	for ; m != 0; m &= m - 1 {
		out = append(out, bits.TrailingZeros64(m))
	}
	return out
}
