package board

import (
	"math/bits"

	"github.com/dylhunn/dragontoothmg"
)

var (
	knightMasks [64]uint64
	kingMasks   [64]uint64
)

func init() {
	for sq := 0; sq < 64; sq++ {
		f, r := sq%8, sq/8
		for _, d := range [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}} {
			if nf, nr := f+d[0], r+d[1]; nf >= 0 && nf < 8 && nr >= 0 && nr < 8 {
				knightMasks[sq] |= 1 << uint(nr*8+nf)
			}
		}
		for df := -1; df <= 1; df++ {
			for dr := -1; dr <= 1; dr++ {
				if df == 0 && dr == 0 {
					continue
				}
				if nf, nr := f+df, r+dr; nf >= 0 && nf < 8 && nr >= 0 && nr < 8 {
					kingMasks[sq] |= 1 << uint(nr*8+nf)
				}
			}
		}
	}
}

// KnightTargets lists the squares a knight on sq attacks.
func KnightTargets(sq int) []int {
	if sq < 0 || sq > 63 {
		return nil
	}
	return squaresOf(knightMasks[sq])
}

func pawnAttacks(sq int, s Side) uint64 {
	f, r := sq%8, sq/8
	dr := 1
	if s == Black {
		dr = -1
	}
	nr := r + dr
	if nr < 0 || nr > 7 {
		return 0
	}
	var m uint64
	if f > 0 {
		m |= 1 << uint(nr*8+f-1)
	}
	if f < 7 {
		m |= 1 << uint(nr*8+f+1)
	}
	return m
}

func rookAttacks(sq int, occ uint64) uint64 {
	return dragontoothmg.CalculateRookMoveBitboard(uint8(sq), occ)
}

func bishopAttacks(sq int, occ uint64) uint64 {
	return dragontoothmg.CalculateBishopMoveBitboard(uint8(sq), occ)
}

// attackSet returns the squares a piece on sq hits, blockers included.
func attackSet(p Piece, sq int, occ uint64) uint64 {
	switch p.Kind {
	case Pawn:
		return pawnAttacks(sq, p.Side)
	case Knight:
		return knightMasks[sq]
	case Bishop:
		return bishopAttacks(sq, occ)
	case Rook:
		return rookAttacks(sq, occ)
	case Queen:
		return rookAttacks(sq, occ) | bishopAttacks(sq, occ)
	case King:
		return kingMasks[sq]
	}
	return 0
}

// kingZone is the king square, its neighbours, and the three squares two
// ranks ahead of it.
func kingZone(k int, s Side) uint64 {
	zone := uint64(1)<<uint(k) | kingMasks[k]
	f, r := k%8, k/8
	ahead := r + 2
	if s == Black {
		ahead = r - 2
	}
	if ahead >= 0 && ahead < 8 {
		for nf := f - 1; nf <= f+1; nf++ {
			if nf >= 0 && nf < 8 {
				zone |= 1 << uint(ahead*8+nf)
			}
		}
	}
	return zone
}

func orthogonal(a, b int) bool {
	return a != b && (a%8 == b%8 || a/8 == b/8)
}

func diagonal(a, b int) bool {
	df, dr := a%8-b%8, a/8-b/8
	return a != b && (df == dr || df == -dr)
}

// between returns the squares strictly between two aligned squares.
func between(a, b int) uint64 {
	ab, bb := uint64(1)<<uint(a), uint64(1)<<uint(b)
	switch {
	case orthogonal(a, b):
		return rookAttacks(a, bb) & rookAttacks(b, ab)
	case diagonal(a, b):
		return bishopAttacks(a, bb) & bishopAttacks(b, ab)
	}
	return 0
}

// findPins looks for sliders that would hit a king, queen or rook if exactly
// one friendly piece stepped out of the line.
func (c *Context) findPins(all uint64) {
	for _, s := range []Side{White, Black} {
		enemy := s.Other()
		for m := c.occ[enemy]; m != 0; m &= m - 1 {
			pinner := bits.TrailingZeros64(m)
			slider := c.squares[pinner]
			for t := c.occ[s]; t != 0; t &= t - 1 {
				target := bits.TrailingZeros64(t)
				tp := c.squares[target]
				if tp.Kind != King && tp.Kind != Queen && tp.Kind != Rook {
					continue
				}
				if !slides(slider.Kind, pinner, target) {
					continue
				}
				line := between(pinner, target)
				blockers := line & all
				if bits.OnesCount64(blockers) != 1 || blockers&c.occ[s] == 0 {
					continue
				}
				sq := bits.TrailingZeros64(blockers)
				pinned := c.squares[sq]
				pin := Pin{
					Square: sq,
					Piece:  pinned,
					Pinner: pinner,
					Target: target,
					Line:   line | 1<<uint(pinner),
				}
				if tp.Kind == King {
					pin.Kind = AbsolutePin
				} else if tp.Kind.Value() > pinned.Kind.Value() && tp.Kind.Value() > slider.Kind.Value() {
					pin.Kind = PracticalPin
				} else {
					continue
				}
				c.pins = append(c.pins, pin)
			}
		}
	}
}

func slides(k Kind, from, to int) bool {
	switch k {
	case Rook:
		return orthogonal(from, to)
	case Bishop:
		return diagonal(from, to)
	case Queen:
		return orthogonal(from, to) || diagonal(from, to)
	}
	return false
}
