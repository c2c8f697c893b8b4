package position

import "fmt"

// Move encoding (uint16):
//   bits 0-5:   from square (0-63)
//   bits 6-11:  to square (0-63)
//   bits 12-14: promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N)
//   bit 15:     reserved

const (
	moveFromMask   = 0x3F
	moveToMask     = 0xFC0
	movePromoMask  = 0x7000
	movePromoShift = 12
	moveToShift    = 6
)

// Promotion piece types
const (
	PromoNone   = 0
	PromoQueen  = 1
	PromoRook   = 2
	PromoBishop = 3
	PromoKnight = 4
)

// Move is a compact from/to/promotion triple. The zero value is "no move"
// (a1a1 is never legal).
type Move uint16

// NoMove is returned when a move could not be encoded.
const NoMove Move = 0

// EncodeMove creates a Move from square indices and optional promotion.
// from, to: square indices 0-63 (A1=0, B1=1, ..., H8=63)
func EncodeMove(from, to int, promo byte) Move {
	if from < 0 || from > 63 || to < 0 || to > 63 || promo > PromoKnight {
		return NoMove
	}
	m := uint16(from) | (uint16(to) << moveToShift) | (uint16(promo) << movePromoShift)
	return Move(m)
}

// DecodeMove extracts from square, to square, and promotion from a Move.
func DecodeMove(m Move) (from, to int, promo byte) {
	return m.From(), m.To(), m.Promotion()
}

// From returns the source square index (0-63).
func (m Move) From() int {
	return int(m & moveFromMask)
}

// To returns the destination square index (0-63).
func (m Move) To() int {
	return int((m & moveToMask) >> moveToShift)
}

// Promotion returns the promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N).
func (m Move) Promotion() byte {
	return byte((m & movePromoMask) >> movePromoShift)
}

// UCI converts a Move to UCI notation (e.g., "e2e4", "e7e8q").
func (m Move) UCI() string {
	if m == NoMove {
		return ""
	}
	from, to := m.From(), m.To()
	b := []byte{
		byte('a' + from%8), byte('1' + from/8),
		byte('a' + to%8), byte('1' + to/8),
	}
	if p := m.Promotion(); p > 0 {
		b = append(b, "qrbn"[p-1])
	}
	return string(b)
}

func (m Move) String() string {
	return m.UCI()
}

// MoveFromUCI parses a UCI move string into a Move.
// Examples: "e2e4", "e7e8q", "a1h8"
func MoveFromUCI(uci string) (Move, error) {
	if len(uci) < 4 || len(uci) > 5 {
		return NoMove, fmt.Errorf("bad UCI move length: %q", uci)
	}

	from, ok := SquareFromName(uci[0:2])
	if !ok {
		return NoMove, fmt.Errorf("invalid from square in UCI: %s", uci)
	}
	to, ok := SquareFromName(uci[2:4])
	if !ok {
		return NoMove, fmt.Errorf("invalid to square in UCI: %s", uci)
	}

	var promo byte = PromoNone
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'Q':
			promo = PromoQueen
		case 'r', 'R':
			promo = PromoRook
		case 'b', 'B':
			promo = PromoBishop
		case 'n', 'N':
			promo = PromoKnight
		default:
			return NoMove, fmt.Errorf("invalid promotion piece: %c", uci[4])
		}
	}

	return EncodeMove(from, to, promo), nil
}

// SquareName returns the algebraic name of a square index ("e4").
func SquareName(sq int) string {
	if sq < 0 || sq > 63 {
		return "-"
	}
	return string([]byte{byte('a' + sq%8), byte('1' + sq/8)})
}

// SquareFromName parses an algebraic square name.
func SquareFromName(s string) (int, bool) {
	if len(s) != 2 {
		return 0, false
	}
	file := int(s[0]) - 'a'
	rank := int(s[1]) - '1'
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, false
	}
	return rank*8 + file, true
}
