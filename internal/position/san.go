package position

import (
	"fmt"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// MoveFacts describes a legal move in its position.
type MoveFacts struct {
	UCI      string
	SAN      string
	Piece    byte // moving piece, upper case (P N B R Q K)
	Captured byte // captured piece, upper case, 0 if none
	Check    bool
	Mate     bool
	Castle   bool
	Promo    byte // promotion piece, upper case, 0 if none
}

// IsCapture reports whether the move takes a piece.
func (f MoveFacts) IsCapture() bool { return f.Captured != 0 }

// Forcing reports whether the move is a check or a capture.
func (f MoveFacts) Forcing() bool { return f.Check || f.Captured != 0 }

// Describe resolves a UCI move in p and reports what it does.
func (p Position) Describe(uci string) (MoveFacts, error) {
	gs, err := p.State()
	if err != nil {
		return MoveFacts{}, err
	}
	mv, err := find(gs, uci)
	if err != nil {
		return MoveFacts{}, err
	}
	return describe(gs, mv), nil
}

// SAN converts a UCI move to SAN, falling back to the UCI string when the
// move is not legal here.
func (p Position) SAN(uci string) string {
	f, err := p.Describe(uci)
	if err != nil {
		return uci
	}
	return f.SAN
}

// DescribeState reports what a legal move does in gs. gs is not modified.
func DescribeState(gs *pgn.GameState, mv pgn.Mv) MoveFacts {
	return describe(gs, mv)
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 32
	}
	return c
}

func describe(pos *pgn.GameState, mv pgn.Mv) MoveFacts {
	facts := MoveFacts{UCI: MvToUCI(mv)}

	piece := upper(pos.PieceAt(mv.From))
	facts.Piece = piece
	isPawn := piece == 'P'
	if mv.Flags == flagEnPassant && isPawn {
		facts.Captured = 'P'
	} else if target := pos.PieceAt(mv.To); target != 0 && mv.Flags != flagCastle {
		facts.Captured = upper(target)
	}

	switch mv.Promo {
	case pgn.PromoQueen:
		facts.Promo = 'Q'
	case pgn.PromoRook:
		facts.Promo = 'R'
	case pgn.PromoBishop:
		facts.Promo = 'B'
	case pgn.PromoKnight:
		facts.Promo = 'N'
	}

	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile := fromSq % 8
	toFile := toSq % 8
	toRank := toSq / 8

	files := "abcdefgh"
	ranks := "12345678"

	var san string
	switch {
	case mv.Flags == flagCastle:
		facts.Castle = true
		if toSq > fromSq {
			san = "O-O"
		} else {
			san = "O-O-O"
		}
	case isPawn:
		if facts.Captured != 0 {
			san = string(files[fromFile]) + "x" + string(files[toFile]) + string(ranks[toRank])
		} else {
			san = string(files[toFile]) + string(ranks[toRank])
		}
		if facts.Promo != 0 {
			san += "=" + string(facts.Promo)
		}
	default:
		san = string(piece)

		// Check for disambiguation
		disambig := ""
		for _, other := range pgn.GenerateLegalMoves(pos) {
			if other.To != mv.To || other.From == mv.From {
				continue
			}
			if upper(pos.PieceAt(other.From)) != piece {
				continue
			}
			otherFromFile := int(other.From) % 8
			otherFromRank := int(other.From) / 8
			if fromFile != otherFromFile {
				disambig = string(files[fromFile])
			} else if fromSq/8 != otherFromRank {
				disambig = string(ranks[fromSq/8])
			} else {
				disambig = string(files[fromFile]) + string(ranks[fromSq/8])
			}
			break
		}
		san += disambig

		if facts.Captured != 0 {
			san += "x"
		}
		san += string(files[toFile]) + string(ranks[toRank])
	}

	// Check for check/checkmate
	if after := pos.Pack().Unpack(); after != nil {
		if err := pgn.ApplyMove(after, mv); err == nil && after.IsInCheck() {
			facts.Check = true
			if len(pgn.GenerateLegalMoves(after)) == 0 {
				facts.Mate = true
				san += "#"
			} else {
				san += "+"
			}
		}
	}

	facts.SAN = san
	return facts
}

// ParseSAN resolves a SAN move ("Nf3", "exd5+", "O-O") to UCI.
func (p Position) ParseSAN(san string) (string, error) {
	gs, err := p.State()
	if err != nil {
		return "", err
	}
	mv, err := pgn.ParseSAN(gs, strings.TrimRight(san, "+#!?"))
	if err != nil {
		return "", fmt.Errorf("%w: san %q: %v", ErrMalformedPosition, san, err)
	}
	return MvToUCI(mv), nil
}
