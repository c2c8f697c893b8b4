// Package detect runs heuristic weakness detectors over classified moves.
//
// Detectors are plain functions registered in a fixed order. Per-move
// detectors look at one move record with the board contexts before and
// after it; series detectors look at a game's records, or the whole run's,
// in ply order. Detectors only read their inputs.
package detect

import (
	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/game"
)

// Label names a weakness family.
type Label string

const (
	Hang              Label = "hang"
	MissedForcing     Label = "missed_forcing_move"
	IgnoredThreat     Label = "ignored_threat"
	AllowedMateThreat Label = "allowed_mate_threat"
	OpeningPrinciples Label = "opening_principles"
	KingSafety        Label = "king_safety"
	WinThenReturn     Label = "win_then_return"
	EndgameTechnique  Label = "endgame_technique"
	MateTechnique     Label = "mate_technique"
)

// Mechanism subtypes reported inside a parent label.
const (
	SubHangEnPrise       = "hang_en_prise"
	SubHangMovedDefender = "hang_moved_defender"
	SubHangPinned        = "hang_pinned_piece"

	SubKnightFork       = "motif_knight_fork"
	SubMissedCheck      = "missed_forcing_check"
	SubMissedCapture    = "missed_forcing_capture"
	SubAllowedCheck     = "allowed_forcing_check"
	SubAllowedCapture   = "allowed_forcing_capture"
	SubEarlyQueen       = "early_queen"
	SubRepeatedPiece    = "repeated_piece_move"
	SubNoCastle         = "no_castle"
	SubUnderdeveloped   = "under_development"
	SubMaterialReturn   = "material_giveback"
	SubEvalReturn       = "eval_collapse"
	SubMateNotShrinking = "mate_not_shrinking"
)

// TimeTag is the categorical time reading of a blunder.
type TimeTag string

const (
	NoTimeTag          TimeTag = ""
	Autopilot          TimeTag = "autopilot"
	CalculationFailure TimeTag = "calculation_failure"
)

// Evidence is a self-contained example backing an event.
type Evidence struct {
	GameID      string              `json:"game_id" yaml:"game_id"`
	Ply         int                 `json:"ply" yaml:"ply"`
	MoveNumber  int                 `json:"move_number" yaml:"move_number"`
	Color       string              `json:"color" yaml:"color"`
	FEN         string              `json:"fen" yaml:"fen"`
	Played      string              `json:"played" yaml:"played"`
	PlayedSAN   string              `json:"played_san" yaml:"played_san"`
	Best        string              `json:"best,omitempty" yaml:"best,omitempty"`
	BestSAN     string              `json:"best_san,omitempty" yaml:"best_san,omitempty"`
	PV          []string            `json:"pv,omitempty" yaml:"pv,omitempty"`
	Swing       int                 `json:"swing" yaml:"swing"`
	EvalBefore  string              `json:"eval_before" yaml:"eval_before"`
	EvalAfter   string              `json:"eval_after" yaml:"eval_after"`
	Phase       classify.Phase      `json:"phase" yaml:"phase"`
	TimeControl game.Category       `json:"time_control" yaml:"time_control"`
	Time        *classify.TimeUsage `json:"time,omitempty" yaml:"time,omitempty"`
}

// Event is one detected weakness instance.
type Event struct {
	Label      Label             `json:"label"`
	Subtype    string            `json:"subtype,omitempty"`
	Confidence float64           `json:"confidence"`
	Meta       map[string]string `json:"meta,omitempty"`
	Evidence   Evidence          `json:"evidence"`
	TimeTag    TimeTag           `json:"time_tag,omitempty"`
	// Reduced marks events that rest on a fallback heuristic.
	Reduced bool `json:"reduced_confidence,omitempty"`

	Record *classify.MoveRecord `json:"-"`
}

// Key returns the source move's key.
func (e *Event) Key() classify.Key { return e.Record.Key() }

// Move is the input of a per-move detector.
type Move struct {
	Record *classify.MoveRecord
	Before *board.Context // nil when the position could not be analysed
	After  *board.Context
	Game   *game.Game // optional; needed for opening history
}

// pvLength bounds the line shown in evidence.
const pvLength = 6

func newEvent(label Label, sub string, conf float64, r *classify.MoveRecord) Event {
	return Event{
		Label:      label,
		Subtype:    sub,
		Confidence: conf,
		Evidence:   evidenceOf(r),
		Reduced:    r.PhaseFallback && (label == EndgameTechnique || label == OpeningPrinciples),
		Record:     r,
	}
}

func evidenceOf(r *classify.MoveRecord) Evidence {
	pv := r.BestLine
	if len(pv) > pvLength {
		pv = pv[:pvLength]
	}
	ev := Evidence{
		GameID:      r.GameID,
		Ply:         r.Ply,
		MoveNumber:  r.MoveNumber,
		Color:       r.Color.String(),
		FEN:         r.Before.FEN(),
		Played:      r.Played,
		PlayedSAN:   r.SAN,
		Best:        r.BestMove,
		BestSAN:     r.BestSAN,
		PV:          append([]string(nil), pv...),
		Swing:       r.CPL,
		EvalBefore:  r.EvalBefore.String(),
		EvalAfter:   r.EvalAfter.String(),
		Phase:       r.Phase,
		TimeControl: r.TimeControl,
	}
	if r.Time != nil {
		t := *r.Time
		ev.Time = &t
	}
	return ev
}
