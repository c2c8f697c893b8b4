// Package classify turns engine verdicts for a game's moves into enriched,
// player-relative move records.
package classify

import (
	"time"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/position"
)

// Phase of the game.
type Phase string

const (
	Opening    Phase = "opening"
	Middlegame Phase = "middlegame"
	Endgame    Phase = "endgame"
)

// Phases lists phases in game order.
var Phases = []Phase{Opening, Middlegame, Endgame}

func (p Phase) order() int {
	switch p {
	case Opening:
		return 0
	case Middlegame:
		return 1
	}
	return 2
}

// Severity buckets centipawn loss.
type Severity string

const (
	OK         Severity = "ok"
	Inaccuracy Severity = "inaccuracy"
	Mistake    Severity = "mistake"
	Blunder    Severity = "blunder"
)

// MateFlags are orthogonal to severity.
type MateFlags struct {
	MateEvent   bool `json:"mate_event,omitempty" yaml:"mate_event,omitempty"`
	MateDrop    bool `json:"mate_drop,omitempty" yaml:"mate_drop,omitempty"`
	AllowedMate bool `json:"allowed_mate,omitempty" yaml:"allowed_mate,omitempty"`
}

// TimeUsage describes the clock around one move.
type TimeUsage struct {
	Spent       time.Duration `json:"spent" yaml:"spent"`
	HasSpent    bool          `json:"has_spent" yaml:"has_spent"`
	Remaining   time.Duration `json:"remaining" yaml:"remaining"`
	Critical    bool          `json:"critical" yaml:"critical"`
	Insta       bool          `json:"insta" yaml:"insta"`
	TimeTrouble bool          `json:"time_trouble" yaml:"time_trouble"`
}

// MoveRecord is one classified move of the tracked player. Scores are from
// the player's point of view.
type MoveRecord struct {
	GameID     string
	Ply        int // 0-based ply index in the game
	MoveNumber int
	Color      board.Side

	Before position.Position
	After  position.Position
	Played string // UCI
	SAN    string

	BestMove  string
	BestSAN   string
	BestLine  []string // engine PV from Before
	ReplyLine []string // engine PV from After, starting with the opponent's reply

	EvalBefore eval.Score
	EvalBest   eval.Score
	EvalAfter  eval.Score
	SecondBest *eval.Score // second engine line from Before, when available

	CPL   int
	Flags MateFlags

	Phase         Phase
	PhaseFallback bool // phase came from ply/piece counts
	Severity      Severity
	Time          *TimeUsage
	TimeControl   game.Category

	Depth   int
	Refined bool // from the deep pass
}

// Key identifies a record for order-independent assembly.
type Key struct {
	GameID string
	Ply    int
}

// Key returns the record's assembly key.
func (r *MoveRecord) Key() Key { return Key{GameID: r.GameID, Ply: r.Ply} }

// Swing is the eval change caused by the move, clamped to the mate cap.
func (r *MoveRecord) Swing(cap int) int {
	return r.EvalAfter.Clamp(cap) - r.EvalBefore.Clamp(cap)
}

// Gap is the clamped distance between the best and second-best lines, or
// -1 when there is no second line.
func (r *MoveRecord) Gap(cap int) int {
	if r.SecondBest == nil {
		return -1
	}
	g := r.EvalBest.Clamp(cap) - r.SecondBest.Clamp(cap)
	if g < 0 {
		return 0
	}
	return g
}

// PlayedBest reports whether the engine's best move was played.
func (r *MoveRecord) PlayedBest() bool {
	return r.BestMove != "" && r.BestMove == r.Played
}
