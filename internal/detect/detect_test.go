package detect

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/position"
)

// move builds a classified move for the side to move in fen.
func move(t *testing.T, fen, played string, best, after eval.Score) *Move {
	t.Helper()
	before := position.MustParse(fen)
	next, err := before.Play(played)
	require.NoError(t, err)
	bctx, err := board.Build(before)
	require.NoError(t, err)
	actx, err := board.Build(next)
	require.NoError(t, err)

	color := board.SideOf(before.WhiteToMove())
	ply := (before.MoveNumber() - 1) * 2
	if color == board.Black {
		ply++
	}
	cpl, flags := classify.CPL(best, after, 2000)
	r := &classify.MoveRecord{
		GameID:     "g1",
		Ply:        ply,
		MoveNumber: before.MoveNumber(),
		Color:      color,
		Before:     before,
		After:      next,
		Played:     played,
		SAN:        before.SAN(played),
		EvalBefore: best,
		EvalBest:   best,
		EvalAfter:  after,
		CPL:        cpl,
		Flags:      flags,
		Phase:      classify.Middlegame,
		Severity:   classify.DefaultThresholds().Grade(cpl),
	}
	return &Move{Record: r, Before: bctx, After: actx}
}

func find(events []Event, sub string) (Event, bool) {
	for _, e := range events {
		if e.Subtype == sub || (sub == string(e.Label) && e.Subtype == "") {
			return e, true
		}
	}
	return Event{}, false
}

func newRegistry() *Registry {
	return NewRegistry(DefaultConfig(), zerolog.Nop())
}

func TestHangEnPrise(t *testing.T) {
	// Ng3-e4 walks into the d5 pawn.
	m := move(t, "4k3/8/8/3p4/8/6N1/8/4K3 w - - 0 30", "g3e4", eval.CP(250), eval.CP(-50))
	m.Record.BestMove = "g3e2"
	m.Record.ReplyLine = []string{"d5e4"}
	snapshot := *m.Record

	events := newRegistry().DetectMove(m)
	ev, ok := find(events, SubHangEnPrise)
	require.True(t, ok, "events: %+v", events)
	assert.Equal(t, Hang, ev.Label)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.Equal(t, "knight", ev.Meta["lost_piece_type"])
	assert.Equal(t, "e4", ev.Meta["lost_square"])
	assert.Equal(t, "pawn", ev.Meta["captured_by_piece_type"])
	assert.Equal(t, 300, ev.Evidence.Swing)
	assert.Equal(t, "Ne4", ev.Evidence.PlayedSAN)
	assert.Same(t, m.Record, ev.Record)

	// the reply is a capture and the loss is large
	threat, ok := find(events, SubAllowedCapture)
	require.True(t, ok)
	assert.Equal(t, 0.65, threat.Confidence)

	assert.Equal(t, snapshot, *m.Record, "detectors must not modify the record")
}

func TestHangWithinThreePlies(t *testing.T) {
	// The knight only falls on the third ply of the reply.
	m := move(t, "4k3/8/8/8/8/8/3N4/4K1b1 w - - 0 30", "e1f1", eval.CP(300), eval.CP(-100))
	m.Record.ReplyLine = []string{"g1e3", "f1e2", "e3d2"}
	ev, ok := find(newRegistry().DetectMove(m), SubHangEnPrise)
	require.True(t, ok)
	assert.Equal(t, 0.7, ev.Confidence)
}

func TestHangMovedDefender(t *testing.T) {
	// The d2 knight was the only guard of the c4 bishop.
	m := move(t, "4k3/8/8/3p4/2B5/8/3N4/4K3 w - - 0 30", "d2f3", eval.CP(400), eval.CP(100))
	m.Record.ReplyLine = []string{"d5c4"}
	ev, ok := find(newRegistry().DetectMove(m), SubHangMovedDefender)
	require.True(t, ok)
	assert.Equal(t, 0.8, ev.Confidence)
	assert.Equal(t, "d2", ev.Meta["defender_square"])
	assert.Equal(t, "bishop", ev.Meta["lost_piece_type"])
}

func TestHangPinnedPiece(t *testing.T) {
	// The d2 bishop shields the queen from the d8 rook.
	m := move(t, "3rk3/8/8/8/8/8/3B4/3QK3 w - - 0 30", "d2g5", eval.CP(600), eval.CP(0))
	m.Record.ReplyLine = []string{"d8d1", "e1d1"}
	ev, ok := find(newRegistry().DetectMove(m), SubHangPinned)
	require.True(t, ok)
	assert.Equal(t, 0.6, ev.Confidence)
	assert.Equal(t, "practical", ev.Meta["pin"])
	assert.Equal(t, "d8", ev.Meta["pinner_square"])
}

func TestMissedKnightFork(t *testing.T) {
	m := move(t, "r3k3/8/8/1N6/8/8/8/4K3 w - - 0 30", "e1d2", eval.CP(500), eval.CP(50))
	m.Record.BestMove = "b5c7"
	m.Record.BestLine = []string{"b5c7", "e8d7", "c7a8"}
	ev, ok := find(newRegistry().DetectMove(m), SubKnightFork)
	require.True(t, ok)
	assert.Equal(t, MissedForcing, ev.Label)
	assert.Equal(t, 0.85, ev.Confidence)
	assert.Equal(t, "3", ev.Meta["win_within_plies"])
	assert.Equal(t, "a8,e8", ev.Meta["targets"])
}

func TestMissedForcingNeedsAWin(t *testing.T) {
	m := move(t, "r3k3/8/8/1N6/8/8/8/4K3 w - - 0 30", "e1d2", eval.CP(500), eval.CP(50))
	m.Record.BestMove = "b5c7"
	m.Record.BestLine = []string{"b5c7", "e8d7"}
	_, ok := find(newRegistry().DetectMove(m), SubKnightFork)
	assert.False(t, ok)
}

func TestAllowedMateThreat(t *testing.T) {
	m := move(t, position.StartFEN, "f2f3", eval.CP(30), eval.Score{Kind: eval.KindMate, Plies: 3})
	m.Record.MoveNumber = 20
	require.True(t, m.Record.Flags.AllowedMate)
	ev, ok := find(newRegistry().DetectMove(m), string(AllowedMateThreat))
	require.True(t, ok)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.Equal(t, "3", ev.Meta["mate_in_plies"])

	far := move(t, position.StartFEN, "f2f3", eval.CP(30), eval.Score{Kind: eval.KindMate, Plies: 15})
	far.Record.MoveNumber = 20
	_, ok = find(newRegistry().DetectMove(far), string(AllowedMateThreat))
	assert.False(t, ok)
}

func TestOpeningEarlyQueen(t *testing.T) {
	m := move(t, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2", "d1h5", eval.CP(40), eval.CP(-30))
	ev, ok := find(newRegistry().DetectMove(m), SubEarlyQueen)
	require.True(t, ok)
	assert.Equal(t, OpeningPrinciples, ev.Label)
	assert.Equal(t, 0.7, ev.Confidence)
}

func TestOpeningRepeatedPiece(t *testing.T) {
	g := &game.Game{ID: "g1", Color: board.White}
	cur := position.Start()
	for i, u := range []string{"g1f3", "d7d5", "f3g1"} {
		next, err := cur.Play(u)
		require.NoError(t, err)
		g.Plies = append(g.Plies, game.Ply{Index: i, Before: cur, After: next, UCI: u, SAN: cur.SAN(u), Mover: board.SideOf(cur.WhiteToMove())})
		cur = next
	}
	m := move(t, g.Plies[2].Before.FEN(), "f3g1", eval.CP(20), eval.CP(-10))
	m.Game = g
	ev, ok := find(newRegistry().DetectMove(m), SubRepeatedPiece)
	require.True(t, ok)
	assert.Equal(t, 0.5, ev.Confidence)
}

func TestKingSafety(t *testing.T) {
	m := move(t, "4k3/8/2q5/8/8/8/5PPP/6K1 w - - 0 25", "g2g4", eval.CP(-100), eval.CP(-180))
	m.Record.ReplyLine = []string{"c6h1"}
	ev, ok := find(newRegistry().DetectMove(m), string(KingSafety))
	require.True(t, ok)
	assert.Equal(t, 0.75, ev.Confidence)
	assert.Equal(t, "g1", ev.Meta["king_square"])

	quiet := move(t, "4k3/8/2q5/8/8/8/5PPP/6K1 w - - 0 25", "h2h3", eval.CP(-100), eval.CP(-120))
	_, ok = find(newRegistry().DetectMove(quiet), string(KingSafety))
	assert.False(t, ok)
}

func plainRecord(ply int, after eval.Score) *Move {
	return &Move{Record: &classify.MoveRecord{
		GameID:     "g2",
		Ply:        ply,
		Color:      board.White,
		EvalBefore: eval.CP(0),
		EvalAfter:  after,
		Phase:      classify.Middlegame,
	}}
}

func TestWinThenReturn(t *testing.T) {
	moves := []*Move{
		plainRecord(10, eval.CP(0)),
		plainRecord(12, eval.CP(300)),
		plainRecord(14, eval.CP(250)),
		plainRecord(16, eval.CP(-50)),
		plainRecord(18, eval.CP(-60)),
	}
	events := newRegistry().DetectGame(moves)
	require.Len(t, events, 1)
	assert.Equal(t, WinThenReturn, events[0].Label)
	assert.Equal(t, SubEvalReturn, events[0].Subtype)
	assert.Equal(t, 0.6, events[0].Confidence)
	assert.Equal(t, 16, events[0].Evidence.Ply)
	assert.Equal(t, "12", events[0].Meta["peak_ply"])
}

func TestMateTechnique(t *testing.T) {
	ctx, err := board.Build(position.MustParse("8/8/8/4k3/8/8/8/3QK3 w - - 0 60"))
	require.NoError(t, err)
	run := func(plies ...int) []Event {
		var moves []*Move
		for i, p := range plies {
			moves = append(moves, &Move{Before: ctx, Record: &classify.MoveRecord{
				GameID:     "g3",
				Ply:        120 + 2*i,
				Color:      board.White,
				EvalBefore: eval.Score{Kind: eval.KindMate, Plies: p, Winning: true},
				EvalAfter:  eval.Score{Kind: eval.KindMate, Plies: p, Winning: true},
				Phase:      classify.Endgame,
			}})
		}
		return newRegistry().DetectGame(moves)
	}

	events := run(7, 7, 9, 7, 7, 7)
	require.Len(t, events, 1)
	assert.Equal(t, MateTechnique, events[0].Label)
	assert.Equal(t, 0.9, events[0].Confidence)
	assert.Equal(t, 128, events[0].Evidence.Ply)

	assert.Empty(t, run(11, 9, 7, 5, 3, 1))
}

func endgameMoves(n, cpl int) []*Move {
	var moves []*Move
	for i := 0; i < n; i++ {
		moves = append(moves, &Move{Record: &classify.MoveRecord{
			GameID:   "g4",
			Ply:      80 + 2*i,
			Color:    board.White,
			CPL:      cpl,
			Phase:    classify.Endgame,
			Severity: classify.DefaultThresholds().Grade(cpl),
		}})
	}
	return moves
}

func TestEndgameTechnique(t *testing.T) {
	events := newRegistry().Run([][]*Move{endgameMoves(12, 90)})
	require.Len(t, events, 12)
	for _, e := range events {
		assert.Equal(t, EndgameTechnique, e.Label)
		assert.Equal(t, 0.4, e.Confidence)
		assert.Equal(t, "12", e.Meta["endgame_moves"])
	}

	assert.Empty(t, newRegistry().Run([][]*Move{endgameMoves(4, 90)}), "below the minimum sample")
	assert.Empty(t, newRegistry().Run([][]*Move{endgameMoves(12, 40)}), "leak too small")
}

func TestTimeTags(t *testing.T) {
	mk := func(ply int, sev classify.Severity, spent time.Duration, insta bool) *classify.MoveRecord {
		return &classify.MoveRecord{
			GameID:      "g5",
			Ply:         ply,
			Severity:    sev,
			TimeControl: game.Blitz,
			Time:        &classify.TimeUsage{Spent: spent, HasSpent: true, Insta: insta},
		}
	}
	var records []*classify.MoveRecord
	for i := 0; i < 9; i++ {
		records = append(records, mk(2*i, classify.OK, time.Duration(5+i)*time.Second, false))
	}
	fast := mk(40, classify.Blunder, time.Second, true)
	slow := mk(42, classify.Blunder, 60*time.Second, false)
	middling := mk(44, classify.Blunder, 7*time.Second, false)
	records = append(records, fast, slow, middling)

	tags := TimeTags(records, 0.9)
	assert.Equal(t, Autopilot, tags[fast.Key()])
	assert.Equal(t, CalculationFailure, tags[slow.Key()])
	assert.Equal(t, NoTimeTag, tags[middling.Key()])
	assert.Len(t, tags, 2)
}

func TestConfidenceOverrides(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetConfidence("hang_en_prise.ply1", 0.95))
	assert.Error(t, cfg.SetConfidence("hang_en_prise.ply1", 1.5))
	assert.Error(t, cfg.SetConfidence("nope", 0.5))
	assert.Equal(t, 0.9, DefaultConfig().Confidence["hang_en_prise.ply1"], "defaults are not shared")

	m := move(t, "4k3/8/8/3p4/8/6N1/8/4K3 w - - 0 30", "g3e4", eval.CP(250), eval.CP(-50))
	m.Record.ReplyLine = []string{"d5e4"}
	ev, ok := find(NewRegistry(cfg, zerolog.Nop()).DetectMove(m), SubHangEnPrise)
	require.True(t, ok)
	assert.Equal(t, 0.95, ev.Confidence)
}

func TestRegistryOrder(t *testing.T) {
	names := newRegistry().Names()
	require.NotEmpty(t, names)
	assert.Equal(t, SubHangEnPrise, names[0])
	assert.Equal(t, string(EndgameTechnique), names[len(names)-1])
}

func TestMissedForcingSubtypes(t *testing.T) {
	mateIn := func(plies int) eval.Score { return eval.Score{Kind: eval.KindMate, Plies: plies, Winning: true} }
	tests := []struct {
		name     string
		fen      string
		best     string
		line     []string
		bestEval eval.Score
		sub      string
		conf     float64
		meta     map[string]string
	}{
		{
			name:     "free rook",
			fen:      "4k3/8/8/3r4/8/8/8/3RK3 w - - 0 30",
			best:     "d1d5",
			line:     []string{"d1d5"},
			bestEval: eval.CP(500),
			sub:      SubMissedCapture,
			conf:     0.85,
			meta:     map[string]string{"capture_square": "d5", "captured_piece_type": "rook", "win_within_plies": "1"},
		},
		{
			name:     "quick mate",
			fen:      "4k3/8/8/8/8/8/8/R3K3 w - - 0 30",
			best:     "a1a8",
			line:     []string{"a1a8"},
			bestEval: mateIn(3),
			sub:      SubMissedCheck,
			conf:     0.85,
			meta:     map[string]string{"check_move": "a1a8", "mate_in_plies": "3"},
		},
		{
			name:     "slow mate",
			fen:      "4k3/8/8/8/8/8/8/R3K3 w - - 0 30",
			best:     "a1a8",
			line:     []string{"a1a8"},
			bestEval: mateIn(7),
			sub:      SubMissedCheck,
			conf:     0.6,
			meta:     map[string]string{"win_within_plies": "7", "mate_in_plies": "7"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := move(t, tt.fen, "e1e2", tt.bestEval, eval.CP(0))
			m.Record.BestMove = tt.best
			m.Record.BestLine = tt.line
			ev, ok := find(newRegistry().DetectMove(m), tt.sub)
			require.True(t, ok)
			assert.Equal(t, MissedForcing, ev.Label)
			assert.Equal(t, tt.conf, ev.Confidence)
			for k, v := range tt.meta {
				assert.Equal(t, v, ev.Meta[k], k)
			}
		})
	}
}

func TestIgnoredThreatIntoMate(t *testing.T) {
	// 1.f3 e5 2.g4 allows Qh4 mate.
	m := move(t, "rnbqkbnr/pppp1ppp/8/4p3/8/5P2/PPPPP1PP/RNBQKBNR w KQkq - 0 2", "g2g4",
		eval.CP(-40), eval.Score{Kind: eval.KindMate, Plies: 1})
	m.Record.ReplyLine = []string{"d8h4"}
	ev, ok := find(newRegistry().DetectMove(m), SubAllowedCheck)
	require.True(t, ok)
	assert.Equal(t, IgnoredThreat, ev.Label)
	assert.Equal(t, 0.85, ev.Confidence)
	assert.Equal(t, "1", ev.Meta["mate_in_plies"])
	assert.Equal(t, "d8h4", ev.Meta["first_check_move"])
}

func TestKingSafetyWithoutChecks(t *testing.T) {
	m := move(t, "4k3/8/2q5/8/8/8/5PPP/6K1 w - - 0 25", "g2g4", eval.CP(-100), eval.CP(-350))
	m.Record.ReplyLine = []string{"e8d7"}
	ev, ok := find(newRegistry().DetectMove(m), string(KingSafety))
	require.True(t, ok)
	assert.Equal(t, 0.55, ev.Confidence)
	assert.Equal(t, "0", ev.Meta["checks_in_pv"])
	assert.Equal(t, "g2", ev.Meta["pawn_square"])
}

// shuffled is a game where both sides shuffle a knight out and back for
// n plies.
func shuffled(t *testing.T, n int) *game.Game {
	t.Helper()
	cycle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	g := &game.Game{ID: "g1", Color: board.White}
	cur := position.Start()
	for i := 0; i < n; i++ {
		u := cycle[i%len(cycle)]
		next, err := cur.Play(u)
		require.NoError(t, err)
		g.Plies = append(g.Plies, game.Ply{Index: i, Before: cur, After: next, UCI: u, SAN: cur.SAN(u), Mover: board.SideOf(cur.WhiteToMove())})
		cur = next
	}
	return g
}

func openingSubtypes(events []Event) []string {
	var subs []string
	for _, e := range events {
		if e.Label == OpeningPrinciples {
			subs = append(subs, e.Subtype)
		}
	}
	return subs
}

func TestOpeningFlags(t *testing.T) {
	tests := []struct {
		name  string
		plies int // shuffled plies before the move; 0 means no game
		fen   string
		uci   string
		after eval.Score
		subs  []string
		conf  float64
	}{
		{
			name:  "under development",
			fen:   "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 8",
			uci:   "a2a3",
			after: eval.CP(0),
			subs:  []string{SubUnderdeveloped},
			conf:  0.5,
		},
		{
			name:  "no castle by move twelve",
			plies: 22,
			uci:   "f3g1",
			after: eval.CP(-60),
			subs:  []string{SubNoCastle},
			conf:  0.7,
		},
		{
			name:  "each flag fires on its own",
			plies: 14,
			uci:   "f3g1",
			after: eval.CP(0),
			subs:  []string{SubRepeatedPiece, SubUnderdeveloped},
			conf:  0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fen := tt.fen
			var g *game.Game
			if tt.plies > 0 {
				g = shuffled(t, tt.plies+1)
				fen = g.Plies[tt.plies].Before.FEN()
			}
			m := move(t, fen, tt.uci, eval.CP(20), tt.after)
			m.Game = g
			events := newRegistry().DetectMove(m)
			assert.ElementsMatch(t, tt.subs, openingSubtypes(events))
			for _, e := range events {
				if e.Label == OpeningPrinciples {
					assert.Equal(t, tt.conf, e.Confidence, e.Subtype)
				}
			}
		})
	}
}

// playerMoves replays ucis from fen and returns the moves of the side to
// move in fen, scored with consecutive before/after pairs.
func playerMoves(t *testing.T, fen string, ucis []string, scores ...eval.Score) []*Move {
	t.Helper()
	cur := position.MustParse(fen)
	player := board.SideOf(cur.WhiteToMove())
	ply := (cur.MoveNumber() - 1) * 2
	if player == board.Black {
		ply++
	}
	var moves []*Move
	for i, u := range ucis {
		next, err := cur.Play(u)
		require.NoError(t, err)
		if i%2 == 0 {
			bctx, err := board.Build(cur)
			require.NoError(t, err)
			actx, err := board.Build(next)
			require.NoError(t, err)
			k := len(moves)
			moves = append(moves, &Move{Before: bctx, After: actx, Record: &classify.MoveRecord{
				GameID:     "g5",
				Ply:        ply + i,
				MoveNumber: cur.MoveNumber(),
				Color:      player,
				Before:     cur,
				After:      next,
				Played:     u,
				EvalBefore: scores[2*k],
				EvalAfter:  scores[2*k+1],
				Phase:      classify.Middlegame,
			}})
		}
		cur = next
	}
	return moves
}

func TestWinThenReturnMaterial(t *testing.T) {
	// Rxd5 wins a rook, Rd7+ hands it back to the king.
	moves := playerMoves(t, "4k3/p7/8/3r4/8/8/8/3RK3 w - - 0 30",
		[]string{"d1d5", "e8e7", "d5d7", "e7d7", "e1e2"},
		eval.CP(0), eval.CP(500),
		eval.CP(500), eval.CP(300),
		eval.CP(-100), eval.CP(-100),
	)
	events := newRegistry().DetectGame(moves)
	var got []Event
	for _, e := range events {
		if e.Label == WinThenReturn {
			got = append(got, e)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, SubMaterialReturn, got[0].Subtype)
	assert.Equal(t, 0.8, got[0].Confidence)
	assert.Equal(t, 60, got[0].Evidence.Ply)
	assert.Equal(t, "58", got[0].Meta["peak_ply"])
	assert.Equal(t, "5", got[0].Meta["material_returned"])
}

func TestWinThenReturnIgnoresEvenTrades(t *testing.T) {
	// Bxc6 dxc6: the bishop is recaptured at once and the eval never moves.
	moves := playerMoves(t, "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3",
		[]string{"f1b5", "a7a6", "b5c6", "d7c6", "e1g1"},
		eval.CP(30), eval.CP(30),
		eval.CP(30), eval.CP(30),
		eval.CP(30), eval.CP(30),
	)
	for _, e := range newRegistry().DetectGame(moves) {
		assert.NotEqual(t, WinThenReturn, e.Label, "%+v", e)
	}

	// A spike from the engine alone does not make the trade a giveback.
	moves[1].Record.EvalAfter = eval.CP(300)
	moves[2].Record.EvalBefore = eval.CP(300)
	moves[2].Record.EvalAfter = eval.CP(250)
	for _, e := range newRegistry().DetectGame(moves) {
		assert.NotEqual(t, WinThenReturn, e.Label, "%+v", e)
	}
}
