package rank

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/game"
)

func event(label detect.Label, sub, gameID string, ply, cpl int, conf float64, phase classify.Phase, tc game.Category) detect.Event {
	return detect.Event{
		Label:      label,
		Subtype:    sub,
		Confidence: conf,
		Evidence: detect.Evidence{
			GameID:      gameID,
			Ply:         ply,
			Swing:       cpl,
			Phase:       phase,
			TimeControl: tc,
			PV:          []string{"e2e4"},
		},
	}
}

// spread makes n events of label over n distinct games.
func spread(label detect.Label, sub string, n, cpl int) []detect.Event {
	var out []detect.Event
	for i := 0; i < n; i++ {
		out = append(out, event(label, sub, fmt.Sprintf("%s-%d", label, i), 20+i, cpl, 0.8, classify.Middlegame, game.Blitz))
	}
	return out
}

func TestImpact(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 1.0, cfg.Impact(20, 300, 10), 1e-9)
	assert.InDelta(t, 1.0, cfg.Impact(50, 900, 40), 1e-9)
	assert.InDelta(t, 0.5*0.5*0.5, cfg.Impact(10, 150, 5), 1e-9)
	assert.Equal(t, 0.0, cfg.Impact(0, 300, 10))
}

func TestAggregateDedupesMoves(t *testing.T) {
	events := []detect.Event{
		event(detect.Hang, detect.SubHangEnPrise, "a", 10, 300, 0.9, classify.Opening, game.Blitz),
		event(detect.Hang, detect.SubHangMovedDefender, "a", 10, 300, 0.8, classify.Opening, game.Blitz),
		event(detect.Hang, detect.SubHangEnPrise, "b", 30, 500, 0.7, classify.Endgame, game.Rapid),
	}
	stats := Aggregate(events)
	require.Len(t, stats, 1)
	st := stats[0]
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 2, st.Games)
	assert.InDelta(t, 400, st.AvgCPL, 1e-9)
	assert.InDelta(t, 0.8, st.MeanConfidence, 1e-9)
	assert.Equal(t, map[string]int{detect.SubHangEnPrise: 2, detect.SubHangMovedDefender: 1}, st.Subtypes)
	assert.Equal(t, Breakdown{Count: 1, AvgCPL: 300}, st.ByPhase[classify.Opening])
	assert.Equal(t, Breakdown{Count: 1, AvgCPL: 500}, st.ByTimeControl[game.Rapid])
}

func TestRankingIsOrderIndependent(t *testing.T) {
	var events []detect.Event
	events = append(events, spread(detect.Hang, detect.SubHangEnPrise, 6, 400)...)
	events = append(events, spread(detect.MissedForcing, detect.SubMissedCheck, 12, 350)...)
	events = append(events, spread(detect.KingSafety, "", 4, 250)...)
	events = append(events, spread(detect.IgnoredThreat, detect.SubAllowedCapture, 4, 250)...)

	want := Rank(events, DefaultConfig())
	require.NotEmpty(t, want.Ranked)
	labels := func(r Result) []detect.Label {
		var out []detect.Label
		for _, w := range r.Ranked {
			out = append(out, w.Label)
		}
		return out
	}
	assert.Equal(t, detect.MissedForcing, want.Ranked[0].Label)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]detect.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Rank(shuffled, DefaultConfig())
		assert.Equal(t, labels(want), labels(got))
		assert.Equal(t, want.Ranked[0].Evidence, got.Ranked[0].Evidence)
	}
}

func TestEvidenceComesFromDistinctGames(t *testing.T) {
	var events []detect.Event
	for g := 0; g < 5; g++ {
		for p := 0; p < 3; p++ {
			events = append(events, event(detect.Hang, detect.SubHangEnPrise, fmt.Sprintf("g%d", g), 10+p, 300+10*p+g, 0.9, classify.Middlegame, game.Blitz))
		}
	}
	events = append(events, event(detect.Hang, detect.SubHangEnPrise, "g9", 80, 200, 0.7, classify.Endgame, game.Rapid))

	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 1)
	ex := res.Ranked[0].Evidence
	require.Len(t, ex, 3)
	games := map[string]bool{}
	for _, e := range ex {
		assert.False(t, games[e.GameID], "game %s used twice", e.GameID)
		games[e.GameID] = true
	}
	assert.True(t, games["g9"], "the only endgame example adds phase diversity")
	assert.Empty(t, res.Ranked[0].Notes)
}

func TestReducedSampleNote(t *testing.T) {
	events := []detect.Event{
		event(detect.KingSafety, "", "a", 10, 300, 0.75, classify.Middlegame, game.Blitz),
		event(detect.KingSafety, "", "a", 14, 300, 0.75, classify.Middlegame, game.Blitz),
		event(detect.KingSafety, "", "b", 20, 300, 0.75, classify.Middlegame, game.Blitz),
	}
	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 1)
	assert.Len(t, res.Ranked[0].Evidence, 2)
	assert.Contains(t, res.Ranked[0].Notes, "reduced sample: 2 of 3 examples from distinct games")

	_, err := SelectEvidence(events, 3)
	assert.True(t, errors.Is(err, ErrInsufficientEvidence))
}

func TestRareLabelsAreNotRanked(t *testing.T) {
	var events []detect.Event
	events = append(events, spread(detect.MateTechnique, detect.SubMateNotShrinking, 2, 2000)...)
	events = append(events, spread(detect.KingSafety, "", 8, 250)...)
	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 1)
	assert.Equal(t, detect.KingSafety, res.Ranked[0].Label)
	assert.Len(t, res.Stats, 2)
	assert.Contains(t, res.Notes, "mate_technique: 2 occurrence(s), too few to rank")
}

func TestHangFloor(t *testing.T) {
	var events []detect.Event
	for _, l := range []detect.Label{detect.MissedForcing, detect.IgnoredThreat, detect.KingSafety, detect.OpeningPrinciples, detect.WinThenReturn} {
		events = append(events, spread(l, "", 15, 400)...)
	}
	events = append(events, spread(detect.Hang, detect.SubHangEnPrise, 3, 300)...)

	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 6)
	last := res.Ranked[5]
	assert.Equal(t, detect.Hang, last.Label)
	assert.True(t, last.Floor)

	// with only two hangs the floor does not apply
	events = events[:len(events)-1]
	res = Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 5)
	for _, w := range res.Ranked {
		assert.NotEqual(t, detect.Hang, w.Label)
	}
}

func TestSubtypeRollup(t *testing.T) {
	events := spread(detect.Hang, detect.SubHangEnPrise, 5, 300)
	events = append(events, event(detect.Hang, detect.SubHangMovedDefender, "x", 40, 300, 0.8, classify.Middlegame, game.Blitz))
	events = append(events, event(detect.Hang, detect.SubHangMovedDefender, "y", 40, 300, 0.8, classify.Middlegame, game.Blitz))
	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 1)
	assert.Equal(t, map[string]int{detect.SubHangEnPrise: 5}, res.Ranked[0].Subtypes)
	assert.Equal(t, 2, res.Ranked[0].Stat.Subtypes[detect.SubHangMovedDefender])
}

func TestReducedConfidenceLabel(t *testing.T) {
	events := spread(detect.EndgameTechnique, "", 4, 90)
	for i := range events {
		events[i].Reduced = true
	}
	res := Rank(events, DefaultConfig())
	require.Len(t, res.Ranked, 1)
	assert.True(t, res.Ranked[0].Reduced)
	assert.Contains(t, res.Ranked[0].Notes, "phase came from a fallback heuristic; reduced confidence")
}
