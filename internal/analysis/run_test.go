package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/position"
)

// fakeEvaluator answers from fixed tables keyed by FEN and depth. Unknown
// positions score 0 with no best move.
type fakeEvaluator struct {
	mu      sync.Mutex
	scores  map[string]eval.Score // fen@depth
	fail    map[string]bool       // fen, any depth
	queries int
}

func newFake() *fakeEvaluator {
	return &fakeEvaluator{scores: make(map[string]eval.Score), fail: make(map[string]bool)}
}

func (f *fakeEvaluator) set(pos position.Position, depth int, s eval.Score) {
	f.scores[fmt.Sprintf("%s@%d", pos.FEN(), depth)] = s
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, pos position.Position, s eval.Settings) (eval.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return eval.Result{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.fail[pos.FEN()] {
		return eval.Result{}, false, fmt.Errorf("engine crashed: %w", eval.ErrEvaluatorUnavailable)
	}
	return eval.Result{Score: f.scores[fmt.Sprintf("%s@%d", pos.FEN(), s.Depth)], Depth: s.Depth}, false, nil
}

func replay(t *testing.T, id string, color board.Side, ucis ...string) *game.Game {
	t.Helper()
	g := &game.Game{ID: id, Color: color, Opponent: "opp", Outcome: game.Draw, TimeControl: game.ParseTimeControl("300+0")}
	cur := position.Start()
	for i, u := range ucis {
		next, err := cur.Play(u)
		require.NoError(t, err)
		g.Plies = append(g.Plies, game.Ply{Index: i, Before: cur, After: next, UCI: u, SAN: cur.SAN(u), Mover: board.SideOf(cur.WhiteToMove())})
		cur = next
	}
	return g
}

func testConfig() Config {
	return Config{
		Shallow:     eval.Settings{Depth: 10},
		Deep:        eval.Settings{Depth: 18},
		Concurrency: 2,
		RunID:       "run-1",
		Logger:      zerolog.Nop(),
	}
}

func TestRunRefinesLargeLosses(t *testing.T) {
	g := replay(t, "g1", board.White, "e2e4", "e7e5", "g1f3", "b8c6")
	ev := newFake()
	// After 2.Nf3 black to move: the shallow search sees +310 for black,
	// the deep search only +20.
	ev.set(g.Plies[2].After, 10, eval.CP(310))
	ev.set(g.Plies[2].After, 18, eval.CP(20))

	rep, err := NewRunner(testConfig(), ev).Run(context.Background(), "me", []*game.Game{g})
	require.NoError(t, err)
	require.Len(t, rep.Records, 2)

	first, second := rep.Records[0], rep.Records[1]
	assert.False(t, first.Refined)
	assert.Equal(t, 0, first.CPL)
	assert.True(t, second.Refined)
	assert.Equal(t, 20, second.CPL)
	assert.Equal(t, classify.OK, second.Severity)
	assert.Equal(t, 18, second.Depth)

	assert.Equal(t, "run-1", rep.Meta.RunID)
	assert.Equal(t, 1, rep.Meta.Refined)
	assert.Equal(t, 1, rep.Meta.GamesAnalysed)
	assert.Equal(t, 2, rep.Meta.Moves)
	assert.Empty(t, rep.Meta.Warnings)
	// shallow: 4 distinct positions; deep: the two around the refined move
	assert.Equal(t, 6, ev.queries)
	assert.Equal(t, int64(6), rep.Meta.Evaluations)
}

func TestRunKeepsSmallLossesShallow(t *testing.T) {
	g := replay(t, "g1", board.White, "e2e4", "e7e5", "g1f3", "b8c6")
	ev := newFake()
	ev.set(g.Plies[2].After, 10, eval.CP(300))

	rep, err := NewRunner(testConfig(), ev).Run(context.Background(), "me", []*game.Game{g})
	require.NoError(t, err)
	require.Len(t, rep.Records, 2)
	assert.False(t, rep.Records[1].Refined)
	assert.Equal(t, 300, rep.Records[1].CPL)
	assert.Equal(t, 0, rep.Meta.Refined)
}

func TestRunExcludesUnavailableGames(t *testing.T) {
	good := replay(t, "good", board.White, "e2e4", "e7e5")
	bad := replay(t, "bad", board.Black, "d2d4", "d7d5")
	ev := newFake()
	ev.fail[bad.Plies[1].Before.FEN()] = true

	rep, err := NewRunner(testConfig(), ev).Run(context.Background(), "me", []*game.Game{good, bad})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Meta.Games)
	assert.Equal(t, 1, rep.Meta.GamesAnalysed)
	assert.Equal(t, int64(1), rep.Meta.Unavailable)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "good", rep.Records[0].GameID)

	var ids []string
	for _, w := range rep.Meta.Warnings {
		ids = append(ids, w.GameID)
	}
	assert.Equal(t, []string{"bad", "bad"}, ids)
	assert.Contains(t, rep.Meta.Warnings[1].Message, "excluded")
	require.Len(t, rep.Summary.GameSummaries, 1)
}

func TestRunCancelled(t *testing.T) {
	g := replay(t, "g1", board.White, "e2e4", "e7e5")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(testConfig(), newFake()).Run(ctx, "me", []*game.Game{g})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
