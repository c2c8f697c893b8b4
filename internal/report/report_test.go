package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/weakscan/internal/analysis"
	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/position"
	"github.com/freeeve/weakscan/internal/rank"
)

func sampleReport() *analysis.Report {
	ex := rank.Example{
		Evidence:   detect.Evidence{GameID: "g1", Ply: 20, FEN: position.StartFEN, Played: "e2e4", PlayedSAN: "e4", Swing: 450, EvalBefore: "+0.20", EvalAfter: "-4.30", Phase: classify.Middlegame},
		Subtype:    detect.SubHangEnPrise,
		Confidence: 0.9,
	}
	return &analysis.Report{
		Meta:    analysis.Meta{RunID: "r1", Player: "me", Games: 1, GamesAnalysed: 1, Moves: 1},
		Summary: analysis.Summary{Player: "me", Games: 1, Moves: 1},
		Ranking: rank.Result{Ranked: []rank.RankedWeakness{{Label: detect.Hang, Impact: 0.5, Evidence: []rank.Example{ex}}}},
		Records: []*classify.MoveRecord{{
			GameID: "g1", Ply: 20, Color: board.White, Before: position.Start(), Played: "e2e4", SAN: "e4",
			EvalBefore: eval.CP(20), EvalAfter: eval.CP(-430), CPL: 450, Severity: classify.Blunder, Phase: classify.Middlegame,
		}},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": JSON, "json": JSON, "YAML": YAML, "yml": YAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), JSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Contains(t, got, "meta")
	assert.Contains(t, got, "summary")
	assert.NotContains(t, got, "Records")
	ranked := got["ranking"].(map[string]any)["ranked"].([]any)
	require.Len(t, ranked, 1)
	ev := ranked[0].(map[string]any)["evidence"].([]any)[0].(map[string]any)
	assert.Equal(t, "g1", ev["game_id"])
	assert.Equal(t, position.StartFEN, ev["fen"])
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), YAML))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	ranking := got["ranking"].(map[string]any)
	ranked := ranking["ranked"].([]any)
	ev := ranked[0].(map[string]any)["evidence"].([]any)[0].(map[string]any)
	// evidence fields are inlined next to the example's own fields
	assert.Equal(t, "g1", ev["game_id"])
	assert.Equal(t, detect.SubHangEnPrise, ev["subtype"])
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteFiles(dir, sampleReport(), YAML)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paths.Packet, "weakscan-r1.yaml"))

	f, err := os.Open(paths.Moves)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	var rows []MoveRow
	for sc.Scan() {
		var r MoveRow
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		rows = append(rows, r)
	}
	require.Len(t, rows, 1)
	assert.Equal(t, 450, rows[0].CPL)
	assert.Equal(t, "+0.20", rows[0].EvalBefore)
	assert.Equal(t, "white", rows[0].Color)

	_, err = os.Stat(paths.Packet + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
