package position

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"8/8/8/8/8/8/8/8 w - - 0 1", // no kings
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1",           // 7 ranks
		"rnbqkbnr/pppppppp/9/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",  // wide rank
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1",  // side
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQxq - 0 1",  // castling
		"Pnbqkbnr/pppppppp/8/8/8/8/1PPPPPPP/RNBQKBNR w KQkq - 0 1",  // pawn on rank 8
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq z9 0 1", // ep square
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0",    // 5 fields
	}
	for _, fen := range bad {
		_, err := Parse(fen)
		require.Error(t, err, fen)
		assert.True(t, errors.Is(err, ErrMalformedPosition), fen)
	}
}

func TestCanonicalDropsCountersAndDeadEnPassant(t *testing.T) {
	a := MustParse("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	b := MustParse("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 4 9")
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -", a.Canonical())
	assert.False(t, a.WhiteToMove())
	assert.Equal(t, 9, b.MoveNumber())
}

func TestCanonicalKeepsLiveEnPassant(t *testing.T) {
	p := MustParse("4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 2")
	assert.Equal(t, "4k3/8/8/3pP3/8/8/8/4K3 w - d6", p.Canonical())
	assert.Contains(t, p.LegalMoves(), "e5d6")
}

func TestFourFieldFEN(t *testing.T) {
	p, err := Parse("4k3/8/8/8/8/8/8/4K2R w K -")
	require.NoError(t, err)
	assert.Equal(t, 1, p.MoveNumber())
	assert.Equal(t, "4k3/8/8/8/8/8/8/4K2R w K -", p.Canonical())
}

func TestPlayAndDescribe(t *testing.T) {
	p := Start()
	next, err := p.Play("e2e4")
	require.NoError(t, err)
	assert.False(t, next.WhiteToMove())

	_, err = p.Play("e2e5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPosition))

	f, err := p.Describe("g1f3")
	require.NoError(t, err)
	assert.Equal(t, "Nf3", f.SAN)
	assert.Equal(t, byte('N'), f.Piece)
	assert.False(t, f.Forcing())
}

func TestDescribeCaptureCheckMate(t *testing.T) {
	// Scholar's mate setup: Qxf7#.
	p := MustParse("r1bqkb1r/pppp1ppp/2n2n2/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4")
	f, err := p.Describe("h5f7")
	require.NoError(t, err)
	assert.Equal(t, "Qxf7#", f.SAN)
	assert.True(t, f.IsCapture())
	assert.Equal(t, byte('P'), f.Captured)
	assert.True(t, f.Check)
	assert.True(t, f.Mate)

	after, err := p.Play("h5f7")
	require.NoError(t, err)
	assert.True(t, after.Checkmated())
}

func TestDescribeCastleAndDisambiguation(t *testing.T) {
	p := MustParse("4k3/8/8/8/8/8/8/R3K2R w KQ - 0 1")
	f, err := p.Describe("e1g1")
	require.NoError(t, err)
	assert.Equal(t, "O-O", f.SAN)
	assert.True(t, f.Castle)
	assert.False(t, f.IsCapture())

	f, err = p.Describe("a1d1")
	require.NoError(t, err)
	assert.Equal(t, "Rad1", f.SAN)
}

func TestLineStopsAtIllegalMove(t *testing.T) {
	line := Start().Line([]string{"e2e4", "e7e5", "e1e3", "g1f3"})
	assert.Len(t, line, 2)
}

func TestSANFallsBackToUCI(t *testing.T) {
	assert.Equal(t, "a1a8", Start().SAN("a1a8"))
	assert.Equal(t, "e4", Start().SAN("e2e4"))
}
