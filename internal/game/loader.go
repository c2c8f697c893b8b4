package game

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/eco"
	"github.com/freeeve/weakscan/internal/position"
)

// LoadConfig configures a Loader.
type LoadConfig struct {
	Player string        // matched case-insensitively against White/Black
	Filter Filter        //
	ECO    *eco.Database // optional opening names
	Logger zerolog.Logger
}

// LoadStats counts what happened to the games read.
type LoadStats struct {
	Files     int `json:"files"`
	Read      int `json:"read"`
	Loaded    int `json:"loaded"`
	NotPlayer int `json:"not_player"`
	Filtered  int `json:"filtered"`
	Corrupt   int `json:"corrupt"`
	Duplicate int `json:"duplicate"`
}

// Loader reads a player's games from PGN files.
type Loader struct {
	cfg LoadConfig
	log zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(cfg LoadConfig) (*Loader, error) {
	if strings.TrimSpace(cfg.Player) == "" {
		return nil, fmt.Errorf("player name required")
	}
	return &Loader{cfg: cfg, log: cfg.Logger.With().Str("component", "loader").Logger()}, nil
}

// Load reads every file in order. Corrupt games are skipped with a warning;
// an unreadable file fails the load.
func (l *Loader) Load(ctx context.Context, paths []string) ([]*Game, LoadStats, error) {
	var stats LoadStats
	var games []*Game
	seen := make(map[string]bool)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		stats.Files++
		fileGames, err := l.loadFile(ctx, path, &stats)
		if err != nil {
			return nil, stats, fmt.Errorf("load %s: %w", path, err)
		}
		for _, g := range fileGames {
			if seen[g.ID] {
				stats.Duplicate++
				continue
			}
			seen[g.ID] = true
			games = append(games, g)
		}
	}

	before := len(games)
	games = l.cfg.Filter.Limit(games)
	stats.Filtered += before - len(games)
	stats.Loaded = len(games)

	l.log.Info().
		Int("files", stats.Files).
		Int("read", stats.Read).
		Int("loaded", stats.Loaded).
		Int("not_player", stats.NotPlayer).
		Int("filtered", stats.Filtered).
		Int("corrupt", stats.Corrupt).
		Msg("games loaded")
	return games, stats, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, stats *LoadStats) ([]*Game, error) {
	startTime := time.Now()

	rc, err := openPGN(path)
	if err != nil {
		return nil, err
	}
	clocks := scanClocks(rc)
	rc.Close()

	parser := pgn.Games(path)
	var games []*Game
	stopped := false
gameLoop:
	for pg := range parser.Games {
		select {
		case <-ctx.Done():
			if !stopped {
				parser.Stop()
				stopped = true
			}
			break gameLoop
		default:
		}
		stats.Read++

		slots := clocks.take(pg.Tags)
		g, err := l.build(pg, slots)
		switch {
		case errors.Is(err, ErrCorruptGame):
			stats.Corrupt++
			l.log.Warn().Err(err).Str("file", filepath.Base(path)).Int("game", stats.Read).Msg("skipping corrupt game")
			continue
		case err != nil:
			stats.NotPlayer++
			continue
		}
		if !l.cfg.Filter.Match(g) {
			stats.Filtered++
			continue
		}
		games = append(games, g)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := parser.Err(); err != nil {
		return nil, err
	}

	l.log.Debug().
		Str("file", filepath.Base(path)).
		Int("games", len(games)).
		Dur("elapsed", time.Since(startTime)).
		Msg("file loaded")
	return games, nil
}

var errNotPlayer = errors.New("player not in game")

// build replays one parsed game.
func (l *Loader) build(pg *pgn.Game, clocks []clockSlot) (*Game, error) {
	tags := pg.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	white, black := tags["White"], tags["Black"]
	g := &Game{
		Tags:        tags,
		Player:      l.cfg.Player,
		URL:         gameURL(tags),
		Date:        firstNonEmpty(tags["Date"], tags["UTCDate"]),
		Rated:       rated(tags),
		TimeControl: ParseTimeControl(tags["TimeControl"]),
		ECO:         tags["ECO"],
	}
	switch {
	case strings.EqualFold(white, l.cfg.Player):
		g.Color, g.Opponent = board.White, black
	case strings.EqualFold(black, l.cfg.Player):
		g.Color, g.Opponent = board.Black, white
	default:
		return nil, errNotPlayer
	}
	g.Outcome = outcome(tags["Result"], g.Color)

	var gs *pgn.GameState
	if fen := tags["FEN"]; fen != "" {
		var err error
		if gs, err = pgn.NewGame(fen); err != nil {
			return nil, fmt.Errorf("%w: bad FEN tag: %v", ErrCorruptGame, err)
		}
	} else {
		gs = pgn.NewStartingPosition()
	}
	cur, err := position.FromState(gs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptGame, err)
	}

	ucis := make([]string, 0, len(pg.Moves))
	g.Plies = make([]Ply, 0, len(pg.Moves))
	for i, mv := range pg.Moves {
		uci := position.MvToUCI(mv)
		if !legal(gs, mv) {
			return nil, fmt.Errorf("%w: illegal move %s at ply %d", ErrCorruptGame, uci, i+1)
		}
		facts := position.DescribeState(gs, mv)
		if err := pgn.ApplyMove(gs, mv); err != nil {
			return nil, fmt.Errorf("%w: apply %s at ply %d: %v", ErrCorruptGame, uci, i+1, err)
		}
		next, err := position.FromState(gs)
		if err != nil {
			return nil, fmt.Errorf("%w: ply %d: %v", ErrCorruptGame, i+1, err)
		}
		p := Ply{
			Index:  i,
			Before: cur,
			After:  next,
			UCI:    uci,
			SAN:    facts.SAN,
			Mover:  board.SideOf(cur.WhiteToMove()),
		}
		if i < len(clocks) && clocks[i].ok {
			p.Clock, p.HasClock = clocks[i].d, true
		}
		g.Plies = append(g.Plies, p)
		ucis = append(ucis, uci)
		cur = next
	}
	if len(g.Plies) == 0 {
		return nil, fmt.Errorf("%w: no moves", ErrCorruptGame)
	}

	g.ID = makeID(g.URL, tags, ucis)
	if l.cfg.ECO != nil {
		positions := make([]position.Position, len(g.Plies))
		for i, p := range g.Plies {
			positions[i] = p.After
		}
		if o, ok := l.cfg.ECO.Classify(positions); ok {
			g.ECO, g.Opening = o.ECO, o.Name
		}
	}
	return g, nil
}

func legal(gs *pgn.GameState, mv pgn.Mv) bool {
	for _, m := range pgn.GenerateLegalMoves(gs) {
		if m.From == mv.From && m.To == mv.To && m.Promo == mv.Promo {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" && v != "????.??.??" {
			return v
		}
	}
	return ""
}
