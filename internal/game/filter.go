package game

import (
	"sort"
	"time"
)

// Filter selects which games enter a run.
type Filter struct {
	Category  Category  // "" = all
	Since     time.Time // inclusive, zero = open
	Until     time.Time // inclusive, zero = open
	RatedOnly bool
	MaxGames  int // 0 = no limit; keeps the most recent games
}

// Match reports whether a game passes every per-game condition.
func (f Filter) Match(g *Game) bool {
	if f.Category != "" && g.TimeControl.Category != f.Category {
		return false
	}
	if f.RatedOnly && !g.Rated {
		return false
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		d, ok := g.PlayedOn()
		if !ok {
			return false
		}
		if !f.Since.IsZero() && d.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && d.After(f.Until) {
			return false
		}
	}
	return true
}

// Limit applies MaxGames, keeping the latest games by date (stable for
// equal or missing dates).
func (f Filter) Limit(games []*Game) []*Game {
	if f.MaxGames <= 0 || len(games) <= f.MaxGames {
		return games
	}
	idx := make([]int, len(games))
	for i := range idx {
		idx[i] = i
	}
	// newest first, file order among ties
	sort.SliceStable(idx, func(a, b int) bool { return games[idx[a]].Date > games[idx[b]].Date })
	keep := make(map[int]bool, f.MaxGames)
	for _, i := range idx[:f.MaxGames] {
		keep[i] = true
	}
	out := make([]*Game, 0, f.MaxGames)
	for i, g := range games {
		if keep[i] {
			out = append(out, g)
		}
	}
	return out
}
