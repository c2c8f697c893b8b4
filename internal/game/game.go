// Package game loads a player's games from PGN files and replays them into
// positions, clocks and headers the analysis works from.
package game

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/position"
)

// ErrCorruptGame marks a game that could not be replayed.
var ErrCorruptGame = errors.New("corrupt game")

// Outcome is a game result from the tracked player's point of view.
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Draw Outcome = "draw"
)

// Ply is one half-move of a game.
type Ply struct {
	Index    int // 0-based
	Before   position.Position
	After    position.Position
	UCI      string
	SAN      string
	Mover    board.Side
	Clock    time.Duration // clock remaining after the move
	HasClock bool
}

// MoveNumber is the full-move number the ply belongs to.
func (p Ply) MoveNumber() int { return p.Before.MoveNumber() }

// Game is a replayed game of the tracked player.
type Game struct {
	ID          string
	URL         string
	Tags        map[string]string
	Player      string
	Opponent    string
	Color       board.Side
	Outcome     Outcome
	Date        string // PGN date as written (yyyy.mm.dd)
	Rated       bool
	TimeControl TimeControl
	ECO         string
	Opening     string // set when an ECO database is loaded
	Plies       []Ply
}

// PlayerPlies returns the plies played by the tracked player.
func (g *Game) PlayerPlies() []Ply {
	out := make([]Ply, 0, len(g.Plies)/2+1)
	for _, p := range g.Plies {
		if p.Mover == g.Color {
			out = append(out, p)
		}
	}
	return out
}

// ClockCoverage is the share of player moves carrying a clock.
func (g *Game) ClockCoverage() float64 {
	n, with := 0, 0
	for _, p := range g.Plies {
		if p.Mover != g.Color {
			continue
		}
		n++
		if p.HasClock {
			with++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(with) / float64(n)
}

// PlayedOn parses the game date, if any.
func (g *Game) PlayedOn() (time.Time, bool) {
	t, err := time.Parse("2006.01.02", g.Date)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// idFromURL takes the last path segment of a game URL.
func idFromURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" || !strings.Contains(url, "/") {
		return ""
	}
	return url[strings.LastIndex(url, "/")+1:]
}

// makeID returns the URL id when there is one, else a content hash.
func makeID(url string, tags map[string]string, ucis []string) string {
	if id := idFromURL(url); id != "" {
		return id
	}
	h := sha256.New()
	for _, k := range tagKeyFields {
		h.Write([]byte(k + "=" + tags[k] + "\n"))
	}
	h.Write([]byte(strings.Join(ucis, " ")))
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func outcome(result string, color board.Side) Outcome {
	switch result {
	case "1-0":
		if color == board.White {
			return Win
		}
		return Loss
	case "0-1":
		if color == board.Black {
			return Win
		}
		return Loss
	}
	return Draw
}

// gameURL prefers an http Site tag, then Link.
func gameURL(tags map[string]string) string {
	if s := tags["Site"]; strings.HasPrefix(s, "http") {
		return s
	}
	return tags["Link"]
}

// rated reads a Rated tag or a "Rated ..." / "Casual ..." event name.
func rated(tags map[string]string) bool {
	switch strings.ToLower(tags["Rated"]) {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	}
	ev := strings.ToLower(tags["Event"])
	return !strings.HasPrefix(ev, "casual")
}
