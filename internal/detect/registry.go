package detect

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/freeeve/weakscan/internal/classify"
)

// Registry runs the detectors in registration order.
type Registry struct {
	cfg   Config
	moves []moveRule
	games []seriesRule
	run   []seriesRule
	log   zerolog.Logger
}

// NewRegistry creates a registry with every detector enabled.
func NewRegistry(cfg Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:   cfg,
		moves: moveRules,
		games: gameRules,
		run:   runRules,
		log:   log.With().Str("component", "detect").Logger(),
	}
}

// Names lists the detectors in the order they run.
func (r *Registry) Names() []string {
	var names []string
	for _, d := range r.moves {
		names = append(names, d.name)
	}
	for _, d := range r.games {
		names = append(names, d.name)
	}
	for _, d := range r.run {
		names = append(names, d.name)
	}
	return names
}

// Config returns the registry's settings.
func (r *Registry) Config() Config { return r.cfg }

// DetectMove runs the per-move detectors on one move.
func (r *Registry) DetectMove(m *Move) []Event {
	var events []Event
	for _, d := range r.moves {
		events = append(events, r.safeMove(d, m)...)
	}
	return events
}

// DetectGame runs the per-move detectors over a game's moves, then the
// series detectors. moves must be in ply order.
func (r *Registry) DetectGame(moves []*Move) []Event {
	var events []Event
	for _, m := range moves {
		events = append(events, r.DetectMove(m)...)
	}
	for _, d := range r.games {
		events = append(events, r.safeSeries(d, moves)...)
	}
	return events
}

// Run detects over every game of a run and tags blunder events with
// their time reading.
func (r *Registry) Run(games [][]*Move) []Event {
	var (
		events  []Event
		all     []*Move
		records []*classify.MoveRecord
	)
	for _, moves := range games {
		events = append(events, r.DetectGame(moves)...)
		all = append(all, moves...)
		for _, m := range moves {
			records = append(records, m.Record)
		}
	}
	for _, d := range r.run {
		events = append(events, r.safeSeries(d, all)...)
	}

	tags := TimeTags(records, r.cfg.CalcPercentile)
	for i := range events {
		events[i].TimeTag = tags[events[i].Key()]
	}
	return events
}

func (r *Registry) safeMove(d moveRule, m *Move) (events []Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn().
				Str("detector", d.name).
				Str("game_id", m.Record.GameID).
				Int("ply", m.Record.Ply).
				Str("panic", fmt.Sprint(p)).
				Msg("detector failed")
			events = nil
		}
	}()
	return d.run(&r.cfg, m)
}

func (r *Registry) safeSeries(d seriesRule, moves []*Move) (events []Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn().Str("detector", d.name).Str("panic", fmt.Sprint(p)).Msg("detector failed")
			events = nil
		}
	}()
	return d.run(&r.cfg, moves)
}
