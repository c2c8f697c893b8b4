// Package analysis drives a run: it evaluates every player move in two
// passes, classifies the moves, runs the detectors and ranks the result.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/position"
	"github.com/freeeve/weakscan/internal/rank"
)

// Evaluator answers position queries, reporting cache hits.
type Evaluator interface {
	Evaluate(ctx context.Context, pos position.Position, s eval.Settings) (eval.Result, bool, error)
}

// Config holds everything a run needs.
type Config struct {
	Shallow     eval.Settings
	Deep        eval.Settings
	RefineCPL   int // moves above this shallow CPL are re-evaluated deep
	Concurrency int // evaluation requests in flight
	PhaseFocus  classify.Phase
	Classify    classify.Thresholds
	Detect      detect.Config
	Rank        rank.Config
	RunID       string
	Logger      zerolog.Logger
}

// Warning is a contained per-move or per-game fault.
type Warning struct {
	GameID  string `json:"game_id,omitempty" yaml:"game_id,omitempty"`
	Ply     int    `json:"ply,omitempty" yaml:"ply,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Meta describes a run.
type Meta struct {
	RunID              string    `json:"run_id" yaml:"run_id"`
	Player             string    `json:"player" yaml:"player"`
	Started            time.Time `json:"started" yaml:"started"`
	Finished           time.Time `json:"finished" yaml:"finished"`
	ShallowFingerprint string    `json:"shallow_fingerprint" yaml:"shallow_fingerprint"`
	DeepFingerprint    string    `json:"deep_fingerprint" yaml:"deep_fingerprint"`
	Games              int       `json:"games" yaml:"games"`
	GamesAnalysed      int       `json:"games_analysed" yaml:"games_analysed"`
	Moves              int       `json:"moves" yaml:"moves"`
	Refined            int       `json:"refined" yaml:"refined"`
	Evaluations        int64     `json:"evaluations" yaml:"evaluations"`
	CacheHits          int64     `json:"cache_hits" yaml:"cache_hits"`
	Unavailable        int64     `json:"unavailable" yaml:"unavailable"`
	Warnings           []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Report is the complete outcome of a run.
type Report struct {
	Meta    Meta                   `json:"meta" yaml:"meta"`
	Summary Summary                `json:"summary" yaml:"summary"`
	Ranking rank.Result            `json:"ranking" yaml:"ranking"`
	Events  []detect.Event         `json:"-" yaml:"-"`
	Records []*classify.MoveRecord `json:"-" yaml:"-"`
}

// Runner executes runs against an evaluator.
type Runner struct {
	cfg    Config
	ev     Evaluator
	boards *board.Cache
	cls    *classify.Classifier
	reg    *detect.Registry
	log    zerolog.Logger
}

// NewRunner creates a runner. Board contexts are shared across the run.
func NewRunner(cfg Config, ev Evaluator) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RefineCPL <= 0 {
		cfg.RefineCPL = 300
	}
	if cfg.Classify.MateCap == 0 {
		cfg.Classify = classify.DefaultThresholds()
	}
	if cfg.Detect.Confidence == nil {
		cfg.Detect = detect.DefaultConfig()
	}
	cfg.Detect.MateCap = cfg.Classify.MateCap
	cfg.Shallow = cfg.Shallow.Normalize()
	cfg.Deep = cfg.Deep.Normalize()
	boards := board.NewCache()
	return &Runner{
		cfg:    cfg,
		ev:     ev,
		boards: boards,
		cls:    classify.New(cfg.Classify, boards),
		reg:    detect.NewRegistry(cfg.Detect, cfg.Logger),
		log:    cfg.Logger.With().Str("component", "analysis").Logger(),
	}
}

// outcome is the evaluation of one request.
type outcome struct {
	res eval.Result
	err error
}

// pass evaluates a batch and returns results by cache key. Per-position
// failures are kept in the map; only cancellation aborts the pass.
func (r *Runner) pass(ctx context.Context, b *eval.Batch, meta *Meta) (map[eval.Key]outcome, error) {
	reqs := b.Drain()
	out := make(map[eval.Key]outcome, len(reqs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			res, hit, err := r.ev.Evaluate(gctx, req.Pos, req.Settings)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			meta.Evaluations++
			if hit {
				meta.CacheHits++
			}
			if err != nil {
				meta.Unavailable++
			}
			out[req.Key()] = outcome{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// plyEvals assembles the evaluations of a game's player moves from a
// pass's results. Moves whose positions failed are left out.
func plyEvals(g *game.Game, s eval.Settings, results map[eval.Key]outcome, only map[int]bool) (map[int]classify.PlyEval, []Warning) {
	evals := make(map[int]classify.PlyEval)
	var warnings []Warning
	for _, p := range g.Plies {
		if p.Mover != g.Color || (only != nil && !only[p.Index]) {
			continue
		}
		before, okB := results[eval.Request{Pos: p.Before, Settings: s}.Key()]
		after, okA := results[eval.Request{Pos: p.After, Settings: s}.Key()]
		if !okB || !okA {
			continue
		}
		if err := errors.Join(before.err, after.err); err != nil {
			warnings = append(warnings, Warning{GameID: g.ID, Ply: p.Index, Message: err.Error()})
			continue
		}
		evals[p.Index] = classify.PlyEval{Before: before.res, After: after.res}
	}
	return evals, warnings
}

func request(b *eval.Batch, g *game.Game, s eval.Settings, only map[int]bool) {
	for _, p := range g.Plies {
		if p.Mover != g.Color || (only != nil && !only[p.Index]) {
			continue
		}
		b.Add(p.Before, s)
		b.Add(p.After, s)
	}
}

// Run analyses games for player.
func (r *Runner) Run(ctx context.Context, player string, games []*game.Game) (*Report, error) {
	meta := Meta{
		RunID:              r.cfg.RunID,
		Player:             player,
		Started:            time.Now().UTC(),
		ShallowFingerprint: r.cfg.Shallow.Fingerprint(),
		DeepFingerprint:    r.cfg.Deep.Fingerprint(),
		Games:              len(games),
	}
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	log := r.log.With().Str("run_id", meta.RunID).Logger()
	log.Info().Int("games", len(games)).Str("shallow", meta.ShallowFingerprint).Msg("run started")

	// Pass one: every player move, shallow.
	batch := eval.NewBatch()
	for _, g := range games {
		request(batch, g, r.cfg.Shallow, nil)
	}
	log.Info().Int("positions", batch.Len()).Msg("shallow pass")
	shallow, err := r.pass(ctx, batch, &meta)
	if err != nil {
		return nil, fmt.Errorf("shallow pass: %w", err)
	}

	evals := make(map[string]map[int]classify.PlyEval, len(games))
	records := make(map[string][]*classify.MoveRecord, len(games))
	refine := make(map[string]map[int]bool)
	for _, g := range games {
		e, warns := plyEvals(g, r.cfg.Shallow, shallow, nil)
		meta.Warnings = append(meta.Warnings, warns...)
		evals[g.ID] = e
		recs, _ := r.cls.Game(g, e)
		for _, rec := range recs {
			if rec.CPL > r.cfg.RefineCPL {
				if refine[g.ID] == nil {
					refine[g.ID] = make(map[int]bool)
				}
				refine[g.ID][rec.Ply] = true
			}
		}
		records[g.ID] = recs
	}

	// Pass two starts only once pass one is complete.
	if len(refine) > 0 {
		for _, g := range games {
			if only := refine[g.ID]; only != nil {
				request(batch, g, r.cfg.Deep, only)
			}
		}
		log.Info().Int("positions", batch.Len()).Int("games", len(refine)).Msg("deep pass")
		deep, err := r.pass(ctx, batch, &meta)
		if err != nil {
			return nil, fmt.Errorf("deep pass: %w", err)
		}
		for _, g := range games {
			only := refine[g.ID]
			if only == nil {
				continue
			}
			refined, warns := plyEvals(g, r.cfg.Deep, deep, only)
			for _, w := range warns {
				w.Message = "deep pass, keeping shallow result: " + w.Message
				meta.Warnings = append(meta.Warnings, w)
			}
			for ply, pe := range refined {
				pe.Refined = true
				evals[g.ID][ply] = pe
				meta.Refined++
			}
			records[g.ID], _ = r.cls.Game(g, evals[g.ID])
		}
	}

	var (
		analysed  []*game.Game
		all       []*classify.MoveRecord
		detectors [][]*detect.Move
	)
	for _, g := range games {
		recs := records[g.ID]
		if len(recs) == 0 {
			meta.Warnings = append(meta.Warnings, Warning{GameID: g.ID, Message: "no usable move data; game excluded"})
			continue
		}
		analysed = append(analysed, g)
		all = append(all, recs...)
		detectors = append(detectors, r.moves(g, recs))
	}
	for _, w := range meta.Warnings {
		log.Warn().Str("game_id", w.GameID).Int("ply", w.Ply).Msg(w.Message)
	}
	meta.GamesAnalysed = len(analysed)
	meta.Moves = len(all)

	events := r.reg.Run(detectors)
	report := &Report{
		Summary: Summarize(player, analysed, all, r.cfg.Classify, r.cfg.Detect.CalcPercentile),
		Ranking: rank.Rank(events, r.cfg.Rank),
		Events:  events,
		Records: all,
	}
	meta.Finished = time.Now().UTC()
	report.Meta = meta
	log.Info().
		Int("games", meta.GamesAnalysed).
		Int("moves", meta.Moves).
		Int("refined", meta.Refined).
		Int("events", len(events)).
		Int64("evaluations", meta.Evaluations).
		Int64("cache_hits", meta.CacheHits).
		Int64("unavailable", meta.Unavailable).
		Dur("elapsed", meta.Finished.Sub(meta.Started)).
		Msg("run finished")
	return report, nil
}

// moves pairs records with their board contexts, honouring the phase
// focus.
func (r *Runner) moves(g *game.Game, recs []*classify.MoveRecord) []*detect.Move {
	out := make([]*detect.Move, 0, len(recs))
	for _, rec := range recs {
		if r.cfg.PhaseFocus != "" && rec.Phase != r.cfg.PhaseFocus {
			continue
		}
		m := &detect.Move{Record: rec, Game: g}
		if ctx, err := r.boards.Get(rec.Before); err == nil {
			m.Before = ctx
		}
		if ctx, err := r.boards.Get(rec.After); err == nil {
			m.After = ctx
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.Ply < out[j].Record.Ply })
	return out
}
