package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freeeve/weakscan/internal/analysis"
	"github.com/freeeve/weakscan/internal/config"
	"github.com/freeeve/weakscan/internal/eco"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/httpapi"
	"github.com/freeeve/weakscan/internal/logx"
	"github.com/freeeve/weakscan/internal/report"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [flags] <games.pgn[.zst]>...",
		Short: "Analyse a player's games and write the weakness report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.v.Set("inputs", args)
			}
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			if len(cfg.Inputs) == 0 {
				return usageError{errors.New("no PGN inputs given")}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringP("player", "p", "", "player name as it appears in the PGN headers")
	f.String("eco-dir", "", "directory of ECO .tsv files for opening names")
	f.String("tc", "all", "time control: bullet, blitz, rapid, daily or all")
	f.String("since", "", "first game date, YYYY-MM-DD")
	f.String("until", "", "last game date, YYYY-MM-DD")
	f.Int("max-games", 100, "keep at most this many of the newest games (0 = all)")
	f.Bool("rated-only", true, "skip casual games")
	f.String("phase", "all", "restrict detection to a phase: all, opening or endgame")
	f.String("engine", "stockfish", "UCI engine binary")
	f.Int("workers", 4, "engine processes")
	f.Int("threads", 1, "threads per engine process")
	f.Int("hash-mb", 64, "hash per engine process")
	f.Int("nice", 0, "nice value for engine processes (0 = unchanged)")
	f.Duration("timeout", 60*time.Second, "per-query timeout")
	f.Int("depth", 12, "first-pass search depth")
	f.Int("deep-depth", 20, "refinement search depth")
	f.Int("lines", 2, "engine lines (MultiPV)")
	f.Int("refine-cpl", 300, "refine moves whose first-pass loss exceeds this")
	f.StringSlice("confidence", nil, "detector confidence override, name=value (repeatable)")
	f.String("out", "out", "output directory")
	f.String("format", "json", "report format: json or yaml")
	f.String("run-id", "", "run id (default: random)")
	f.String("status-addr", "", "serve /health, /status and /metrics on this address during the run")
	a.bind(cmd, map[string]string{
		"player":      "player",
		"eco-dir":     "eco_dir",
		"tc":          "filter.time_control",
		"since":       "filter.since",
		"until":       "filter.until",
		"max-games":   "filter.max_games",
		"rated-only":  "filter.rated_only",
		"phase":       "filter.phase",
		"engine":      "engine.path",
		"workers":     "engine.workers",
		"threads":     "engine.threads",
		"hash-mb":     "engine.hash_mb",
		"nice":        "engine.nice",
		"timeout":     "engine.timeout",
		"depth":       "engine.shallow_depth",
		"deep-depth":  "engine.deep_depth",
		"lines":       "engine.lines",
		"refine-cpl":  "analysis.refine_cpl",
		"confidence":  "confidence",
		"out":         "output.dir",
		"format":      "output.format",
		"run-id":      "output.run_id",
		"status-addr": "status_addr",
	})
	return cmd
}

func runAnalyze(ctx context.Context, cfg config.Config) error {
	log := logx.NewLogger(logx.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	runID := cfg.Output.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = log.With().Str("run_id", runID).Logger()

	format, _ := report.ParseFormat(cfg.Output.Format)
	phase, _ := cfg.PhaseFocus()
	detectCfg, _ := cfg.DetectConfig()

	var ecoDB *eco.Database
	if cfg.ECODir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(cfg.ECODir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.ECODir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			log.Info().Int("openings", ecoDB.Count()).Msg("ECO database loaded")
		}
	}

	loader, err := game.NewLoader(game.LoadConfig{Player: cfg.Player, Filter: cfg.GameFilter(), ECO: ecoDB, Logger: log})
	if err != nil {
		return usageError{err}
	}
	games, _, err := loader.Load(ctx, cfg.Inputs)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		log.Warn().Str("player", cfg.Player).Msg("no games matched; the report will be empty")
	}

	factory, err := engineFactory(cfg, log)
	if err != nil {
		return err
	}
	store, err := openStore(cfg.Cache.Dir, cfg.Cache.InMemory, log)
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := eval.NewPool(eval.PoolConfig{
		Logger:     log.With().Str("component", "eval-pool").Logger(),
		NumWorkers: cfg.Engine.Workers,
		Timeout:    cfg.Engine.Timeout,
		NewSession: factory,
	})
	if err != nil {
		return err
	}
	poolCtx, stopPool := context.WithCancel(ctx)
	pool.Start(poolCtx)
	defer func() {
		stopPool()
		pool.Wait()
	}()

	cache := eval.NewCache(store, log.With().Str("component", "eval-cache").Logger())
	if cfg.StatusAddr != "" {
		srv, err := startStatusServer(cfg.StatusAddr, httpapi.Sources{RunID: runID, Pool: pool.GetStatus, Cache: cache.Stats}, log)
		if err != nil {
			return err
		}
		defer shutdown(srv, log)
	}

	runner := analysis.NewRunner(analysis.Config{
		Shallow:     cfg.Shallow(),
		Deep:        cfg.Deep(),
		RefineCPL:   cfg.Analysis.RefineCPL,
		Concurrency: 2 * cfg.Engine.Workers,
		PhaseFocus:  phase,
		Classify:    cfg.Thresholds(),
		Detect:      detectCfg,
		Rank:        cfg.RankConfig(),
		RunID:       runID,
		Logger:      log,
	}, eval.NewEvaluator(cache, pool))

	rep, err := runner.Run(ctx, cfg.Player, games)
	if err != nil {
		return err
	}
	paths, err := report.WriteFiles(cfg.Output.Dir, rep, format)
	if err != nil {
		return err
	}
	log.Info().Str("report", paths.Packet).Str("moves", paths.Moves).Int("ranked", len(rep.Ranking.Ranked)).Msg("report written")
	fmt.Println(paths.Packet)
	return nil
}

// engineFactory checks that the engine binary exists and starts once
// before any work is queued.
func engineFactory(cfg config.Config, log zerolog.Logger) (eval.SessionFactory, error) {
	path, err := exec.LookPath(cfg.Engine.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: engine %q not found", eval.ErrEvaluatorUnavailable, cfg.Engine.Path)
	}
	factory := eval.UCISessionFactory(eval.UCISessionConfig{
		Path:    path,
		HashMB:  cfg.Engine.HashMB,
		Threads: cfg.Engine.Threads,
		Nice:    cfg.Engine.Nice,
		Logger:  log.With().Str("component", "engine").Logger(),
	})
	first, err := factory(-1)
	if err != nil {
		return nil, err
	}
	_ = first.Close()
	return factory, nil
}

func openStore(dir string, inMemory bool, log zerolog.Logger) (*eval.BadgerStore, error) {
	return eval.OpenBadger(eval.BadgerConfig{
		Dir:        dir,
		InMemory:   inMemory,
		GCInterval: 10 * time.Minute,
		Logger:     log,
	})
}

func startStatusServer(addr string, src httpapi.Sources, log zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: status server: %v", config.ErrBadConfig, err)
	}
	srv := &http.Server{
		Handler:      httpapi.NewRouter(log.With().Str("component", "http").Logger(), src),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server")
		}
	}()
	return srv, nil
}

func shutdown(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown")
	}
}
