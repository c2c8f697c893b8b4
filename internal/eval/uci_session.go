package eval

import (
	"context"
	"fmt"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"
)

// UCISessionConfig describes how engine processes are started.
type UCISessionConfig struct {
	Path    string
	HashMB  int
	Threads int
	Nice    int // 0 = leave priority alone
	Logger  zerolog.Logger
}

type uciSession struct {
	engine *uci.Engine
	cfg    UCISessionConfig
	log    zerolog.Logger
	lines  int
}

// UCISessionFactory returns a factory that starts one UCI engine per call.
func UCISessionFactory(cfg UCISessionConfig) SessionFactory {
	return func(workerID int) (Session, error) {
		return newUCISession(cfg, cfg.Logger.With().Int("worker_id", workerID).Logger())
	}
}

func newUCISession(cfg UCISessionConfig, log zerolog.Logger) (*uciSession, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: engine path required", ErrEvaluatorUnavailable)
	}
	engine, err := uci.NewEngine(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: create engine: %v", ErrEvaluatorUnavailable, err)
	}
	s := &uciSession{engine: engine, cfg: cfg, log: log}
	if err := s.setLines(1); err != nil {
		engine.Close()
		return nil, err
	}

	// Set nice value after options so the engine is initialized
	if cfg.Nice > 0 {
		nice := cfg.Nice
		if nice > 19 {
			log.Warn().Int("requested", nice).Int("clamped", 19).Msg("nice value clamped to max 19")
			nice = 19
		}
		if err := engine.SetNice(nice); err != nil {
			log.Warn().Err(err).Int("nice", nice).Msg("failed to set nice value")
		}
	}
	log.Debug().Int("threads", cfg.Threads).Int("hash_mb", cfg.HashMB).Msg("engine session started")
	return s, nil
}

func (s *uciSession) setLines(n int) error {
	if n == s.lines {
		return nil
	}
	opts := uci.Options{
		Hash:    s.cfg.HashMB,
		Threads: s.cfg.Threads,
		MultiPV: n,
		Ponder:  false,
		OwnBook: false,
	}
	if err := s.engine.SetOptions(opts); err != nil {
		return fmt.Errorf("%w: set options: %v", ErrEvaluatorUnavailable, err)
	}
	s.lines = n
	return nil
}

type uciAnswer struct {
	res *uci.Results
	err error
}

// Evaluate runs one depth-limited search. If ctx ends first the engine
// process is killed and the session becomes unusable.
func (s *uciSession) Evaluate(ctx context.Context, fen string, st Settings) (Result, error) {
	if s.engine == nil {
		return Result{}, fmt.Errorf("%w: session closed", ErrEvaluatorUnavailable)
	}
	st = st.Normalize()
	if err := s.setLines(st.Lines); err != nil {
		return Result{}, err
	}
	if err := s.engine.SetFEN(fen); err != nil {
		return Result{}, fmt.Errorf("%w: set FEN: %v", ErrEvaluatorUnavailable, err)
	}

	done := make(chan uciAnswer, 1)
	go func() {
		res, err := s.engine.GoDepth(st.Depth, uci.HighestDepthOnly)
		done <- uciAnswer{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		s.engine.Close()
		s.engine = nil
		return Result{}, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return Result{}, fmt.Errorf("%w: search: %v", ErrEvaluatorUnavailable, a.err)
		}
		return fromUCI(a.res, st)
	}
}

// fromUCI keeps the deepest info line per MultiPV index.
func fromUCI(res *uci.Results, st Settings) (Result, error) {
	if res == nil || len(res.Results) == 0 {
		return Result{}, ErrNoResult
	}
	maxDepth := 0
	for _, r := range res.Results {
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}
	byLine := make(map[int]uci.ScoreResult)
	for _, r := range res.Results {
		if r.Depth != maxDepth {
			continue
		}
		idx := r.MultiPV
		if idx <= 0 {
			idx = 1
		}
		if _, ok := byLine[idx]; !ok {
			byLine[idx] = r
		}
	}
	best, ok := byLine[1]
	if !ok {
		return Result{}, ErrNoResult
	}

	out := Result{
		Score:    uciScore(best),
		Depth:    maxDepth,
		BestMove: res.BestMove,
		PV:       boundPV(best.BestMoves, st.PVLength),
	}
	if out.BestMove == "" && len(out.PV) > 0 {
		out.BestMove = out.PV[0]
	}
	for i := 2; i <= st.Lines; i++ {
		r, ok := byLine[i]
		if !ok || len(r.BestMoves) == 0 {
			break
		}
		out.Alternatives = append(out.Alternatives, Alternative{Move: r.BestMoves[0], Score: uciScore(r)})
	}
	return out, nil
}

func uciScore(r uci.ScoreResult) Score {
	if r.Mate {
		return MateIn(r.Score)
	}
	return CP(r.Score)
}

func boundPV(pv []string, n int) []string {
	if len(pv) > n {
		pv = pv[:n]
	}
	out := make([]string, len(pv))
	copy(out, pv)
	return out
}

func (s *uciSession) Close() error {
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	return nil
}
