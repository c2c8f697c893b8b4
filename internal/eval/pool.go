package eval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PoolConfig configures the evaluation pool.
type PoolConfig struct {
	Logger     zerolog.Logger
	NumWorkers int           // parallel engine sessions
	QueueSize  int           // pending job buffer
	Timeout    time.Duration // per-query limit
	NewSession SessionFactory
}

// Pool fans evaluation requests out over a fixed set of workers. Each worker
// owns one engine session and replaces it after any failure.
type Pool struct {
	cfg PoolConfig
	log zerolog.Logger

	jobs    chan *job
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once

	// Stats
	busy      int32
	evaluated int64
	retried   int64
	failed    int64
	timeouts  int64
	restarts  int64
}

type job struct {
	ctx      context.Context
	fen      string
	settings Settings
	done     chan jobResult
}

type jobResult struct {
	res Result
	err error
}

// NewPool creates a pool. Call Start before Evaluate.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.NewSession == nil {
		return nil, fmt.Errorf("session factory required")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4 * cfg.NumWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		log:     cfg.Logger,
		jobs:    make(chan *job, cfg.QueueSize),
		stopped: make(chan struct{}),
	}, nil
}

// PoolStatus is a snapshot of pool counters.
type PoolStatus struct {
	Workers   int   `json:"workers"`
	Busy      int   `json:"busy"`
	QueueLen  int   `json:"queue_len"`
	Evaluated int64 `json:"evaluated"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
	Timeouts  int64 `json:"timeouts"`
	Restarts  int64 `json:"restarts"`
}

// GetStatus returns the current status of the pool.
func (p *Pool) GetStatus() PoolStatus {
	return PoolStatus{
		Workers:   p.cfg.NumWorkers,
		Busy:      int(atomic.LoadInt32(&p.busy)),
		QueueLen:  len(p.jobs),
		Evaluated: atomic.LoadInt64(&p.evaluated),
		Retried:   atomic.LoadInt64(&p.retried),
		Failed:    atomic.LoadInt64(&p.failed),
		Timeouts:  atomic.LoadInt64(&p.timeouts),
		Restarts:  atomic.LoadInt64(&p.restarts),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info().
		Int("num_workers", p.cfg.NumWorkers).
		Int("queue_size", p.cfg.QueueSize).
		Dur("timeout", p.cfg.Timeout).
		Msg("eval pool started")

	for i := 0; i < p.cfg.NumWorkers; i++ {
		w := &worker{id: i, pool: p, log: p.log.With().Int("worker_id", i).Logger()}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	go func() {
		<-ctx.Done()
		p.once.Do(func() { close(p.stopped) })
	}()
}

// Run starts the pool and blocks until ctx is cancelled and every worker
// has released its session.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Wait()
	return ctx.Err()
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.log.Info().
		Int64("total_evaluated", atomic.LoadInt64(&p.evaluated)).
		Int64("total_failed", atomic.LoadInt64(&p.failed)).
		Msg("eval pool stopped")
}

// Evaluate queues one query and waits for its answer. A cancelled ctx
// returns ctx.Err(); engine failures surface as ErrEvaluatorUnavailable or
// ErrEvaluatorTimeout.
func (p *Pool) Evaluate(ctx context.Context, fen string, s Settings) (Result, error) {
	j := &job{ctx: ctx, fen: fen, settings: s, done: make(chan jobResult, 1)}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.stopped:
		return Result{}, fmt.Errorf("%w: pool stopped", ErrEvaluatorUnavailable)
	case p.jobs <- j:
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-j.done:
		return r.res, r.err
	case <-p.stopped:
		return Result{}, fmt.Errorf("%w: pool stopped", ErrEvaluatorUnavailable)
	}
}

type worker struct {
	id      int
	pool    *Pool
	log     zerolog.Logger
	session Session
}

func (w *worker) run(ctx context.Context) {
	defer w.reset()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("worker stopping (context cancelled)")
			return
		case j := <-w.pool.jobs:
			atomic.AddInt32(&w.pool.busy, 1)
			res, err := w.handle(j)
			atomic.AddInt32(&w.pool.busy, -1)
			j.done <- jobResult{res: res, err: err}
		}
	}
}

// handle runs a job, retrying once on a fresh session.
func (w *worker) handle(j *job) (Result, error) {
	p := w.pool
	if err := j.ctx.Err(); err != nil {
		queriesTotal.WithLabelValues("cancelled").Inc()
		return Result{}, err
	}

	res, err := w.attempt(j)
	if err == nil {
		return res, nil
	}
	if j.ctx.Err() != nil {
		queriesTotal.WithLabelValues("cancelled").Inc()
		return Result{}, j.ctx.Err()
	}

	atomic.AddInt64(&p.retried, 1)
	queriesTotal.WithLabelValues("retry").Inc()
	w.log.Warn().Err(err).Str("fen", j.fen).Msg("eval failed, retrying on fresh session")

	res, err = w.attempt(j)
	if err == nil {
		return res, nil
	}
	if j.ctx.Err() != nil {
		queriesTotal.WithLabelValues("cancelled").Inc()
		return Result{}, j.ctx.Err()
	}
	atomic.AddInt64(&p.failed, 1)
	if errors.Is(err, ErrEvaluatorTimeout) {
		queriesTotal.WithLabelValues("timeout").Inc()
		return Result{}, err
	}
	queriesTotal.WithLabelValues("unavailable").Inc()
	if !errors.Is(err, ErrEvaluatorUnavailable) {
		err = fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	return Result{}, err
}

func (w *worker) attempt(j *job) (Result, error) {
	p := w.pool
	if w.session == nil {
		s, err := p.cfg.NewSession(w.id)
		if err != nil {
			if errors.Is(err, ErrEvaluatorUnavailable) {
				return Result{}, err
			}
			return Result{}, fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
		}
		w.session = s
	}

	qctx, cancel := context.WithTimeout(j.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := w.session.Evaluate(qctx, j.fen, j.settings)
	queryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// The engine may have died or still be searching; never reuse it.
		w.reset()
		atomic.AddInt64(&p.restarts, 1)
		sessionRestarts.Inc()
		if errors.Is(err, context.DeadlineExceeded) && j.ctx.Err() == nil {
			atomic.AddInt64(&p.timeouts, 1)
			return Result{}, fmt.Errorf("%w: after %s", ErrEvaluatorTimeout, p.cfg.Timeout)
		}
		return Result{}, err
	}

	atomic.AddInt64(&p.evaluated, 1)
	queriesTotal.WithLabelValues("ok").Inc()
	w.log.Debug().Str("fen", j.fen).Str("score", res.Score.String()).Int("depth", res.Depth).Msg("evaluated")
	return res, nil
}

func (w *worker) reset() {
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			w.log.Debug().Err(err).Msg("close session")
		}
		w.session = nil
	}
}
