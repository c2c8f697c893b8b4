package eval

import (
	"context"

	"github.com/freeeve/weakscan/internal/position"
)

// Backend answers uncached queries. *Pool implements it.
type Backend interface {
	Evaluate(ctx context.Context, fen string, s Settings) (Result, error)
}

// Evaluator is the cached front door to the engine.
type Evaluator struct {
	cache   *Cache
	backend Backend
}

// NewEvaluator wires a cache to a backend.
func NewEvaluator(cache *Cache, backend Backend) *Evaluator {
	return &Evaluator{cache: cache, backend: backend}
}

// Cache returns the underlying cache.
func (e *Evaluator) Cache() *Cache { return e.cache }

// Evaluate returns the evaluation of pos for the side to move. The bool is
// true when the answer came from the cache. Positions without legal moves
// are scored directly.
func (e *Evaluator) Evaluate(ctx context.Context, pos position.Position, s Settings) (Result, bool, error) {
	s = s.Normalize()
	key := Key{Position: pos.Canonical(), Fingerprint: s.Fingerprint()}
	return e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (Result, error) {
		if len(pos.LegalMoves()) == 0 {
			if pos.InCheck() {
				return Result{Score: Mated()}, nil
			}
			return Result{Score: CP(0)}, nil
		}
		r, err := e.backend.Evaluate(ctx, pos.FEN(), s)
		if err != nil {
			return Result{}, err
		}
		if len(r.PV) > s.PVLength {
			r.PV = r.PV[:s.PVLength]
		}
		return r, nil
	})
}
