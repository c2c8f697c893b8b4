package eval

import "errors"

var (
	// ErrEvaluatorUnavailable means the engine process is missing, crashed,
	// or failed again after a restart.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
	// ErrEvaluatorTimeout means a query outlived its per-request timeout.
	ErrEvaluatorTimeout = errors.New("evaluator timeout")
	// ErrCacheCorruption marks a persisted entry that could not be decoded.
	ErrCacheCorruption = errors.New("cache corruption")
	// ErrNoResult means the engine answered without any score line.
	ErrNoResult = errors.New("no results from engine")
)

// Unavailable reports whether err means the position could not be
// evaluated (as opposed to the run being cancelled).
func Unavailable(err error) bool {
	return errors.Is(err, ErrEvaluatorUnavailable) || errors.Is(err, ErrEvaluatorTimeout)
}
