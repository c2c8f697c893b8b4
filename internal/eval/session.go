package eval

import "context"

// Alternative is a non-principal engine line: its first move and score.
type Alternative struct {
	Move  string
	Score Score
}

// Result is one evaluation, expressed for the side to move.
type Result struct {
	Score        Score
	Depth        int
	BestMove     string        // UCI, empty in terminal positions
	PV           []string      // principal variation, bounded by Settings.PVLength
	Alternatives []Alternative // lines 2..N when Settings.Lines > 1
}

// SecondBest returns the score of the second engine line, if any.
func (r Result) SecondBest() (Score, bool) {
	if len(r.Alternatives) == 0 {
		return Score{}, false
	}
	return r.Alternatives[0].Score, true
}

// Session is one long-lived engine process. A session serves one query at a
// time. After Evaluate returns an error the session must be closed and
// replaced.
type Session interface {
	Evaluate(ctx context.Context, fen string, s Settings) (Result, error)
	Close() error
}

// SessionFactory starts a fresh session for a worker.
type SessionFactory func(workerID int) (Session, error)
