package eval

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeSession scripts engine answers for tests.
type fakeSession struct {
	id     int
	answer func(ctx context.Context, id int, fen string) (Result, error)
	closed atomic.Bool
}

func (s *fakeSession) Evaluate(ctx context.Context, fen string, _ Settings) (Result, error) {
	return s.answer(ctx, s.id, fen)
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeFactory numbers sessions in start order, from 1.
type fakeFactory struct {
	mu       sync.Mutex
	started  int
	sessions []*fakeSession
	answer   func(ctx context.Context, id int, fen string) (Result, error)
}

func (f *fakeFactory) New(int) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	s := &fakeSession{id: f.started, answer: f.answer}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// countingBackend answers every query with a fixed result.
type countingBackend struct {
	calls  atomic.Int64
	result Result
	gate   chan struct{}
}

func (b *countingBackend) Evaluate(ctx context.Context, _ string, _ Settings) (Result, error) {
	b.calls.Add(1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return b.result, nil
}
