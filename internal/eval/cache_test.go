package eval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/weakscan/internal/position"
)

func memStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() Result {
	return Result{
		Score:        CP(42),
		Depth:        14,
		BestMove:     "g1f3",
		PV:           []string{"g1f3", "d7d5", "d2d4"},
		Alternatives: []Alternative{{Move: "e2e4", Score: CP(35)}},
	}
}

func TestEvaluatorConcurrentRequestsShareOneQuery(t *testing.T) {
	backend := &countingBackend{result: sampleResult(), gate: make(chan struct{})}
	ev := NewEvaluator(NewCache(nil, zerolog.Nop()), backend)
	pos := position.Start()

	const n = 16
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = ev.Evaluate(context.Background(), pos, Settings{Depth: 14})
		}(i)
	}
	for backend.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(backend.gate)
	wg.Wait()

	assert.Equal(t, int64(1), backend.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestEvaluatorIdempotent(t *testing.T) {
	backend := &countingBackend{result: sampleResult()}
	ev := NewEvaluator(NewCache(memStore(t), zerolog.Nop()), backend)
	pos := position.Start()

	first, hit, err := ev.Evaluate(context.Background(), pos, Settings{Depth: 14})
	require.NoError(t, err)
	assert.False(t, hit)
	second, hit, err := ev.Evaluate(context.Background(), pos, Settings{Depth: 14})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), backend.calls.Load())

	// a different settings profile is a different key
	_, hit, err = ev.Evaluate(context.Background(), pos, Settings{Depth: 20})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestEvaluatorTerminalPositions(t *testing.T) {
	backend := &countingBackend{result: sampleResult()}
	ev := NewEvaluator(NewCache(nil, zerolog.Nop()), backend)

	mated := position.MustParse("r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq - 0 4")
	res, _, err := ev.Evaluate(context.Background(), mated, Settings{})
	require.NoError(t, err)
	assert.Equal(t, Mated(), res.Score)

	stalemate := position.MustParse("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	res, _, err = ev.Evaluate(context.Background(), stalemate, Settings{})
	require.NoError(t, err)
	assert.Equal(t, CP(0), res.Score)

	assert.Equal(t, int64(0), backend.calls.Load())
}

func TestCacheSurvivesReopen(t *testing.T) {
	store := memStore(t)
	key := Key{Position: position.Start().Canonical(), Fingerprint: Settings{}.Fingerprint()}

	c1 := NewCache(store, zerolog.Nop())
	_, _, err := c1.GetOrCompute(context.Background(), key, func(context.Context) (Result, error) {
		return sampleResult(), nil
	})
	require.NoError(t, err)

	c2 := NewCache(store, zerolog.Nop())
	got, hit, err := c2.GetOrCompute(context.Background(), key, func(context.Context) (Result, error) {
		t.Fatal("compute must not run on a persisted key")
		return Result{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sampleResult(), got)
}

func TestCacheFirstWriterWins(t *testing.T) {
	store := memStore(t)
	key := Key{Position: position.Start().Canonical(), Fingerprint: Settings{}.Fingerprint()}

	first := sampleResult()
	_, err := store.PutIfAbsent(key, first)
	require.NoError(t, err)

	other := sampleResult()
	other.Score = CP(-500)
	kept, err := store.PutIfAbsent(key, other)
	require.NoError(t, err)
	assert.Equal(t, first, kept)
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	c := NewCache(nil, zerolog.Nop())
	key := Key{Position: position.Start().Canonical(), Fingerprint: Settings{}.Fingerprint()}

	_, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (Result, error) {
		return Result{}, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	_, ok := c.Lookup(key)
	assert.False(t, ok)

	_, _, err = c.GetOrCompute(context.Background(), key, func(context.Context) (Result, error) {
		return Result{}, ErrEvaluatorUnavailable
	})
	require.ErrorIs(t, err, ErrEvaluatorUnavailable)
	_, ok = c.Lookup(key)
	assert.False(t, ok)
}

func TestCacheCorruptEntryIsAMiss(t *testing.T) {
	store := memStore(t)
	key := Key{Position: position.Start().Canonical(), Fingerprint: Settings{}.Fingerprint()}
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), []byte("not a result"))
	}))

	c := NewCache(store, zerolog.Nop())
	_, ok := c.Lookup(key)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Corrupt)

	got, hit, err := c.GetOrCompute(context.Background(), key, func(context.Context) (Result, error) {
		return sampleResult(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, sampleResult(), got)

	stored, ok, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(), stored)
}

func TestStoreStats(t *testing.T) {
	store := memStore(t)
	shallow := Settings{Depth: 12}.Fingerprint()
	deep := Settings{Depth: 20}.Fingerprint()
	for _, fen := range []string{position.StartFEN, "4k3/8/8/8/8/8/8/4K3 w - - 0 1"} {
		pos := position.MustParse(fen).Canonical()
		_, err := store.PutIfAbsent(Key{Position: pos, Fingerprint: shallow}, sampleResult())
		require.NoError(t, err)
	}
	_, err := store.PutIfAbsent(Key{Position: position.Start().Canonical(), Fingerprint: deep}, sampleResult())
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(deep+"|garbage"), []byte("not a result"))
	}))

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Entries)
	assert.Equal(t, 1, st.Corrupt)
	want := []FingerprintCount{{Fingerprint: shallow, Entries: 2}, {Fingerprint: deep, Entries: 1}}
	if deep < shallow {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, st.Fingerprints)
}
