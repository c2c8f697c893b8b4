package eval

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Store persists evaluations across runs.
type Store interface {
	// Get returns the stored result. A stored entry that cannot be decoded
	// returns an error wrapping ErrCacheCorruption.
	Get(key Key) (Result, bool, error)
	// PutIfAbsent stores r unless the key already has a value, and returns
	// the value that ends up stored.
	PutIfAbsent(key Key, r Result) (Result, error)
	// Iterate visits every entry of one fingerprint ("" = all). Corrupt
	// entries are skipped and counted.
	Iterate(fingerprint string, fn func(Key, Result) error) (skipped int, err error)
	Close() error
}

// BadgerConfig configures the persistent store.
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration // 0 disables value log GC
	Logger     zerolog.Logger
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	log    zerolog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

// badgerLogger routes BadgerDB's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadger opens (creating if needed) the evaluation store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("cache dir is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db, log: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn().Err(err).Msg("value log GC failed")
			}
		}
	}
}

// Get implements Store.
func (s *BadgerStore) Get(key Key) (Result, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	r, err := decodeResult(raw)
	if err != nil {
		return Result{}, false, err
	}
	return r, true, nil
}

// PutIfAbsent implements Store. A conflicting concurrent writer wins and its
// value is returned.
func (s *BadgerStore) PutIfAbsent(key Key, r Result) (Result, error) {
	val, err := encodeResult(r)
	if err != nil {
		return Result{}, err
	}
	k := []byte(key.String())
	for attempt := 0; attempt < 3; attempt++ {
		var existing []byte
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if err == nil {
				existing, err = item.ValueCopy(nil)
				return err
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(k, val)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("put %s: %w", key, err)
		}
		if existing == nil {
			return r, nil
		}
		prev, err := decodeResult(existing)
		if err != nil {
			// Replace an unreadable entry with the fresh one.
			if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(k, val) }); err != nil {
				return Result{}, fmt.Errorf("put %s: %w", key, err)
			}
			return r, nil
		}
		return prev, nil
	}
	return Result{}, fmt.Errorf("put %s: %w", key, badger.ErrConflict)
}

// Iterate implements Store.
func (s *BadgerStore) Iterate(fingerprint string, fn func(Key, Result) error) (int, error) {
	skipped := 0
	var prefix []byte
	if fingerprint != "" {
		prefix = []byte(fingerprint + "|")
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, err := ParseKey(string(item.Key()))
			if err != nil {
				skipped++
				continue
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := decodeResult(raw)
			if err != nil {
				skipped++
				continue
			}
			if err := fn(key, r); err != nil {
				return err
			}
		}
		return nil
	})
	return skipped, err
}

// FingerprintCount is the number of stored results of one settings
// fingerprint.
type FingerprintCount struct {
	Fingerprint string `json:"fingerprint"`
	Entries     int    `json:"entries"`
}

// StoreStats describes what the persistent store holds.
type StoreStats struct {
	Fingerprints []FingerprintCount `json:"fingerprints"`
	Entries      int                `json:"entries"`
	Corrupt      int                `json:"corrupt"`
	LSMBytes     int64              `json:"lsm_bytes"`
	VlogBytes    int64              `json:"vlog_bytes"`
}

// Stats walks the store and counts entries per fingerprint.
func (s *BadgerStore) Stats() (StoreStats, error) {
	counts := make(map[string]int)
	skipped, err := s.Iterate("", func(k Key, _ Result) error {
		counts[k.Fingerprint]++
		return nil
	})
	if err != nil {
		return StoreStats{}, fmt.Errorf("store stats: %w", err)
	}
	st := StoreStats{Corrupt: skipped}
	for fp, n := range counts {
		st.Fingerprints = append(st.Fingerprints, FingerprintCount{Fingerprint: fp, Entries: n})
		st.Entries += n
	}
	sort.Slice(st.Fingerprints, func(i, j int) bool { return st.Fingerprints[i].Fingerprint < st.Fingerprints[j].Fingerprint })
	st.LSMBytes, st.VlogBytes = s.db.Size()
	return st, nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}
