package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Settings are the evaluator parameters that change an answer. Two requests
// share a cache entry only when their fingerprints match.
type Settings struct {
	Depth    int // search depth
	Lines    int // MultiPV line count
	PVLength int // principal variation plies kept
	Threads  int // engine threads per session
	HashMB   int // engine hash per session
}

// Normalize fills zero fields with defaults.
func (s Settings) Normalize() Settings {
	if s.Depth <= 0 {
		s.Depth = 14
	}
	if s.Lines <= 0 {
		s.Lines = 1
	}
	if s.PVLength <= 0 {
		s.PVLength = 12
	}
	if s.Threads <= 0 {
		s.Threads = 1
	}
	if s.HashMB <= 0 {
		s.HashMB = 64
	}
	return s
}

// Fingerprint is a stable 16-hex-digit hash of the settings.
func (s Settings) Fingerprint() string {
	s = s.Normalize()
	raw := strings.Join([]string{
		fmt.Sprintf("depth=%d", s.Depth),
		fmt.Sprintf("lines=%d", s.Lines),
		fmt.Sprintf("pv=%d", s.PVLength),
		fmt.Sprintf("threads=%d", s.Threads),
		fmt.Sprintf("hash_mb=%d", s.HashMB),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// Key addresses one cached evaluation.
type Key struct {
	Position    string // canonical position
	Fingerprint string
}

// String is the byte form used by persistent stores: fingerprint first so
// entries of one settings profile are contiguous.
func (k Key) String() string {
	return k.Fingerprint + "|" + k.Position
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	fp, pos, ok := strings.Cut(s, "|")
	if !ok || len(fp) != 16 || pos == "" {
		return Key{}, fmt.Errorf("%w: bad key %q", ErrCacheCorruption, s)
	}
	return Key{Position: pos, Fingerprint: fp}, nil
}
