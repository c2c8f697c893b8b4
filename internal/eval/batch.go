package eval

import (
	"sync"

	"github.com/freeeve/weakscan/internal/position"
)

// Request is one position to evaluate under a settings profile.
type Request struct {
	Pos      position.Position
	Settings Settings
}

// Key returns the cache key of the request.
func (r Request) Key() Key {
	s := r.Settings.Normalize()
	return Key{Position: r.Pos.Canonical(), Fingerprint: s.Fingerprint()}
}

// Batch collects evaluation requests, dropping duplicates by cache key while
// keeping first-seen order.
type Batch struct {
	mu    sync.Mutex
	queue []Request
	seen  map[Key]bool
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{seen: make(map[Key]bool)}
}

// Add queues a request. Returns false if an equivalent one is already queued.
func (b *Batch) Add(pos position.Position, s Settings) bool {
	req := Request{Pos: pos, Settings: s.Normalize()}
	key := req.Key()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[key] {
		return false
	}
	b.queue = append(b.queue, req)
	b.seen[key] = true
	return true
}

// Contains reports whether an equivalent request is queued.
func (b *Batch) Contains(pos position.Position, s Settings) bool {
	key := Request{Pos: pos, Settings: s}.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen[key]
}

// Len returns the number of queued requests.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Drain returns all queued requests in order and empties the batch.
func (b *Batch) Drain() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	b.seen = make(map[Key]bool)
	return out
}
