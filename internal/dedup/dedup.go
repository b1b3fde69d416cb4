// Package dedup collapses byte-identical concurrent requests onto one
// upstream call.
//
// DESIGN: Entries are keyed by sha256 of the raw request body, exactly as
// received. Each key is either inflight (a handle concurrent callers wait
// on) or completed (a replayable response kept for a short TTL) - never
// both. Upstream charges are per call; a client retry during an SSE stall
// must not double-bill.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/config"
)

// hopByHopHeaders must not be replayed: they describe the original transport,
// not the payload.
var hopByHopHeaders = []string{"Transfer-Encoding", "Connection", "Content-Encoding", "Keep-Alive"}

// Key hashes a raw request body.
func Key(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Result is a completed response, replayable byte-for-byte.
type Result struct {
	Status      int
	Header      http.Header
	Body        []byte
	CompletedAt time.Time
}

// Inflight is the handle attached callers wait on.
type Inflight struct {
	done   chan struct{}
	result *Result // set before done closes; nil means aborted
}

// Wait blocks until the primary caller resolves the entry or ctx expires.
// A nil result with nil error means the primary aborted; the caller should
// re-acquire and proceed as primary.
func (f *Inflight) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	inflight  *Inflight
	completed *Result
}

// Deduplicator is the process-wide request collapse map.
type Deduplicator struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
}

// New creates a deduplicator with the configured completed-entry TTL.
func New(cfg config.DedupConfig) *Deduplicator {
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = config.DefaultDedupTTL
	}
	return &Deduplicator{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

// Acquire registers interest in a key. Exactly one of the returns is set:
//   - completed: a fresh cached result to replay
//   - waiter:    another caller owns the key; Wait on it
//   - primary:   this caller owns the key and must Complete or Abort it
func (d *Deduplicator) Acquire(key string) (completed *Result, waiter *Inflight, primary bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		if e.completed != nil {
			if time.Since(e.completed.CompletedAt) < d.ttl {
				return e.completed, nil, false
			}
			// Expired; fall through and take ownership.
		} else if e.inflight != nil {
			return nil, e.inflight, false
		}
	}

	d.entries[key] = &entry{inflight: &Inflight{done: make(chan struct{})}}
	return nil, nil, true
}

// Complete resolves the inflight entry with a result and wakes all waiters.
// The completed entry supersedes the inflight one atomically.
func (d *Deduplicator) Complete(key string, res *Result) {
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	res.Header = stripHopByHop(res.Header)

	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.inflight == nil {
		// Completing a key we do not own is a programmer error upstream;
		// store the result anyway so retries still benefit.
		d.entries[key] = &entry{completed: res}
		d.mu.Unlock()
		log.Debug().Str("key", shortKey(key)).Msg("dedup: complete without inflight entry")
		d.scheduleExpiry(key)
		return
	}
	inflight := e.inflight
	e.inflight = nil
	e.completed = res
	d.mu.Unlock()

	inflight.result = res
	close(inflight.done)
	d.scheduleExpiry(key)
}

// Abort drops the inflight entry so a retry can proceed as a new primary.
// Waiters are woken with a nil result.
func (d *Deduplicator) Abort(key string) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.inflight == nil {
		d.mu.Unlock()
		return
	}
	inflight := e.inflight
	delete(d.entries, key)
	d.mu.Unlock()

	close(inflight.done)
}

// Len returns the number of live entries (inflight or completed).
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// scheduleExpiry removes the completed entry after the TTL.
func (d *Deduplicator) scheduleExpiry(key string) {
	time.AfterFunc(d.ttl, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if e, ok := d.entries[key]; ok && e.completed != nil && time.Since(e.completed.CompletedAt) >= d.ttl {
			delete(d.entries, key)
		}
	})
}

// stripHopByHop copies headers minus the hop-by-hop set.
func stripHopByHop(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	out := make(http.Header, len(h))
	for k, vals := range h {
		out[k] = append([]string(nil), vals...)
	}
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	return out
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
