// Package session pins auto-routed conversations to one model.
//
// DESIGN: In-memory TTL store keyed by the client-supplied session id.
// A pin is created on the first auto request of a conversation and refreshed
// on every later hit, so multi-turn conversations keep one model instead of
// flapping between tiers as the prompt mix changes.
//
// Eviction: a background sweep drops pins idle past the TTL; when the store
// is full, the least-recently-used pin makes room.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/routing"
)

// Pin is one remembered (session -> model) mapping.
type Pin struct {
	SessionID  string
	Model      string
	Tier       routing.Tier
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store manages session pins with automatic TTL cleanup.
type Store struct {
	mu         sync.Mutex
	pins       map[string]*Pin
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewStore creates a pin store and starts its eviction sweep.
func NewStore(cfg config.SessionConfig) *Store {
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultMaxSessions
	}
	s := &Store{
		pins:       make(map[string]*Pin),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go s.sweepLoop(config.DefaultSessionSweepInterval)
	return s
}

// GetPinned returns the pin for a session and refreshes its last-used time.
func (s *Store) GetPinned(sessionID string) (Pin, bool) {
	if sessionID == "" {
		return Pin{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pin, ok := s.pins[sessionID]
	if !ok {
		return Pin{}, false
	}
	if time.Since(pin.LastUsedAt) > s.ttl {
		delete(s.pins, sessionID)
		return Pin{}, false
	}
	pin.LastUsedAt = time.Now()
	return *pin, true
}

// Pin creates or replaces the pin for a session.
func (s *Store) Pin(sessionID, model string, tier routing.Tier) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.pins[sessionID]; ok {
		existing.Model = model
		existing.Tier = tier
		existing.LastUsedAt = now
		return
	}

	if len(s.pins) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.pins[sessionID] = &Pin{
		SessionID:  sessionID,
		Model:      model,
		Tier:       tier,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

// Len returns the current pin count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins)
}

// Close stops the eviction sweep. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// evictOldestLocked removes the least-recently-used pin. Caller holds mu.
func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, pin := range s.pins {
		if oldestID == "" || pin.LastUsedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = pin.LastUsedAt
		}
	}
	if oldestID != "" {
		delete(s.pins, oldestID)
		log.Debug().Str("session_id", oldestID).Msg("session: evicted LRU pin, store full")
	}
}

// sweepLoop periodically removes expired pins.
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep removes pins idle past the TTL.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.ttl)
	for id, pin := range s.pins {
		if pin.LastUsedAt.Before(cutoff) {
			delete(s.pins, id)
		}
	}
}

// ExtractID returns the first non-empty value among the configured header
// names. Header lookup is provided by the caller to keep this package off
// net/http.
func ExtractID(headerNames []string, get func(string) string) string {
	for _, name := range headerNames {
		if v := get(name); v != "" {
			return v
		}
	}
	return ""
}
