// Provider registry: lookup by id, enumeration by priority, health fan-out.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the provider instances registered at startup.
// Read-mostly; registration happens before the listener starts.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Provider
	providers []Provider // registration order, for stable tie-breaking
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Provider)}
}

// Register adds a provider. Fails if the id is already present.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[p.ID()]; dup {
		return fmt.Errorf("provider %q already registered", p.ID())
	}
	r.byID[p.ID()] = p
	r.providers = append(r.providers, p)
	return nil
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// All returns providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.providers...)
}

// ByPriority returns providers in descending priority; registration order
// breaks ties.
func (r *Registry) ByPriority() []Provider {
	out := r.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// ForModel returns the providers serving a model id, best first.
func (r *Registry) ForModel(modelID string) []Provider {
	candidates := r.ByPriority()
	out := make([]Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.IsAvailable(modelID) {
			out = append(out, p)
		}
	}
	return out
}

// Primary returns the highest-priority provider, used for transparent
// passthrough of non-chat endpoints.
func (r *Registry) Primary() (Provider, bool) {
	byPriority := r.ByPriority()
	if len(byPriority) == 0 {
		return nil, false
	}
	return byPriority[0], true
}

// HealthCheckAll fans out health probes with per-provider error isolation.
// Never fails; a panicking provider reports unhealthy.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	providers := r.All()
	results := make(map[string]bool, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			healthy := false
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						log.Error().Str("provider", p.ID()).Interface("panic", rec).
							Msg("registry: health check panic")
					}
				}()
				healthy = p.HealthCheck(ctx)
			}()
			mu.Lock()
			results[p.ID()] = healthy
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}

// CleanupAll releases provider resources. Idempotent, best-effort.
func (r *Registry) CleanupAll() {
	for _, p := range r.All() {
		if err := p.Cleanup(); err != nil {
			log.Warn().Err(err).Str("provider", p.ID()).Msg("registry: cleanup failed")
		}
	}
}
