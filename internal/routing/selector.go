// Fallback-chain selection: (tier, constraints) -> ordered model ids.
package routing

import (
	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
)

// builtinTiers is the shipped tier -> chain table: the cheapest capable
// primary per tier, with pricier or alternate-family fallbacks behind it.
var builtinTiers = map[Tier]config.TierConfig{
	TierSimple: {
		Primary:  "google/gemini-2.0-flash-lite",
		Fallback: []string{"openai/gpt-4.1-nano", "meta/llama-3.1-8b", "anthropic/claude-3-haiku"},
	},
	TierMedium: {
		Primary:  "openai/gpt-4o-mini",
		Fallback: []string{"google/gemini-2.5-flash", "deepseek/deepseek-chat", "mistral/mistral-small"},
	},
	TierComplex: {
		Primary:  "anthropic/claude-sonnet-4",
		Fallback: []string{"openai/gpt-4.1", "google/gemini-2.5-pro", "mistral/mistral-large"},
	},
	TierReasoning: {
		Primary:  "deepseek/deepseek-reasoner",
		Fallback: []string{"openai/o4-mini", "anthropic/claude-opus-4", "xai/grok-3"},
	},
}

// DefaultLastResort backs an otherwise-empty chain.
const DefaultLastResort = "openai/gpt-4o-mini"

// Selector builds fallback chains. Read-only after construction.
type Selector struct {
	catalog     *catalog.Catalog
	tiers       map[Tier]config.TierConfig
	maxAttempts int
	lastResort  string
}

// NewSelector merges config tier overrides over the builtin table.
// Tier ids that don't resolve in the catalog are dropped at chain time, not
// here, so a partial override cannot take the gateway down.
func NewSelector(cat *catalog.Catalog, cfg config.RoutingConfig, fallback config.FallbackConfig) *Selector {
	tiers := make(map[Tier]config.TierConfig, len(builtinTiers))
	for tier, tc := range builtinTiers {
		tiers[tier] = tc
	}
	for name, tc := range cfg.Tiers {
		tier := Tier(name)
		if !tier.Valid() {
			log.Warn().Str("tier", name).Msg("selector: unknown tier in config, ignoring")
			continue
		}
		merged := tiers[tier]
		if tc.Primary != "" {
			merged.Primary = tc.Primary
		}
		if len(tc.Fallback) > 0 {
			merged.Fallback = tc.Fallback
		}
		tiers[tier] = merged
	}

	maxAttempts := fallback.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxFallbackAttempts
	}
	lastResort := cfg.LastResort
	if lastResort == "" {
		lastResort = DefaultLastResort
	}
	return &Selector{
		catalog:     cat,
		tiers:       tiers,
		maxAttempts: maxAttempts,
		lastResort:  lastResort,
	}
}

// Primary returns the configured primary model for a tier.
func (s *Selector) Primary(tier Tier) string {
	return s.tiers[tier].Primary
}

// Chain returns the ordered, bounded model chain for one request.
// Deterministic: equal inputs produce equal chains.
func (s *Selector) Chain(tier Tier, c Constraints) []string {
	tc := s.tiers[tier]

	candidates := make([]string, 0, 2+len(tc.Fallback))
	if c.SessionPin != "" {
		candidates = append(candidates, c.SessionPin)
	}
	if tc.Primary != "" {
		candidates = append(candidates, tc.Primary)
	}
	candidates = append(candidates, tc.Fallback...)

	chain := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		id = s.catalog.ResolveAlias(id)
		if seen[id] {
			continue
		}
		seen[id] = true

		m, ok := s.catalog.Get(id)
		if !ok {
			log.Warn().Str("model", id).Msg("selector: unknown model in chain, dropping")
			continue
		}
		if m.IsAuto() {
			continue
		}
		// Models that cannot fit the input would fail upstream with a
		// predictable 4xx; filter them here instead.
		if c.EstimatedTokens > 0 && m.ContextWindow > 0 && m.ContextWindow < c.EstimatedTokens {
			log.Debug().Str("model", id).Int("window", m.ContextWindow).
				Int("estimated", c.EstimatedTokens).Msg("selector: context window too small")
			continue
		}
		chain = append(chain, id)
	}

	if c.WantsTools {
		chain = stablePartition(chain, func(id string) bool {
			m, _ := s.catalog.Get(id)
			return m.Caps.Tools
		})
	}
	if c.PreferAgentic {
		chain = stablePartition(chain, func(id string) bool {
			m, _ := s.catalog.Get(id)
			return m.Caps.Agentic
		})
	}

	if len(chain) > s.maxAttempts {
		chain = chain[:s.maxAttempts]
	}
	if len(chain) == 0 {
		log.Warn().Str("tier", string(tier)).Msg("selector: empty chain, using last resort")
		chain = append(chain, s.lastResort)
	}
	return chain
}

// stablePartition keeps matching elements first, preserving relative order
// within both halves.
func stablePartition(ids []string, keep func(string) bool) []string {
	head := make([]string, 0, len(ids))
	tail := make([]string, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			head = append(head, id)
		} else {
			tail = append(tail, id)
		}
	}
	return append(head, tail...)
}
