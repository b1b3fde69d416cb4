// Model resolution: explicit names, aliases, and auto routing.
package gateway

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/routing"
	"github.com/blockrun/blockrun-gateway/internal/session"
)

// resolution is the outcome of model resolution for one request.
type resolution struct {
	decision  routing.Decision
	chain     []string
	sessionID string
}

// errUnknownModel is surfaced as a 400; explicit model names must resolve.
type errUnknownModel struct{ model string }

func (e *errUnknownModel) Error() string {
	return fmt.Sprintf("unknown model %q", e.model)
}

// resolveModel turns the request's model field into a routing decision and
// fallback chain. Auto requests consult the session pin, then the scorer.
func (g *Gateway) resolveModel(body []byte, r *http.Request) (*resolution, error) {
	raw := gjson.GetBytes(body, "model").String()
	logical := stripProviderPrefix(strings.ToLower(strings.TrimSpace(raw)))

	wantsTools := gjson.GetBytes(body, "tools").IsArray()
	lastUser, firstSystem, allText := extractPromptParts(body)
	approxTokens := g.estimator.Estimate(allText)

	if logical != catalog.AutoModelID {
		return g.resolveExplicit(logical, wantsTools, approxTokens)
	}

	sessionID := session.ExtractID(g.cfg.SessionHeaderNames(), r.Header.Get)

	// A pinned session keeps its model for the whole conversation.
	if pin, ok := g.sessions.GetPinned(sessionID); ok {
		g.metrics.RecordSessionPinHit()
		chain := g.selector.Chain(pin.Tier, routing.Constraints{
			EstimatedTokens: approxTokens,
			WantsTools:      wantsTools,
			SessionPin:      pin.Model,
		})
		return &resolution{
			decision: routing.Decision{
				Model:      chain[0],
				Tier:       pin.Tier,
				Confidence: 1.0,
				Method:     routing.MethodSession,
				Reasoning:  "session pin",
			},
			chain:     chain,
			sessionID: sessionID,
		}, nil
	}

	result := g.scorer.Classify(lastUser, firstSystem, approxTokens)

	tier := result.Tier
	method := routing.MethodRules
	reasoning := result.Reasoning
	if result.Ambiguous() {
		tier = routing.Tier(g.cfg.Routing.Classifier.DefaultTier)
		if !tier.Valid() {
			tier = routing.TierSimple
		}
		reasoning = fmt.Sprintf("%s; default tier applied", result.Reasoning)
	}
	// Overrides recorded by the scorer as signals.
	if slices.Contains(result.Signals, "structured_output") {
		tier = tier.AtLeast(routing.TierMedium)
	}
	if slices.Contains(result.Signals, "large_context") {
		tier = routing.TierComplex
		method = routing.MethodOverride
	}

	chain := g.selector.Chain(tier, routing.Constraints{
		EstimatedTokens: approxTokens,
		WantsTools:      wantsTools,
		PreferAgentic:   result.PreferAgentic,
	})

	if sessionID != "" {
		g.sessions.Pin(sessionID, chain[0], tier)
	}

	log.Debug().Str("tier", string(tier)).Float64("score", result.Score).
		Float64("confidence", result.Confidence).Strs("chain", chain).
		Msg("routing: classified")

	return &resolution{
		decision: routing.Decision{
			Model:      chain[0],
			Tier:       tier,
			Confidence: result.Confidence,
			Method:     method,
			Reasoning:  reasoning,
		},
		chain:     chain,
		sessionID: sessionID,
	}, nil
}

// resolveExplicit handles a client-named model: alias resolution, catalog
// check, and a chain built behind the named model.
func (g *Gateway) resolveExplicit(logical string, wantsTools bool, approxTokens int) (*resolution, error) {
	resolved := g.catalog.ResolveAlias(logical)
	m, ok := g.catalog.Get(resolved)
	if !ok || m.IsAuto() {
		return nil, &errUnknownModel{model: logical}
	}

	tier := tierForModel(m)
	chain := g.selector.Chain(tier, routing.Constraints{
		EstimatedTokens: approxTokens,
		WantsTools:      wantsTools,
		SessionPin:      resolved,
	})

	return &resolution{
		decision: routing.Decision{
			Model:      chain[0],
			Tier:       tier,
			Confidence: 1.0,
			Method:     routing.MethodOverride,
			Reasoning:  "explicit model request",
		},
		chain: chain,
	}, nil
}

// tierForModel buckets an explicitly-named model for usage reporting and
// fallback selection.
func tierForModel(m catalog.Model) routing.Tier {
	switch {
	case m.Caps.Reasoning:
		return routing.TierReasoning
	case m.InputPerMTok >= 2:
		return routing.TierComplex
	case m.InputPerMTok >= 0.25:
		return routing.TierMedium
	default:
		return routing.TierSimple
	}
}

// costEstimates prices the decision against the baseline for savings
// reporting.
func (g *Gateway) costEstimates(decision *routing.Decision, bodyLen, maxTokens int) {
	m, ok := g.catalog.Get(decision.Model)
	if !ok {
		return
	}
	inputTokens := bodyLen / 4
	outputTokens := maxTokens / 2
	decision.CostEstimate = catalog.EstimateCost(m, inputTokens, outputTokens)
	if g.baseline.ID != "" {
		decision.BaselineCost = catalog.EstimateCost(g.baseline, inputTokens, outputTokens)
	}
	if decision.BaselineCost > 0 {
		savings := 1 - decision.CostEstimate/decision.BaselineCost
		if savings < 0 {
			savings = 0
		}
		if savings > 1 {
			savings = 1
		}
		decision.Savings = savings
	}
}
