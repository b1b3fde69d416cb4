// Package gateway is the HTTP front: it accepts OpenAI-compatible chat
// requests, routes them to the cheapest capable model, and translates the
// upstream response into what the client asked for.
//
// DESIGN: Request flow:
//   - handleChatCompletions(): entry point for /v1/chat/completions
//   - resolveModel():          auto-routing (session pin -> scorer -> chain)
//   - executeChain():          fallback loop over (model, provider) attempts
//   - streamWriter:            SSE synthesis + heartbeat, one mutex per conn
//
// All collaborators arrive via the constructor; a test can build a gateway
// from a fresh catalog/registry/store set with no process-wide state.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/balance"
	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/dedup"
	"github.com/blockrun/blockrun-gateway/internal/monitoring"
	"github.com/blockrun/blockrun-gateway/internal/provider"
	"github.com/blockrun/blockrun-gateway/internal/routing"
	"github.com/blockrun/blockrun-gateway/internal/session"
	"github.com/blockrun/blockrun-gateway/internal/tokenizer"
)

// Identity is the gateway id reported on /health.
const Identity = "blockrun-gateway"

// Version is stamped into the User-Agent on upstream requests.
var Version = "dev"

// providerPrefix is the synthetic prefix clients may use on model names.
const providerPrefix = "blockrun/"

// baselineModelID prices the "no routing" alternative for savings reporting.
const baselineModelID = "anthropic/claude-opus-4"

// Deps are the gateway's collaborators. Catalog and Registry are required;
// the rest default to working in-memory instances (or stay off when
// optional).
type Deps struct {
	Catalog   *catalog.Catalog
	Registry  *provider.Registry
	Sessions  *session.Store
	Dedup     *dedup.Deduplicator
	Estimator *tokenizer.Estimator
	Usage     *monitoring.Emitter
	Stats     *monitoring.SQLStore        // optional: backs GET /stats
	LiveFeed  *monitoring.LiveFeed        // optional: GET /stats/live
	Metrics   *monitoring.MetricsCollector
	Balance   balance.Policy // optional: veto + spend notification
}

// Gateway orchestrates the request pipeline.
type Gateway struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	registry  *provider.Registry
	scorer    *routing.Scorer
	selector  *routing.Selector
	sessions  *session.Store
	dedup     *dedup.Deduplicator
	estimator *tokenizer.Estimator
	usage     *monitoring.Emitter
	stats     *monitoring.SQLStore
	liveFeed  *monitoring.LiveFeed
	metrics   *monitoring.MetricsCollector
	balance   balance.Policy
	baseline  catalog.Model
	startedAt time.Time
}

// New wires a gateway from config and collaborators.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("gateway: catalog is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("gateway: provider registry is required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(cfg.Session)
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(cfg.Dedup)
	}
	if deps.Estimator == nil {
		deps.Estimator = tokenizer.NewEstimator()
	}
	if deps.Usage == nil {
		deps.Usage = monitoring.NewEmitter()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}

	baseline, ok := deps.Catalog.Get(baselineModelID)
	if !ok {
		// Custom catalogs may omit the builtin baseline; savings then
		// report as zero.
		log.Warn().Str("model", baselineModelID).Msg("gateway: baseline model not in catalog")
	}

	return &Gateway{
		cfg:       cfg,
		catalog:   deps.Catalog,
		registry:  deps.Registry,
		scorer:    routing.NewScorer(cfg.Routing),
		selector:  routing.NewSelector(deps.Catalog, cfg.Routing, cfg.Fallback),
		sessions:  deps.Sessions,
		dedup:     deps.Dedup,
		estimator: deps.Estimator,
		usage:     deps.Usage,
		stats:     deps.Stats,
		liveFeed:  deps.LiveFeed,
		metrics:   deps.Metrics,
		balance:   deps.Balance,
		baseline:  baseline,
		startedAt: time.Now(),
	}, nil
}

// Handler builds the HTTP mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	if g.liveFeed != nil {
		mux.Handle("/stats/live", g.liveFeed)
	}
	mux.HandleFunc("/v1/models", g.handleModels)
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/v1/", g.handlePassthrough)
	mux.HandleFunc("/", g.handleNotFound)
	return mux
}

// Server returns a configured http.Server for the gateway.
func (g *Gateway) Server() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", g.cfg.Proxy.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      config.DefaultServerWriteTimeout,
	}
}

// Shutdown releases gateway resources: sessions, providers, usage sinks.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.sessions.Close()
	g.registry.CleanupAll()
	g.usage.Close()
	if g.stats != nil {
		if err := g.stats.Close(); err != nil {
			log.Warn().Err(err).Msg("gateway: usage store close failed")
		}
	}
	if g.liveFeed != nil {
		_ = g.liveFeed.Close()
	}
	_ = ctx
}

// requestID returns the inbound X-Request-ID or generates one.
func (g *Gateway) requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// userAgent is attached to every upstream request.
func userAgent() string {
	return Identity + "/" + Version
}

// stripProviderPrefix removes the synthetic blockrun/ prefix, if present.
func stripProviderPrefix(model string) string {
	return strings.TrimPrefix(model, providerPrefix)
}
