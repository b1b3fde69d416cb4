// Peripheral endpoints: health, stats, model listing, passthrough.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/provider"
)

// writeError writes a JSON error response in the standard envelope.
func (g *Gateway) writeError(w http.ResponseWriter, msg, errType string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": errType, "status": status},
	})
}

// handleNotFound is the catch-all 404.
func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	g.writeError(w, "not found: "+r.URL.Path, "invalid_request_error", http.StatusNotFound)
}

// handleHealth reports gateway health. The plain form touches nothing and
// must answer fast; ?full=true adds provider and balance snapshots within a
// bounded timeout.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":   "ok",
		"identity": Identity,
		"version":  Version,
		"uptime":   time.Since(g.startedAt).Truncate(time.Second).String(),
	}

	if r.URL.Query().Get("full") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), config.FullHealthTimeout)
		defer cancel()
		health["providers"] = g.registry.HealthCheckAll(ctx)
		if g.balance != nil {
			health["balance_usd"] = g.balance.Snapshot()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Uptime  string           `json:"uptime"`
	Gateway map[string]int64 `json:"gateway"`
	Usage   any              `json:"usage,omitempty"`
}

// handleStats returns aggregated metrics as JSON.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Uptime:  time.Since(g.startedAt).Truncate(time.Second).String(),
		Gateway: g.metrics.Stats(),
	}
	if g.stats != nil {
		report, err := g.stats.Aggregate()
		if err != nil {
			log.Warn().Err(err).Msg("stats: aggregate failed")
		} else {
			resp.Usage = report
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// modelEntry is one row of the /v1/models listing.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels serves the catalog locally in the upstream list envelope.
// The synthetic auto entry is excluded; no upstream call is made.
func (g *Gateway) handleModels(w http.ResponseWriter, _ *http.Request) {
	models := g.catalog.Listable()
	entries := make([]modelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, modelEntry{
			ID:      m.ID,
			Object:  "model",
			Created: g.startedAt.Unix(),
			OwnedBy: m.Family,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// handlePassthrough forwards unrecognized /v1 endpoints to the primary
// provider unchanged.
func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	primary, ok := g.registry.Primary()
	if !ok {
		g.writeError(w, "no providers configured", "provider_error", http.StatusBadGateway)
		return
	}
	forwarder, ok := primary.(*provider.HTTPProvider)
	if !ok {
		g.writeError(w, "primary provider cannot forward", "provider_error", http.StatusBadGateway)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(g.cfg.Proxy.MaxBodyBytes))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, "failed to read request", "invalid_request_error", http.StatusBadRequest)
		return
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	// Providers mount under their /v1-style base URL already.
	path = trimV1(path)

	resp, err := forwarder.Forward(r.Context(), r.Method, path, body, r.Header)
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("passthrough failed")
		g.writeError(w, "upstream request failed", "provider_error", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w, resp.Header)
	w.WriteHeader(resp.Status)
	_, _ = io.Copy(w, resp.Body)
}

// trimV1 drops the /v1 segment the provider base URL already carries.
func trimV1(path string) string {
	if path == "/v1" {
		return "/"
	}
	if len(path) > 3 && path[:4] == "/v1/" {
		return path[3:]
	}
	return path
}

// copyHeaders copies HTTP headers from source to destination, skipping
// hop-by-hop entries.
func copyHeaders(w http.ResponseWriter, src http.Header) {
	for k, vals := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Transfer-Encoding", "Connection", "Content-Encoding", "Keep-Alive", "Content-Length":
			continue
		}
		w.Header()[k] = vals
	}
}
