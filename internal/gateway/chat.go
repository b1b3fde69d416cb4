// The /v1/chat/completions pipeline.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/blockrun/blockrun-gateway/internal/balance"
	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/dedup"
	"github.com/blockrun/blockrun-gateway/internal/monitoring"
	"github.com/blockrun/blockrun-gateway/internal/provider"
	"github.com/blockrun/blockrun-gateway/internal/routing"
)

// defaultMaxTokens applies when the request omits max_tokens.
const defaultMaxTokens = 4096

// attempt is one (model, provider) pair in the flattened fallback list.
type attempt struct {
	model string
	prov  provider.Provider
}

// handleChatCompletions is the main request path.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := g.requestID(r)

	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", "invalid_request_error", http.StatusMethodNotAllowed)
		return
	}

	// Read the whole body; the dedup key and the forwarded payload both
	// need the exact bytes.
	r.Body = http.MaxBytesReader(w, r.Body, int64(g.cfg.Proxy.MaxBodyBytes))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.writeError(w, "request body too large", "invalid_request_error", http.StatusRequestEntityTooLarge)
			return
		}
		g.writeError(w, "failed to read request", "invalid_request_error", http.StatusBadRequest)
		return
	}

	// Dedup: identical bodies overlapping in time share one upstream call.
	key := dedup.Key(body)
	for {
		completed, waiter, primary := g.dedup.Acquire(key)
		if completed != nil {
			g.metrics.RecordDedupHit()
			log.Debug().Str("request_id", requestID).Msg("dedup: replaying completed response")
			replayResult(w, completed)
			return
		}
		if primary {
			break
		}
		g.metrics.RecordDedupJoin()
		res, waitErr := waiter.Wait(r.Context())
		if waitErr != nil {
			// Client gave up while attached; nothing to clean up.
			return
		}
		if res != nil {
			replayResult(w, res)
			return
		}
		// The primary aborted; retry acquisition.
	}

	// From here this request owns the dedup key.
	g.processChat(w, r, body, key, requestID, startTime)
}

// processChat runs the pipeline for the dedup primary.
func (g *Gateway) processChat(w http.ResponseWriter, r *http.Request, body []byte, key, requestID string, startTime time.Time) {
	if !gjson.ValidBytes(body) {
		g.dedup.Abort(key)
		g.writeError(w, "invalid JSON body", "invalid_request_error", http.StatusBadRequest)
		return
	}

	clientWantsStreaming := gjson.GetBytes(body, "stream").Bool()
	maxTokens := defaultMaxTokens
	if mt := gjson.GetBytes(body, "max_tokens"); mt.Exists() && mt.Int() > 0 {
		maxTokens = int(mt.Int())
	}

	res, err := g.resolveModel(body, r)
	if err != nil {
		g.dedup.Abort(key)
		var unknown *errUnknownModel
		if errors.As(err, &unknown) {
			g.writeError(w, unknown.Error(), "invalid_request_error", http.StatusBadRequest)
			return
		}
		g.writeError(w, "failed to route request", "gateway_error", http.StatusInternalServerError)
		return
	}
	decision := res.decision

	// The upstream never streams; the gateway synthesizes SSE itself.
	forwardBody, _ := sjson.SetBytes(body, "stream", false)

	// Provider-specific message shape fixes, then tool-id sanitization.
	if m, ok := g.catalog.Get(decision.Model); ok {
		forwardBody = NormalizeLeadingMessages(forwardBody, m.Family)
	}
	forwardBody = SanitizeToolIDs(forwardBody)

	// Balance veto before any upstream spend.
	if g.balance != nil {
		g.costEstimates(&decision, len(forwardBody), maxTokens)
		if err := g.balance.Check(decision.CostEstimate); err != nil {
			g.dedup.Abort(key)
			var insufficient *balance.ErrInsufficient
			if errors.As(err, &insufficient) {
				g.writeError(w, insufficient.Error(), "billing_error", http.StatusPaymentRequired)
				return
			}
			g.writeError(w, err.Error(), "billing_error", http.StatusPaymentRequired)
			return
		}
	}

	var sw *streamWriter
	if clientWantsStreaming {
		g.metrics.RecordStreamingClient()
		sw = newStreamWriter(w, g.metrics)
		sw.begin(g.cfg.Heartbeat.Interval())
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Proxy.RequestTimeout())
	defer cancel()

	resp, lastErr := g.executeChain(ctx, res.chain, forwardBody, r.Header, &decision, requestID)

	if sw != nil {
		sw.stop()
	}

	// Client disconnects abort silently: release the key so a retry can
	// proceed, skip accounting.
	if r.Context().Err() != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		g.dedup.Abort(key)
		log.Debug().Str("request_id", requestID).Msg("chat: client disconnected")
		return
	}

	if resp == nil {
		g.finishWithError(w, sw, key, requestID, &decision, startTime, ctx, lastErr)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if sw != nil {
		g.finishStreaming(w, sw, resp, key, requestID, &decision, startTime, maxTokens, len(forwardBody))
	} else {
		g.finishBuffered(w, resp, key, requestID, &decision, startTime, maxTokens, len(forwardBody))
	}
}

// executeChain runs the fallback loop: (model, provider) attempts in chain
// order, bounded by maxAttempts and one shared deadline.
func (g *Gateway) executeChain(ctx context.Context, chain []string, body []byte, clientHeader http.Header,
	decision *routing.Decision, requestID string) (*provider.Response, error) {

	attempts := g.flattenAttempts(chain)
	if len(attempts) == 0 {
		return nil, &provider.ProviderError{
			Kind:      provider.KindCapacity,
			Retryable: false,
			Err:       errors.New("no provider serves any model in the chain"),
		}
	}

	header := http.Header{}
	for k, vals := range clientHeader {
		header[k] = vals
	}
	header.Set("User-Agent", userAgent())

	var lastErr error
	for i, a := range attempts {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		g.metrics.RecordUpstreamAttempt()
		decision.Attempts = i + 1
		log.Debug().Str("request_id", requestID).Str("model", a.model).
			Str("provider", a.prov.ID()).Int("attempt", i+1).Msg("chat: upstream attempt")

		resp, err := a.prov.Execute(ctx, &provider.Request{
			Model:  a.model,
			Body:   body,
			Header: header,
		})
		if err == nil {
			if a.model != decision.Model {
				decision.Model = a.model
				decision.Method = routing.MethodFallback
				g.metrics.RecordFallback()
			}
			return resp, nil
		}

		lastErr = err
		var provErr *provider.ProviderError
		if errors.As(err, &provErr) && provErr.Retryable && i < len(attempts)-1 {
			log.Info().Str("request_id", requestID).Str("model", a.model).
				Str("provider", a.prov.ID()).Str("kind", provErr.Kind).
				Msg("chat: retryable provider error, trying next model")
			continue
		}
		break
	}
	return nil, lastErr
}

// flattenAttempts expands a model chain into (model, provider) pairs in
// priority order, bounded by the configured attempt budget.
func (g *Gateway) flattenAttempts(chain []string) []attempt {
	max := g.cfg.Fallback.MaxAttempts
	if max <= 0 {
		max = config.DefaultMaxFallbackAttempts
	}

	attempts := make([]attempt, 0, max)
	for _, model := range chain {
		for _, p := range g.registry.ForModel(model) {
			attempts = append(attempts, attempt{model: model, prov: p})
			if len(attempts) == max {
				return attempts
			}
		}
	}
	return attempts
}

// finishBuffered completes a non-streaming request: the upstream JSON is
// forwarded verbatim, buffered for dedup replay when small enough.
func (g *Gateway) finishBuffered(w http.ResponseWriter, resp *provider.Response, key, requestID string,
	decision *routing.Decision, startTime time.Time, maxTokens, bodyLen int) {

	buffered, overflow := readBounded(resp.Body, config.MaxCacheableResponseSize)

	copyHeaders(w, resp.Header)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(buffered)

	if overflow != nil {
		// Too large to cache: stream the rest through and release the key.
		_, _ = io.Copy(w, overflow)
		g.dedup.Abort(key)
	} else {
		g.dedup.Complete(key, &dedup.Result{
			Status: resp.Status,
			Header: resp.Header,
			Body:   buffered,
		})
	}

	g.completeAccounting(requestID, decision, startTime, maxTokens, bodyLen, resp.Status)
}

// finishStreaming synthesizes the SSE stream from the buffered upstream
// JSON and caches the produced frames for dedup replay.
func (g *Gateway) finishStreaming(_ http.ResponseWriter, sw *streamWriter, resp *provider.Response,
	key, requestID string, decision *routing.Decision, startTime time.Time, maxTokens, bodyLen int) {

	buffered, overflow := readBounded(resp.Body, config.MaxCacheableResponseSize)
	if overflow != nil {
		// A non-streaming chat completion this large is pathological;
		// refuse rather than synthesize from a truncated document.
		_, _ = io.Copy(io.Discard, overflow)
		sw.writeStreamError("upstream response too large", http.StatusBadGateway)
		g.dedup.Abort(key)
		g.completeAccounting(requestID, decision, startTime, maxTokens, bodyLen, http.StatusBadGateway)
		return
	}

	sw.synthesizeSSE(buffered)

	g.dedup.Complete(key, &dedup.Result{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":  {"text/event-stream"},
			"Cache-Control": {"no-cache"},
		},
		Body: sw.recordedBytes(),
	})

	g.completeAccounting(requestID, decision, startTime, maxTokens, bodyLen, http.StatusOK)
}

// finishWithError surfaces the terminal failure and caches it so a
// retrying client sees the same outcome.
func (g *Gateway) finishWithError(w http.ResponseWriter, sw *streamWriter, key, requestID string,
	decision *routing.Decision, startTime time.Time, ctx context.Context, lastErr error) {

	status := http.StatusBadGateway
	msg := "upstream request failed"
	var upstreamBody []byte

	var provErr *provider.ProviderError
	if errors.As(lastErr, &provErr) {
		if provErr.Status > 0 {
			status = provErr.Status
			upstreamBody = provErr.Body
		}
		msg = provErr.Error()
	}
	if ctx.Err() != nil {
		status = http.StatusBadGateway
		msg = "request deadline exceeded"
		upstreamBody = nil
	}

	log.Warn().Str("request_id", requestID).Int("status", status).
		Int("attempts", decision.Attempts).Str("error", msg).
		Msg("chat: all attempts failed")

	if sw != nil {
		sw.writeStreamError(msg, status)
		g.dedup.Complete(key, &dedup.Result{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"text/event-stream"}},
			Body:   sw.recordedBytes(),
		})
	} else if len(upstreamBody) > 0 {
		// The upstream produced a definitive error document; forward it
		// verbatim so the client sees what the provider said.
		header := http.Header{"Content-Type": {"application/json"}}
		copyHeaders(w, header)
		w.WriteHeader(status)
		_, _ = w.Write(upstreamBody)
		g.dedup.Complete(key, &dedup.Result{Status: status, Header: header, Body: upstreamBody})
	} else {
		g.writeError(w, msg, "provider_error", status)
		envelope, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": msg, "type": "provider_error"},
		})
		g.dedup.Complete(key, &dedup.Result{
			Status: status,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   envelope,
		})
	}

	g.metrics.RecordRequest(false)
	g.emitUsage(requestID, decision, startTime, status)
}

// completeAccounting emits usage and notifies the balance policy after a
// successful completion.
func (g *Gateway) completeAccounting(requestID string, decision *routing.Decision,
	startTime time.Time, maxTokens, bodyLen, status int) {

	g.costEstimates(decision, bodyLen, maxTokens)
	g.metrics.RecordRequest(status < 400)
	g.emitUsage(requestID, decision, startTime, status)

	if g.balance != nil && status < 400 {
		g.balance.NotifySpend(decision.CostEstimate)
	}
}

// emitUsage fires the usage event for this request. Exactly once per
// fully-completed request.
func (g *Gateway) emitUsage(requestID string, decision *routing.Decision, startTime time.Time, status int) {
	g.usage.Emit(&monitoring.UsageEvent{
		Timestamp:    startTime,
		RequestID:    requestID,
		Model:        decision.Model,
		Tier:         string(decision.Tier),
		Method:       decision.Method,
		Confidence:   decision.Confidence,
		CostEstimate: decision.CostEstimate,
		BaselineCost: decision.BaselineCost,
		Savings:      decision.Savings,
		LatencyMs:    time.Since(startTime).Milliseconds(),
		Attempts:     decision.Attempts,
		StatusCode:   status,
	})
}

// replayResult writes a cached dedup result to a new client.
func replayResult(w http.ResponseWriter, res *dedup.Result) {
	copyHeaders(w, res.Header)
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

// readBounded reads up to limit bytes. When the source is larger, the
// buffered prefix and a reader for the remainder are both returned.
func readBounded(r io.Reader, limit int) ([]byte, io.Reader) {
	buffered, err := io.ReadAll(io.LimitReader(r, int64(limit)))
	if err != nil {
		return buffered, nil
	}
	// Peek one byte to learn whether the source overflowed the limit.
	var probe [1]byte
	n, _ := r.Read(probe[:])
	if n == 0 {
		return buffered, nil
	}
	return buffered, io.MultiReader(bytes.NewReader(probe[:n]), r)
}
