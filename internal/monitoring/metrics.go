// Lightweight in-memory counters for operational metrics.
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	requests         atomic.Int64
	successes        atomic.Int64
	dedupHits        atomic.Int64
	dedupJoins       atomic.Int64
	fallbacks        atomic.Int64
	sessionPinHits   atomic.Int64
	streamingClients atomic.Int64
	heartbeatsSent   atomic.Int64
	upstreamAttempts atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records one completed client request.
func (mc *MetricsCollector) RecordRequest(success bool) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordDedupHit counts a replay from the completed cache.
func (mc *MetricsCollector) RecordDedupHit() { mc.dedupHits.Add(1) }

// RecordDedupJoin counts a caller attached to an inflight request.
func (mc *MetricsCollector) RecordDedupJoin() { mc.dedupJoins.Add(1) }

// RecordFallback counts a request that moved past its first model.
func (mc *MetricsCollector) RecordFallback() { mc.fallbacks.Add(1) }

// RecordSessionPinHit counts a routing decision served from a session pin.
func (mc *MetricsCollector) RecordSessionPinHit() { mc.sessionPinHits.Add(1) }

// RecordStreamingClient counts a client that asked for SSE.
func (mc *MetricsCollector) RecordStreamingClient() { mc.streamingClients.Add(1) }

// RecordHeartbeat counts one SSE heartbeat frame.
func (mc *MetricsCollector) RecordHeartbeat() { mc.heartbeatsSent.Add(1) }

// RecordUpstreamAttempt counts one upstream call.
func (mc *MetricsCollector) RecordUpstreamAttempt() { mc.upstreamAttempts.Add(1) }

// StartedAt returns when the collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":          mc.requests.Load(),
		"successes":         mc.successes.Load(),
		"dedup_hits":        mc.dedupHits.Load(),
		"dedup_joins":       mc.dedupJoins.Load(),
		"fallbacks":         mc.fallbacks.Load(),
		"session_pin_hits":  mc.sessionPinHits.Load(),
		"streaming_clients": mc.streamingClients.Load(),
		"heartbeats_sent":   mc.heartbeatsSent.Load(),
		"upstream_attempts": mc.upstreamAttempts.Load(),
	}
}
