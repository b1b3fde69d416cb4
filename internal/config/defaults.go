// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer encoding is unavailable.
const TokenEstimateRatio = 4

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultPort is the TCP port for the gateway listener.
const DefaultPort = 8402

// DefaultRequestTimeout is the overall per-request deadline. The fallback
// loop shares this single deadline; individual attempts do not get their own.
const DefaultRequestTimeout = 3 * time.Minute

// DefaultDialTimeout is the TCP dial timeout for upstream connections.
const DefaultDialTimeout = 30 * time.Second

// MaxRequestBodySize is the maximum allowed request body (4MB).
const MaxRequestBodySize = 4 * 1024 * 1024

// MaxCacheableResponseSize caps upstream bodies buffered for dedup replay (8MB).
const MaxCacheableResponseSize = 8 * 1024 * 1024

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxErrorBodyLogLen limits error response bodies in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// ROUTING
// =============================================================================

// DefaultConfidenceThreshold is the minimum scorer confidence to accept a tier.
const DefaultConfidenceThreshold = 0.7

// DefaultReasoningConfidence is the confidence floor applied when the
// reasoning-marker override fires.
const DefaultReasoningConfidence = 0.97

// DefaultLargeContextTokens forces the COMPLEX tier above this prompt size.
const DefaultLargeContextTokens = 100_000

// DefaultMaxFallbackAttempts bounds the models tried per request.
const DefaultMaxFallbackAttempts = 3

// DefaultAmbiguousTier is applied when the scorer declines to pick a tier.
// Low by default: ambiguous prompts get the cheap path, overrides and
// explicit model names get the expensive one.
const DefaultAmbiguousTier = "SIMPLE"

// DefaultCalibrationK is the logistic calibration steepness.
const DefaultCalibrationK = 8.0

// DefaultCalibrationMidpoint is the logistic calibration midpoint.
const DefaultCalibrationMidpoint = 0.5

// DefaultMaxPromptScanBytes truncates keyword scanning on huge prompts.
// Token estimation still uses the full length.
const DefaultMaxPromptScanBytes = 32 * 1024

// MaxDimensionMatches caps per-dimension keyword hits to avoid runaway scores.
const MaxDimensionMatches = 5

// =============================================================================
// SESSIONS AND DEDUP
// =============================================================================

// DefaultSessionTTL is how long a session pin survives without use.
const DefaultSessionTTL = 1 * time.Hour

// DefaultSessionSweepInterval is the frequency of the session eviction sweep.
const DefaultSessionSweepInterval = 5 * time.Minute

// DefaultMaxSessions bounds the session store; LRU eviction when full.
const DefaultMaxSessions = 10_000

// DefaultDedupTTL is the completed-entry retention in the deduplicator.
const DefaultDedupTTL = 30 * time.Second

// =============================================================================
// STREAMING
// =============================================================================

// DefaultHeartbeatInterval is the SSE comment-frame cadence while waiting on
// an upstream. Many clients abort after 10-15s of silence; the payment
// handshake can run past that.
const DefaultHeartbeatInterval = 2 * time.Second

// =============================================================================
// HEALTH
// =============================================================================

// FullHealthTimeout bounds provider fan-out for /health?full=true.
const FullHealthTimeout = 2 * time.Second
