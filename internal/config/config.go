// Package config loads the gateway configuration.
//
// DESIGN: Config is a plain struct loaded from YAML with ${ENV} expansion,
// layered over the defaults in defaults.go. Everything downstream receives
// the resolved struct; nothing re-reads files or the environment after load.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Proxy     ProxyConfig      `yaml:"proxy"`
	Routing   RoutingConfig    `yaml:"routing"`
	Dedup     DedupConfig      `yaml:"dedup"`
	Session   SessionConfig    `yaml:"session"`
	Heartbeat HeartbeatConfig  `yaml:"heartbeat"`
	Fallback  FallbackConfig   `yaml:"fallback"`
	Providers []ProviderConfig `yaml:"providers"`
	Usage     UsageConfig      `yaml:"usage"`
	Balance   BalanceConfig    `yaml:"balance"`
}

// ProxyConfig controls the HTTP listener.
type ProxyConfig struct {
	Port             int `yaml:"port"`
	RequestTimeoutMs int `yaml:"requestTimeoutMs"`
	MaxBodyBytes     int `yaml:"maxBodyBytes"`
}

// RequestTimeout returns the per-request deadline as a duration.
func (p ProxyConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMs) * time.Millisecond
}

// RoutingConfig controls classification and tier model selection.
type RoutingConfig struct {
	Tiers      map[string]TierConfig `yaml:"tiers"`
	Scoring    map[string][]string   `yaml:"scoring"`
	Classifier ClassifierConfig      `yaml:"classifier"`
	Overrides  OverridesConfig       `yaml:"overrides"`
	// LastResort is appended when constraint filtering empties a chain.
	LastResort string `yaml:"lastResort"`
}

// TierConfig overrides the model chain for one tier.
type TierConfig struct {
	Primary  string   `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// ClassifierConfig tunes the scorer calibration.
type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidenceThreshold"`
	ReasoningConfidence float64 `yaml:"reasoningConfidence"`
	CalibrationK        float64 `yaml:"calibrationK"`
	CalibrationMidpoint float64 `yaml:"calibrationMidpoint"`
	// DefaultTier is applied when the scorer reports an ambiguous result.
	DefaultTier string `yaml:"defaultTier"`
}

// OverridesConfig tunes the post-classification overrides.
type OverridesConfig struct {
	LargeContextTokens int   `yaml:"largeContextTokens"`
	StructuredOutput   *bool `yaml:"structuredOutput"`
}

// StructuredOutputEnabled reports the structured-output override, default on.
func (o OverridesConfig) StructuredOutputEnabled() bool {
	return o.StructuredOutput == nil || *o.StructuredOutput
}

// DedupConfig controls the request deduplicator.
type DedupConfig struct {
	TTLMs int `yaml:"ttlMs"`
}

// TTL returns the completed-entry retention as a duration.
func (d DedupConfig) TTL() time.Duration { return time.Duration(d.TTLMs) * time.Millisecond }

// SessionConfig controls model pinning for auto-routed conversations.
type SessionConfig struct {
	TTLMs       int      `yaml:"ttlMs"`
	HeaderNames []string `yaml:"headerNames"`
	MaxEntries  int      `yaml:"maxEntries"`
}

// TTL returns the pin retention as a duration.
func (s SessionConfig) TTL() time.Duration { return time.Duration(s.TTLMs) * time.Millisecond }

// HeartbeatConfig controls the SSE keep-alive cadence.
type HeartbeatConfig struct {
	IntervalMs int `yaml:"intervalMs"`
}

// Interval returns the heartbeat cadence as a duration.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMs) * time.Millisecond
}

// FallbackConfig bounds the model fallback chain.
type FallbackConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

// ProviderConfig describes one upstream provider instance.
type ProviderConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"` // api_key | payment | bedrock
	Priority int    `yaml:"priority"`
	BaseURL  string `yaml:"baseUrl"`
	APIKey   string `yaml:"apiKey"`
	// AuthHeader/AuthPrefix override the default Authorization/Bearer pair.
	AuthHeader   string            `yaml:"authHeader"`
	AuthPrefix   string            `yaml:"authPrefix"`
	ExtraHeaders map[string]string `yaml:"extraHeaders"`
	Models       []string          `yaml:"models"`
	Region       string            `yaml:"region"` // bedrock only
}

// UsageConfig controls the usage event sinks.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"dbPath"`
}

// BalanceConfig controls the local balance policy.
type BalanceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	InitialUSD float64 `yaml:"initialUsd"`
	MinUSD     float64 `yaml:"minUsd"`
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(groups[1]); ok && v != "" {
			return v
		}
		return groups[3]
	})
}

// Default returns a fully-populated config with built-in defaults.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Port:             DefaultPort,
			RequestTimeoutMs: int(DefaultRequestTimeout / time.Millisecond),
			MaxBodyBytes:     MaxRequestBodySize,
		},
		Routing: RoutingConfig{
			Classifier: ClassifierConfig{
				ConfidenceThreshold: DefaultConfidenceThreshold,
				ReasoningConfidence: DefaultReasoningConfidence,
				CalibrationK:        DefaultCalibrationK,
				CalibrationMidpoint: DefaultCalibrationMidpoint,
				DefaultTier:         DefaultAmbiguousTier,
			},
			Overrides: OverridesConfig{
				LargeContextTokens: DefaultLargeContextTokens,
			},
		},
		Dedup:     DedupConfig{TTLMs: int(DefaultDedupTTL / time.Millisecond)},
		Session:   SessionConfig{TTLMs: int(DefaultSessionTTL / time.Millisecond), MaxEntries: DefaultMaxSessions},
		Heartbeat: HeartbeatConfig{IntervalMs: int(DefaultHeartbeatInterval / time.Millisecond)},
		Fallback:  FallbackConfig{MaxAttempts: DefaultMaxFallbackAttempts},
	}
}

// Load reads a YAML config file, expands env references, and layers the
// result over Default(). A missing path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyFloors()
	return cfg, nil
}

// applyFloors restores defaults for values the YAML zeroed or left invalid.
func (c *Config) applyFloors() {
	if c.Proxy.Port <= 0 {
		c.Proxy.Port = DefaultPort
	}
	if c.Proxy.RequestTimeoutMs <= 0 {
		c.Proxy.RequestTimeoutMs = int(DefaultRequestTimeout / time.Millisecond)
	}
	if c.Proxy.MaxBodyBytes <= 0 {
		c.Proxy.MaxBodyBytes = MaxRequestBodySize
	}
	if c.Dedup.TTLMs <= 0 {
		c.Dedup.TTLMs = int(DefaultDedupTTL / time.Millisecond)
	}
	if c.Session.TTLMs <= 0 {
		c.Session.TTLMs = int(DefaultSessionTTL / time.Millisecond)
	}
	if c.Session.MaxEntries <= 0 {
		c.Session.MaxEntries = DefaultMaxSessions
	}
	if c.Heartbeat.IntervalMs <= 0 {
		c.Heartbeat.IntervalMs = int(DefaultHeartbeatInterval / time.Millisecond)
	}
	if c.Fallback.MaxAttempts <= 0 {
		c.Fallback.MaxAttempts = DefaultMaxFallbackAttempts
	}
	if c.Routing.Classifier.ConfidenceThreshold <= 0 {
		c.Routing.Classifier.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.Routing.Classifier.ReasoningConfidence <= 0 {
		c.Routing.Classifier.ReasoningConfidence = DefaultReasoningConfidence
	}
	if c.Routing.Classifier.CalibrationK <= 0 {
		c.Routing.Classifier.CalibrationK = DefaultCalibrationK
	}
	if c.Routing.Classifier.CalibrationMidpoint <= 0 {
		c.Routing.Classifier.CalibrationMidpoint = DefaultCalibrationMidpoint
	}
	if c.Routing.Classifier.DefaultTier == "" {
		c.Routing.Classifier.DefaultTier = DefaultAmbiguousTier
	}
	if c.Routing.Overrides.LargeContextTokens <= 0 {
		c.Routing.Overrides.LargeContextTokens = DefaultLargeContextTokens
	}
}

// SessionHeaderNames returns the configured session header list, or the
// built-in order when none is configured.
func (c *Config) SessionHeaderNames() []string {
	if len(c.Session.HeaderNames) > 0 {
		return c.Session.HeaderNames
	}
	return []string{"X-Session-ID", "X-Blockrun-Session", "X-Conversation-ID"}
}
