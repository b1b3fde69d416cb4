// Provider construction from configuration.
package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
)

// Auth strategy kinds accepted in provider configuration.
const (
	KindAPIKeyAuth  = "api_key"
	KindPaymentAuth = "payment"
	KindBedrockAuth = "bedrock"
)

// Build constructs and registers providers from the configuration list.
// A provider that fails to build is skipped with a warning so one bad entry
// does not take the gateway down; an empty registry is the caller's problem.
func Build(ctx context.Context, cfgs []config.ProviderConfig, cat *catalog.Catalog) (*Registry, error) {
	registry := NewRegistry()
	for _, cfg := range cfgs {
		p, err := buildOne(ctx, cfg, cat)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.ID).Msg("provider: skipping misconfigured entry")
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			log.Warn().Err(err).Str("provider", cfg.ID).Msg("provider: initialization failed, skipping")
			continue
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
		log.Info().Str("provider", cfg.ID).Str("kind", cfg.Kind).
			Int("priority", cfg.Priority).Int("models", len(p.ListModels())).
			Msg("provider: registered")
	}
	return registry, nil
}

func buildOne(ctx context.Context, cfg config.ProviderConfig, cat *catalog.Catalog) (Provider, error) {
	var auth AuthStrategy
	var err error

	switch cfg.Kind {
	case KindAPIKeyAuth, "":
		auth, err = NewAPIKeyAuth(cfg.APIKey, cfg.AuthHeader, cfg.AuthPrefix, cfg.ExtraHeaders)
	case KindPaymentAuth:
		auth = NewPaymentTokenAuth(StaticTokenSource{Value: cfg.APIKey}, cfg.AuthHeader, cfg.AuthPrefix)
	case KindBedrockAuth:
		auth, err = NewBedrockAuth(ctx, cfg.Region)
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	return NewHTTPProvider(cfg, cat, auth)
}
