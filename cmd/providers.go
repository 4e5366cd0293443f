package cmd

import (
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
)

func retryConfig(d config.DecisionConfig) providers.RetryConfig {
	rc := providers.DefaultRetryConfig()
	if d.MaxRetries >= 0 {
		rc.Attempts = d.MaxRetries + 1
	}
	return rc
}

func registerProviders(registry *providers.Registry, cfg *config.Config) {
	rc := retryConfig(cfg.DecisionSnapshot())

	if cfg.Providers.Anthropic.APIKey != "" {
		opts := []providers.AnthropicOption{providers.WithAnthropicRetry(rc)}
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		registry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...))
		slog.Info("registered provider", "name", "anthropic")
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, "gpt-4o-mini").
			WithRetry(rc))
		slog.Info("registered provider", "name", "openai")
	}
}

// decisionProvider picks the configured provider, rate limited. A missing
// provider is not fatal: adjudicators then fail closed on every call.
func decisionProvider(registry *providers.Registry, d config.DecisionConfig) providers.Provider {
	p, err := registry.Get(d.Provider)
	if err != nil {
		slog.Warn("decision provider unavailable, adjudicators will return fallbacks",
			"provider", d.Provider, "registered", registry.List(), "error", err)
		return nil
	}
	return providers.WithRateLimit(p, d.RatePerSec, d.Burst)
}

func routeTimeout(cfg *config.Config) func() time.Duration {
	return func() time.Duration {
		return time.Duration(cfg.DecisionSnapshot().RouteTimeoutMs) * time.Millisecond
	}
}
