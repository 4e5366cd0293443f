package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gate: GateConfig{
			Enabled:   true,
			Tokenizer: "cl100k_base",
		},
		Decision: DecisionConfig{
			Enabled:    true,
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			MaxTokens:  128,
			MaxRetries: 3,
			TimeoutMs:  15000,
			RatePerSec: 5,
			Burst:      10,
		},
		Policy: PolicyConfig{
			MentionMustReply:  true,
			FollowupWindowSec: 180,
			Attention: AttentionConfig{
				Enabled:    true,
				WindowMs:   120000,
				MaxSenders: 3,
			},
			UserFatigue: FatigueConfig{
				Enabled:              true,
				WindowMs:             300000,
				BaseLimit:            5,
				MinIntervalMs:        10000,
				BackoffFactor:        2,
				MaxBackoffMultiplier: 8,
			},
			GroupFatigue: FatigueConfig{
				Enabled:              true,
				WindowMs:             300000,
				BaseLimit:            30,
				MinIntervalMs:        2000,
				BackoffFactor:        1.5,
				MaxBackoffMultiplier: 4,
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18800,
		},
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: "~/.replyengine/counters.db",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("REPLYENGINE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("REPLYENGINE_ANTHROPIC_API_BASE", &c.Providers.Anthropic.APIBase)
	envStr("REPLYENGINE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("REPLYENGINE_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("REPLYENGINE_TOKEN", &c.Server.Token)

	// Gate: legacy names first, prefixed names win.
	envBool("REPLY_GATE_ENABLED", &c.Gate.Enabled)
	envBool("REPLYENGINE_GATE_ENABLED", &c.Gate.Enabled)
	envStr("REPLY_GATE_MODEL_CONFIG_JSON", &c.Gate.ModelOverride)
	envStr("REPLYENGINE_GATE_MODEL_FILE", &c.Gate.ModelOverrideFile)
	envStr("REPLYENGINE_TOKENIZER", &c.Gate.Tokenizer)

	// Decision
	envBool("ENABLE_REPLY_INTERVENTION", &c.Decision.Enabled)
	envStr("REPLYENGINE_DECISION_PROVIDER", &c.Decision.Provider)
	envStr("REPLY_DECISION_MODEL", &c.Decision.Model)
	envInt("REPLY_DECISION_MAX_TOKENS", &c.Decision.MaxTokens)
	envInt("REPLY_DECISION_MAX_RETRIES", &c.Decision.MaxRetries)
	envInt("REPLY_DECISION_TIMEOUT", &c.Decision.TimeoutMs)
	envStr("REPLYENGINE_PROMPTS_DIR", &c.Decision.PromptsDir)
	envStr("REPLYENGINE_PERSONA_FILE", &c.Decision.PersonaFile)

	// Server host/port
	envStr("REPLYENGINE_HOST", &c.Server.Host)
	envInt("REPLYENGINE_PORT", &c.Server.Port)

	// Store
	envStr("REPLYENGINE_STORE_DRIVER", &c.Store.Driver)
	envStr("REPLYENGINE_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("REPLYENGINE_POSTGRES_DSN", &c.Store.PostgresDSN)

	// Telemetry
	envStr("REPLYENGINE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("REPLYENGINE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("REPLYENGINE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("REPLYENGINE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("REPLYENGINE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// ApplyEnvOverrides re-applies env vars after a hot reload.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secrets are stripped first.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	cp := *cfg.withoutLock()
	cp.Providers.Anthropic.APIKey = ""
	cp.Providers.OpenAI.APIKey = ""
	cp.Server.Token = ""

	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c.withoutLock())
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// MaskedCopy returns a copy with secrets replaced, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := c.withoutLock()
	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Server.Token)
	if cp.Store.PostgresDSN != "" {
		cp.Store.PostgresDSN = secretMask
	}
	return cp
}

// withoutLock copies data fields into a fresh Config. Caller holds the lock.
func (c *Config) withoutLock() *Config {
	return &Config{
		Gate:      c.Gate,
		Decision:  c.Decision,
		Policy:    c.Policy,
		Providers: c.Providers,
		Server:    c.Server,
		Store:     c.Store,
		Telemetry: c.Telemetry,
	}
}

const secretMask = "***"

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
