package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the reply engine.
type Config struct {
	Gate      GateConfig      `json:"gate"`
	Decision  DecisionConfig  `json:"decision"`
	Policy    PolicyConfig    `json:"policy"`
	Providers ProvidersConfig `json:"providers"`
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GateConfig controls the local reply gate.
type GateConfig struct {
	Enabled bool `json:"enabled"`
	// ModelOverride is an inline JSON/JSON5 override object for the scoring model.
	// Env REPLY_GATE_MODEL_CONFIG_JSON takes precedence over the file value.
	ModelOverride string `json:"model_override,omitempty"`
	// ModelOverrideFile points at a file holding the override object; watched for changes.
	ModelOverrideFile string `json:"model_override_file,omitempty"`
	Tokenizer         string `json:"tokenizer,omitempty"` // tiktoken encoding name (default "cl100k_base"), "runes" for a rune estimate
}

// DecisionConfig configures the remote adjudicators.
type DecisionConfig struct {
	Enabled     bool    `json:"enabled"`               // ENABLE_REPLY_INTERVENTION
	Provider    string  `json:"provider"`              // "openai" or "anthropic"
	Model       string  `json:"model,omitempty"`       // REPLY_DECISION_MODEL
	MaxTokens   int     `json:"max_tokens,omitempty"`  // REPLY_DECISION_MAX_TOKENS (default 128)
	MaxRetries  int     `json:"max_retries,omitempty"` // REPLY_DECISION_MAX_RETRIES (default 3)
	TimeoutMs   int     `json:"timeout_ms,omitempty"`  // REPLY_DECISION_TIMEOUT (default 15000)
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	PromptsDir  string  `json:"prompts_dir,omitempty"`  // optional directory of <name>.json prompt overrides
	PersonaFile string  `json:"persona_file,omitempty"` // optional persona text injected as a second system message
	// RouteTimeoutMs bounds tool routing calls (0 = no extra timer beyond the request context).
	RouteTimeoutMs int `json:"route_timeout_ms,omitempty"`
}

// Timeout returns the adjudicator call timeout.
func (d DecisionConfig) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// PolicyConfig mirrors the orchestrator's reply policy. It is forwarded to the
// reply adjudicator and drives the counter store's window/fatigue bookkeeping.
type PolicyConfig struct {
	MentionMustReply  bool            `json:"mention_must_reply"`
	FollowupWindowSec int             `json:"followup_window_sec,omitempty"`
	Attention         AttentionConfig `json:"attention"`
	UserFatigue       FatigueConfig   `json:"user_fatigue"`
	GroupFatigue      FatigueConfig   `json:"group_fatigue"`
}

// AttentionConfig limits how many senders are tracked in one group window.
type AttentionConfig struct {
	Enabled    bool `json:"enabled"`
	WindowMs   int  `json:"window_ms,omitempty"`
	MaxSenders int  `json:"max_senders,omitempty"`
}

// FatigueConfig describes windowed reply counting with exponential backoff.
type FatigueConfig struct {
	Enabled              bool    `json:"enabled"`
	WindowMs             int     `json:"window_ms,omitempty"`
	BaseLimit            int     `json:"base_limit,omitempty"`
	MinIntervalMs        int     `json:"min_interval_ms,omitempty"`
	BackoffFactor        float64 `json:"backoff_factor,omitempty"`
	MaxBackoffMultiplier float64 `json:"max_backoff_multiplier,omitempty"`
}

// ProvidersConfig holds model provider credentials.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Anthropic.APIKey != "" || c.Providers.OpenAI.APIKey != ""
}

// ServerConfig configures the HTTP decision API.
type ServerConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"` // bearer token for HTTP auth
}

// StoreConfig selects the counter store backend.
// PostgresDSN is NEVER read from config.json (secret), only from env REPLYENGINE_POSTGRES_DSN.
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"`      // "memory" (default), "sqlite", "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "~/.replyengine/counters.db"
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "replyengine"
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gate = src.Gate
	c.Decision = src.Decision
	c.Policy = src.Policy
	c.Providers = src.Providers
	c.Server = src.Server
	c.Store = src.Store
	c.Telemetry = src.Telemetry
}

// GateSnapshot returns the gate section under the read lock.
func (c *Config) GateSnapshot() GateConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gate
}

// DecisionSnapshot returns the decision section under the read lock.
func (c *Config) DecisionSnapshot() DecisionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Decision
}

// PolicySnapshot returns the policy section under the read lock.
func (c *Config) PolicySnapshot() PolicyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Policy
}
