package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Gate.Enabled || cfg.Decision.MaxTokens != 128 || cfg.Decision.TimeoutMs != 15000 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Gate, cfg.Decision)
	}
}

func TestLoad_JSON5AndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  // comments and trailing commas are fine
  gate: { enabled: true, model_override: "{thresholds: {low: 0.3}}", },
  decision: { model: "file-model", timeout_ms: 2000 },
  server: { port: 9000 },
}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REPLY_GATE_ENABLED", "false")
	t.Setenv("REPLY_DECISION_MODEL", "env-model")
	t.Setenv("REPLYENGINE_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gate.Enabled {
		t.Error("expected REPLY_GATE_ENABLED=false to disable the gate")
	}
	if cfg.Decision.Model != "env-model" {
		t.Errorf("model = %q, want env-model", cfg.Decision.Model)
	}
	if cfg.Decision.Timeout() != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", cfg.Decision.Timeout())
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Gate.ModelOverride == "" {
		t.Error("expected inline model override to be kept")
	}
	if !cfg.HasAnyProvider() {
		t.Error("expected provider key from env")
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{gate: "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSave_StripsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-secret"
	cfg.Server.Token = "tok"
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Providers.OpenAI.APIKey != "" || loaded.Server.Token != "" {
		t.Error("secrets must not be persisted")
	}
	if cfg.Providers.OpenAI.APIKey != "sk-secret" {
		t.Error("Save must not mutate the live config")
	}
}

func TestHash_ChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs must hash equal")
	}
	b.Gate.Enabled = false
	if a.Hash() == b.Hash() {
		t.Fatal("different configs must hash differently")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "key"
	m := cfg.MaskedCopy()
	if m.Providers.Anthropic.APIKey != secretMask {
		t.Errorf("got %q, want mask", m.Providers.Anthropic.APIKey)
	}
	if m.Providers.OpenAI.APIKey != "" {
		t.Error("empty keys stay empty")
	}
}

func TestWatcher_ReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 4)
	w, err := NewWatcher(func(p string) { changed <- p }, path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"version": 2}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-changed:
		if filepath.Base(p) != "model.json" {
			t.Errorf("unexpected path %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcher_FollowsAddedFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "config.json")
	sub := filepath.Join(dir, "models")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatal(err)
	}
	added := filepath.Join(sub, "model.json")

	changed := make(chan string, 4)
	w, err := NewWatcher(func(p string) { changed <- p }, first)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Add(added); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(added); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if err := os.WriteFile(added, []byte(`{"version": 3}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-changed:
		if p != added {
			t.Errorf("changed path = %q, want %q", p, added)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the added file")
	}
}
