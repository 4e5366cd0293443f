package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/replyengine/internal/adjudicate"
	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/features"
	"github.com/nextlevelbuilder/replyengine/internal/gate"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
	"github.com/nextlevelbuilder/replyengine/internal/scoring"
	"github.com/nextlevelbuilder/replyengine/internal/store"
	"github.com/nextlevelbuilder/replyengine/internal/store/memory"
	"github.com/nextlevelbuilder/replyengine/internal/store/pg"
	"github.com/nextlevelbuilder/replyengine/internal/store/sqlite"
)

// engine holds every decision component built from one config.
type engine struct {
	cfg      *config.Config
	cfgPath  string
	modelSrc atomic.Pointer[string] // contents of gate.model_override_file
	prompts  *adjudicate.Prompts

	// watchFile, when set, makes the config watcher follow a new
	// model_override_file picked up by a reload.
	watchFile func(path string) error

	gate     *gate.Gate
	reply    *adjudicate.ReplyAdjudicator
	dedup    *adjudicate.DedupAdjudicator
	override *adjudicate.OverrideAdjudicator
	router   *adjudicate.ToolRouter
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func newEngine(cfg *config.Config, cfgPath string) *engine {
	e := &engine{cfg: cfg, cfgPath: cfgPath}
	e.loadOverrideFile()

	gc := cfg.GateSnapshot()
	tc, err := features.NewTokenCounter(gc.Tokenizer)
	if err != nil {
		slog.Warn("tokenizer unavailable, falling back to rune estimate", "tokenizer", gc.Tokenizer, "error", err)
		tc = features.RuneEstimator{}
	}
	models := scoring.NewSnapshotter(nil, e.modelSource)
	e.gate = gate.New(func() bool { return cfg.GateSnapshot().Enabled }, features.NewExtractor(tc), models)

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	dc := cfg.DecisionSnapshot()
	e.prompts = adjudicate.NewPrompts(config.ExpandHome(dc.PromptsDir))
	deps := adjudicate.Deps{
		Provider: decisionProvider(registry, dc),
		Prompts:  e.prompts,
		Settings: cfg.DecisionSnapshot,
		Persona:  adjudicate.LoadPersona(config.ExpandHome(dc.PersonaFile)),
	}
	e.reply = adjudicate.NewReplyAdjudicator(deps)
	e.dedup = adjudicate.NewDedupAdjudicator(deps)
	e.override = adjudicate.NewOverrideAdjudicator(deps)
	e.router = adjudicate.NewToolRouter(deps)
	return e
}

// modelSource returns the scoring override text: the inline value when set,
// otherwise the override file contents.
func (e *engine) modelSource() string {
	if s := strings.TrimSpace(e.cfg.GateSnapshot().ModelOverride); s != "" {
		return s
	}
	if p := e.modelSrc.Load(); p != nil {
		return *p
	}
	return ""
}

func (e *engine) loadOverrideFile() {
	path := config.ExpandHome(e.cfg.GateSnapshot().ModelOverrideFile)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("scoring override file unreadable, keeping previous model", "path", path, "error", err)
		return
	}
	s := string(data)
	e.modelSrc.Store(&s)
}

// reloadConfig re-reads the config file in place. Provider credentials and
// the persona are fixed at startup; everything read through snapshots
// (gate switch, thresholds source, decision settings, policy) follows, and a
// changed model_override_file path is watched from then on.
func (e *engine) reloadConfig() {
	fresh, err := config.Load(e.cfgPath)
	if err != nil {
		slog.Warn("config reload failed, keeping current config", "path", e.cfgPath, "error", err)
		return
	}
	e.cfg.ReplaceFrom(fresh)
	e.prompts.Reset()
	if p := e.cfg.GateSnapshot().ModelOverrideFile; p != "" && e.watchFile != nil {
		if err := e.watchFile(p); err != nil {
			slog.Warn("scoring override file not watched", "path", p, "error", err)
		}
	}
	e.loadOverrideFile()
	slog.Info("config reloaded", "path", e.cfgPath, "hash", e.cfg.Hash())
}

// openCounterStore opens the configured counter store backend.
func openCounterStore(sc config.StoreConfig) (store.CounterStore, error) {
	switch sc.Driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(config.ExpandHome(sc.SQLitePath))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if sc.PostgresDSN == "" {
			return nil, fmt.Errorf("REPLYENGINE_POSTGRES_DSN environment variable is not set")
		}
		s, err := pg.NewCounterStore(sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}
