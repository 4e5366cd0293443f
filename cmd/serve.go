package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	httpapi "github.com/nextlevelbuilder/replyengine/internal/http"
	"github.com/nextlevelbuilder/replyengine/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the decision API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.HasAnyProvider() {
		slog.Warn("no provider API key configured; adjudicators will return fallbacks",
			"hint", "set REPLYENGINE_OPENAI_API_KEY or REPLYENGINE_ANTHROPIC_API_KEY")
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	counters, err := openCounterStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open counter store: %w", err)
	}
	defer counters.Close()

	e := newEngine(cfg, cfgPath)

	watcher, err := config.NewWatcher(func(path string) {
		e.reloadConfig()
	}, cfgPath, cfg.GateSnapshot().ModelOverrideFile)
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "error", err)
	} else {
		e.watchFile = watcher.Add
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("config watcher start", "error", err)
		}
		defer watcher.Stop()
	}

	h := httpapi.NewDecisionsHandler(cfg.Server.Token, httpapi.DecisionsDeps{
		Gate:         e.gate,
		Reply:        e.reply,
		Dedup:        e.dedup,
		Override:     e.override,
		Router:       e.router,
		Counters:     counters,
		Policy:       cfg.PolicySnapshot,
		RouteTimeout: routeTimeout(cfg),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("replyengine starting", "addr", addr, "version", Version,
			"store", cfg.Store.Driver, "auth", cfg.Server.Token != "")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("replyengine stopped")
	return err
}
