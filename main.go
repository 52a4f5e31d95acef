package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotadominios/fleet-sync/internal/agent"
	"github.com/rotadominios/fleet-sync/internal/api"
	"github.com/rotadominios/fleet-sync/internal/cloudflare"
	"github.com/rotadominios/fleet-sync/internal/config"
	"github.com/rotadominios/fleet-sync/internal/health"
	"github.com/rotadominios/fleet-sync/internal/logger"
	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/reconcile"
	"github.com/rotadominios/fleet-sync/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("fail load config", "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	m := metrics.New(true)

	db, err := store.NewPostgres(cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("fail connect desired-state store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := health.NewCache(cfg.HealthCachePath, m)
	if err != nil {
		slog.Error("fail open health cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	registry := agent.NewRegistry(cfg.Agent.Token, cfg.Agent.Timeout, cfg.Agent.Port, m)
	engine := reconcile.NewEngine(db, registry, m)

	var zones health.ZoneChecker
	if cfg.Cloudflare.Token != "" {
		cf, err := cloudflare.New(cfg.Cloudflare.Token)
		if err != nil {
			slog.Warn("fail init cloudflare zone lookups, proceeding without", "error", err)
		} else {
			zones = cf
		}
	}

	checker := health.NewChecker(cfg.Health.Resolver, db, registry, zones)
	poller := health.New(checker, cache, health.Config{
		Interval:      cfg.Health.Interval,
		ErrorInterval: cfg.Health.ErrorInterval,
		Retries:       cfg.Health.Retries,
		RetryDelay:    cfg.Health.RetryDelay,
		DedupWindow:   cfg.Health.DedupWindow,
	}, m)

	server := api.New(cfg.Listen, engine, poller, db, m.Handler())

	go func() {
		slog.Info("starting fleet-sync server", "address", cfg.Listen)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	// Graceful shutdown handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received")
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("service shutdown complete")
}
