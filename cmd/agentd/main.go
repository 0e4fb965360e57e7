// agentd server — hosts task agents, drives their plan/act flows, and serves
// the HTTP API with resumable event streams.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openagentd/agentd/pkg/api"
	"github.com/openagentd/agentd/pkg/config"
	"github.com/openagentd/agentd/pkg/events"
	"github.com/openagentd/agentd/pkg/llm"
	"github.com/openagentd/agentd/pkg/memory"
	"github.com/openagentd/agentd/pkg/sandbox"
	"github.com/openagentd/agentd/pkg/service"
	"github.com/openagentd/agentd/pkg/store"
	"github.com/openagentd/agentd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("AGENTD_CONFIG", "./config/agentd.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	slog.Info("Starting agentd", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Store: postgres when configured, in-memory otherwise.
	var (
		st     store.Store
		health api.HealthFunc
	)
	if cfg.Database.Enabled {
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pg
		health = func(ctx context.Context) error { return store.Health(ctx, pg.DB()) }
		slog.Info("Connected to PostgreSQL store")
	} else {
		st = store.NewMemoryStore()
		slog.Warn("Running on the in-memory store; conversations will not survive a restart")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	hub := events.NewHub(st.Conversations(),
		events.WithRingCapacity(cfg.Events.RingCapacity),
		events.WithQueueCapacity(cfg.Events.QueueCapacity),
		events.WithIdleCutoff(cfg.Events.IdleCutoff),
		events.WithSweepInterval(cfg.Events.SweepInterval),
	)
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go hub.Run(sweepCtx)

	asker := llm.NewOpenAIAsker(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	sandboxClient := sandbox.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.Timeout)
	go func() {
		// The gateway may still be coming up; agents fail loudly later if
		// it never does.
		if err := sandboxClient.EnsureStatus(ctx, 2*time.Second); err != nil {
			slog.Warn("Sandbox gateway not ready", "error", err)
		}
	}()

	svc, err := service.New(service.Options{
		Store:          st,
		Hub:            hub,
		LLM:            asker,
		Sandbox:        sandboxClient,
		SearchEndpoint: cfg.Search.Endpoint,
		SearchAPIKey:   cfg.Search.APIKey,
		MaxIterations:  cfg.Agent.MaxIterations,
		MemoryBudget:   cfg.Agent.MemoryBudget,
		Policy: memory.CompressPolicy{
			MaxTotalTokens:  cfg.Agent.MemoryBudget,
			PreserveRecent:  cfg.Agent.PreserveRecent,
			MaxResultTokens: cfg.Agent.MaxResultTokens,
		},
	})
	if err != nil {
		slog.Error("Failed to build service", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(svc, health)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Drain in-flight runs before closing the listener so their final
	// events still reach connected streams.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Shutdown timeout exceeded, abandoning in-flight runs", "error", err)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
