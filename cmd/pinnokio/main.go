// Pinnokio orchestrator server — bridges the interactive frontend and the
// long-process worker fleet, runs the agent loop, and fires scheduled jobs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pinnokio/orchestrator/pkg/agent"
	"github.com/pinnokio/orchestrator/pkg/api"
	"github.com/pinnokio/orchestrator/pkg/auth"
	"github.com/pinnokio/orchestrator/pkg/cleanup"
	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/database"
	"github.com/pinnokio/orchestrator/pkg/ephemeral"
	"github.com/pinnokio/orchestrator/pkg/llm"
	"github.com/pinnokio/orchestrator/pkg/lpt"
	"github.com/pinnokio/orchestrator/pkg/orchestrator"
	"github.com/pinnokio/orchestrator/pkg/scheduler"
	"github.com/pinnokio/orchestrator/pkg/services"
	"github.com/pinnokio/orchestrator/pkg/session"
	"github.com/pinnokio/orchestrator/pkg/streaming"
	"github.com/pinnokio/orchestrator/pkg/tools"
	"github.com/pinnokio/orchestrator/pkg/vector"
	"github.com/pinnokio/orchestrator/pkg/version"
	"github.com/pinnokio/orchestrator/pkg/ws"
)

const sweepInterval = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Pinnokio", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Document store
	dbClient, err := database.NewClient(ctx, cfg.Mongo)
	if err != nil {
		slog.Error("Failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("Error closing document store client", "error", err)
		}
	}()
	slog.Info("Connected to document store", "database", cfg.Mongo.Database)

	// 3. Ephemeral store
	store, err := ephemeral.NewStore(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to ephemeral store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing ephemeral store client", "error", err)
		}
	}()
	oracle := ephemeral.NewOracle(store)
	slog.Info("Connected to ephemeral store", "addr", cfg.Redis.Addr)

	// 4. Domain services
	clientService := services.NewClientService(dbClient)
	taskService := services.NewTaskService(dbClient)
	jobService := services.NewJobService(dbClient)
	transcriptService := services.NewTranscriptService(dbClient)
	notificationService := services.NewNotificationService(dbClient)
	slog.Info("Services initialized")

	// 5. Knowledge base
	vectorStore, err := vector.NewStore(vector.Config{
		PersistPath: cfg.Vector.PersistPath,
		Collection:  cfg.Vector.Collection,
	}, vector.NewOpenAIEmbedding())
	if err != nil {
		slog.Error("Failed to open vector store", "error", err)
		os.Exit(1)
	}
	slog.Info("Vector store ready", "documents", vectorStore.Count())

	// 6. LLM client and tool dispatch
	llmClient := llm.NewAnthropicClient(cfg.LLM)
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	lptClient := lpt.NewClient(cfg.LPT, taskService, notificationService)
	dispatcher := tools.NewDispatcher(tools.NewMongoPathReader(dbClient), vectorStore, lptClient)
	runner := agent.NewRunner(llmClient, dispatcher, cfg.Agent, cfg.LLM.SystemPrompt)

	// 7. Sessions, streaming and the orchestrator
	registry := session.NewRegistry(clientService, cfg.Agent)
	hub := ws.NewHub()
	bus := streaming.NewBus(transcriptService, hub, oracle)
	orch := orchestrator.New(registry, runner, bus, taskService, notificationService)

	// 8. Auth and the WebSocket ingress
	authService := auth.NewService(auth.NewHTTPVerifier(cfg.Auth), store, cfg.Auth.SessionTTL)
	wsHandler := ws.NewHandler(hub, authService, orch, store, jobService, notificationService)

	// 9. Scheduler
	sched := scheduler.New(jobService, taskService, lptClient, cfg.Scheduler)
	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
	} else {
		slog.Info("Scheduler disabled")
	}

	// 10. Retention cleanup
	if cfg.Retention.Enabled {
		cleanupService := cleanup.NewService(cfg.Retention, taskService, notificationService)
		cleanupService.Start(ctx)
		defer cleanupService.Stop()
	}

	// 11. Idle session sweeper
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := registry.SweepIdle(); evicted > 0 {
					slog.Info("Evicted idle sessions", "count", evicted)
				}
			}
		}
	}()

	// 12. HTTP server
	server := api.NewServer(cfg.HTTPPort, orch, sched, jobService, dbClient, store, wsHandler.HandleConnection)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Pinnokio started")

	// 13. Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Pinnokio stopped")
}
