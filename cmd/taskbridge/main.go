// TaskBridge server — receives discussion webhooks, runs the six-stage
// pipeline, and serves the operator query API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskbridge/taskbridge/pkg/analyzer"
	"github.com/taskbridge/taskbridge/pkg/api"
	"github.com/taskbridge/taskbridge/pkg/cleanup"
	"github.com/taskbridge/taskbridge/pkg/config"
	"github.com/taskbridge/taskbridge/pkg/database"
	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/pipeline"
	"github.com/taskbridge/taskbridge/pkg/queue"
	"github.com/taskbridge/taskbridge/pkg/services"
	"github.com/taskbridge/taskbridge/pkg/usermap"
)

func main() {
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting TaskBridge", "listen_addr", cfg.ListenAddr)

	// 2. Connect to the database (applies pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Store layer
	db := dbClient.DB()
	flowService := services.NewFlowService(db)
	discussionService := services.NewDiscussionService(db)
	jobService := services.NewJobService(db)
	taskService := services.NewTaskService(db)
	mappingService := services.NewUserMappingService(db)
	slog.Info("Services initialized")

	// 4. LLM analyzer
	llm, err := analyzer.New(analyzer.Config{
		APIKey:   cfg.AnthropicAPIKey,
		Model:    cfg.AnthropicModel,
		CacheTTL: cfg.AnalysisCacheTTL,
	})
	if err != nil {
		slog.Error("Failed to initialize analyzer", "error", err)
		os.Exit(1)
	}

	// 5. Pipeline
	resolver := flow.NewResolver(flowService)
	processor := pipeline.NewProcessor(pipeline.Deps{
		Resolver:    resolver,
		Mappings:    usermap.NewResolver(mappingService),
		Analyzer:    llm,
		Discussions: discussionService,
		Jobs:        jobService,
		Tasks:       taskService,
	})

	// 6. Dispatcher (before the HTTP server) and orphan recovery
	dispatcher := queue.NewDispatcher(cfg.MaxConcurrentPipelines)

	recovery := cleanup.NewService(cleanup.Config{}, discussionService, jobService)
	recovery.Start(ctx)
	defer recovery.Stop()

	// 7. HTTP server
	httpServer := api.NewServer(api.Config{
		DBClient:      dbClient,
		Dispatcher:    dispatcher,
		Processor:     processor,
		Resolver:      resolver,
		Discussions:   discussionService,
		Jobs:          jobService,
		Tasks:         taskService,
		Flows:         flowService,
		WebhookSecret: cfg.WebhookSecret,
	})

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.ListenAddr); err != nil {
			errCh <- err
		}
	}()
	slog.Info("TaskBridge started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting, drain in-flight pipelines, then
	// stop the HTTP listener.
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer drainCancel()
	if err := dispatcher.Stop(drainCtx); err != nil {
		slog.Warn("Dispatcher drain incomplete", "error", err)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
