package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgetflow/internal/amqp"
	"budgetflow/internal/backend"
	"budgetflow/internal/classify"
	"budgetflow/internal/config"
	"budgetflow/internal/log"
	"budgetflow/internal/services"
	"budgetflow/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logCfg, err := log.FromEnv(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)
	logger := log.New(logCfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Error("Invalid logging configuration", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting budgetflow-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}
	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Warn("Worker is running on the memory backend, syncs are not visible to the API server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := backend.Open(ctx, cfg, logger.WithComponent(log.ComponentBackend).Logger)
	if err != nil {
		logger.Error("Failed to initialize storage backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Close()

	bankFeed, err := backend.OpenFeed(cfg, logger.WithComponent(log.ComponentBackend).Logger)
	if err != nil {
		logger.Error("Failed to initialize bank feed", log.FieldError, err, "provider", cfg.FeedProvider)
		os.Exit(1)
	}

	classifier, err := classify.New(ctx, classify.Config{
		Mode:   classify.Mode(cfg.ClassifierMode),
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		logger.Error("Failed to initialize classifier", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reconciler := services.NewReconciler(result.Store, bankFeed, classifier, services.ReconcilerConfig{
		PageSize:    cfg.SyncPageSize,
		Concurrency: cfg.SyncConcurrency,
	})
	syncWorker := worker.NewSyncWorker(reconciler, amqpClient)
	if err := syncWorker.Start(ctx); err != nil {
		logger.Error("Failed to start sync worker", log.FieldError, err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-syncWorker.Done():
		if err := syncWorker.Err(); err != nil {
			logger.Error("Sync worker stopped unexpectedly", log.FieldError, err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached", log.FieldError, err)
	}
	cancel()

	if exitCode != 0 {
		amqpClient.Close()
		result.Close()
		os.Exit(exitCode)
	}
	logger.Info("Worker shutdown complete")
}
