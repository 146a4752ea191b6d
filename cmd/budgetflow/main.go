package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgetflow/internal/amqp"
	"budgetflow/internal/backend"
	"budgetflow/internal/classify"
	"budgetflow/internal/config"
	apphttp "budgetflow/internal/http"
	"budgetflow/internal/log"
	"budgetflow/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logCfg, err := log.FromEnv(cfg.LogLevel, cfg.LogFormat, log.ComponentApp)
	logger := log.New(logCfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Error("Invalid logging configuration", log.FieldError, err)
		os.Exit(1)
	}

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := backend.Open(ctx, cfg, logger.WithComponent(log.ComponentBackend).Logger)
	if err != nil {
		logger.Error("Failed to initialize storage backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Error("Failed to close storage backend", log.FieldError, err)
		}
	}()

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

	// Queued syncs are optional; without a broker ?async=true answers 503.
	var requester services.SyncRequester
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		requester = client
		logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled, queued syncs unavailable")
	}

	reconciler := services.NewReconciler(result.Store, bankFeed, classifier, services.ReconcilerConfig{
		PageSize:    cfg.SyncPageSize,
		Concurrency: cfg.SyncConcurrency,
	})
	svc := apphttp.Services{
		Budget: services.NewBudgetService(result.Store, services.BudgetConfig{
			AllocationCacheTTL: cfg.AllocationCacheTTL,
		}),
		Banking: services.NewBankingService(result.Store, bankFeed, reconciler, requester, services.BankingConfig{
			MaxConnections: cfg.MaxBankConnections,
			ConsentDays:    cfg.ConsentDays,
		}),
		Transactions: services.NewTransactionService(result.Store, classifier),
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		JWTSecret:         cfg.JWTSecret,
		SyncRatePerMinute: cfg.SyncRatePerMinute,
		Logger:            logger.WithComponent(log.ComponentHTTP),
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting budgetflow server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"feed", cfg.FeedProvider,
		"classifier", cfg.ClassifierMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
