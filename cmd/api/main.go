package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/nagato/internal/api"
	"github.com/timmy/nagato/internal/app"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/logger"
)

func main() {
	log := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application: %v", err)
	}

	if cfg.Pipeline.ResumePending {
		if _, err := application.Orchestrator.ResumePending(ctx, 0); err != nil {
			logger.Error("Failed to resume pending records: %v", err)
		}
	}
	if cfg.WebhookURL() == "" {
		logger.Warn("server.public_url is not set; providers cannot call the fine-tune webhook")
	}

	router := api.SetupRouter(api.Services{
		Orchestrator: application.Orchestrator,
		Reconciler:   application.Reconciler,
		Query:        application.QueryService,
		Dispatcher:   application.Dispatcher,
		Ingest:       application.Ingest,
		Sources:      application.Sources,
	}, cfg, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	// Background flows finish before connections close.
	application.Close()
	logger.Info("Server exited")
}
