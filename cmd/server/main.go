// Package main provides the API server entry point for the MLS sync service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mls-sync/internal/api"
	"github.com/mls-sync/internal/app"
	"github.com/mls-sync/internal/config"
	"github.com/mls-sync/internal/logging"
)

func main() {
	fmt.Println("MLS Sync API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()

	logger := application.Logger
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	serverConfig := &api.ServerConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		ReadTimeout: 15 * time.Second,
		// a triggered full sync answers only when the run finishes
		WriteTimeout:      2 * time.Hour,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, application.Sync, logger, application.HealthChecks()...)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.WithError(err).Error("Server failed")
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
