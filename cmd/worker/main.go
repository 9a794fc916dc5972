// Package main provides the scheduled sync worker entry point for the MLS sync service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mls-sync/internal/app"
	"github.com/mls-sync/internal/config"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/worker"
)

func main() {
	fmt.Println("MLS Sync Worker")

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
	ctx = logging.WithLogger(ctx, logger)

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Syncer:    application.Sync,
		Interval:  cfg.Sync.IncrementalInterval,
		FullEvery: cfg.Sync.FullEvery,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for the current run to finish...")

	// runs in flight see a cancelled context and finalize themselves as failed
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}

	logger.Info("Worker stopped")
}
