// Package main provides mlsctl, an operator CLI for triggering and inspecting MLS syncs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mls-sync/internal/app"
	"github.com/mls-sync/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(connect)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connect builds the full application from the environment
func connect(ctx context.Context) (syncClient, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	application, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return application.Sync, application.Close, nil
}
