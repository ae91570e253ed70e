// Package main is the one-shot auto-sync worker. It performs a single
// orchestration pass over eligible mailbox connections and exits non-zero
// on failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billwatch/internal/app"
	"billwatch/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("auto-sync worker starting", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	orchestrator, err := app.NewAutoSync(ctx, cfg, pool, logger, app.UnwiredSyncer{})
	if err != nil {
		return fmt.Errorf("wiring auto-sync orchestrator: %w", err)
	}

	summary, err := orchestrator.Run(ctx, time.Now().UTC(), cfg.Sync.BatchLimit)
	if err != nil {
		return fmt.Errorf("auto-sync pass: %w", err)
	}

	logger.Info("auto-sync worker finished",
		"eligible", summary.Eligible,
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"bills_created", summary.BillsCreated,
	)
	return nil
}
