// Package main is the one-shot reminder drain worker. External schedulers
// that exec processes instead of calling HTTP run this binary on a fixed
// cadence; it performs a single drain pass and exits non-zero on failure.
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
	logger.Info("reminder worker starting", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	worker, err := app.NewDrainWorker(ctx, cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("wiring drain worker: %w", err)
	}

	summary, err := worker.Drain(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("drain pass: %w", err)
	}

	logger.Info("reminder worker finished",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"requeued", summary.Requeued,
	)
	return nil
}
