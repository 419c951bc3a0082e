// Command expiry-cleanup deletes every classifier past its expiry and exits.
// It is meant to be run on a schedule by an external batch runner. It stays
// up until the delayed second delete of each classifier has been sent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upb/classifier-control-plane/app"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/internal/observability"
	"github.com/upb/classifier-control-plane/services/training"
	"go.uber.org/zap"
)

type expiryCleaner interface {
	CleanupExpired(ctx context.Context) (*training.CleanupResult, error)
}

type redeleteWaiter interface {
	Pending() int
	Wait(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	code := runCleanup(ctx, deps.Lifecycle, logger)
	waitForRedeletes(ctx, deps.Redeleter, cfg.Cleanup.RedeleteWait, logger)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := deps.Close(closeCtx); err != nil {
		logger.Error("failed to close dependencies", zap.Error(err))
	}

	os.Exit(code)
}

// runCleanup returns the process exit code. Individual delete failures are
// logged but only a failure to list expired classifiers is fatal.
func runCleanup(ctx context.Context, cleaner expiryCleaner, logger *zap.Logger) int {
	result, err := cleaner.CleanupExpired(ctx)
	if err != nil {
		logger.Error("failed to clean up expired classifiers", zap.Error(err))
		return 1
	}

	logger.Info("expired classifiers cleaned up",
		zap.Int("expired", result.Expired),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors))
	return 0
}

// waitForRedeletes holds the process until scheduled deletes have run. Whatever
// is still pending when the wait ends is run early by Close.
func waitForRedeletes(ctx context.Context, waiter redeleteWaiter, limit time.Duration, logger *zap.Logger) {
	pending := waiter.Pending()
	if pending == 0 {
		return
	}
	logger.Info("waiting for delayed classifier deletes",
		zap.Int("pending", pending),
		zap.Duration("limit", limit))

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	if err := waiter.Wait(ctx); err != nil {
		logger.Warn("stopped waiting for delayed classifier deletes",
			zap.Int("pending", waiter.Pending()),
			zap.Error(err))
	}
}
