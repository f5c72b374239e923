package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/banka1/banking/internal/app"
	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/infra"
	"github.com/banka1/banking/internal/logging"
	"github.com/banka1/banking/internal/server"
	"github.com/banka1/banking/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	// A nil *redis.Client must not reach the worker as a non-nil interface.
	var lease redis.Cmdable
	if cache != nil {
		lease = cache
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	services, err := app.NewServices(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("build services", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, db, cache, services, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	collector := worker.NewInstallmentWorker(services.Collector, lease, cfg.CollectionInterval, cfg.CollectionLeaseTTL, logger)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- collector.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("installment worker did not stop in time")
	}

	logger.Info("server exited cleanly")
}
