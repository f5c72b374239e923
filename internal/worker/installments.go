package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banka1/banking/internal/loan"
)

const leaseKey = "banking:worker:installments:lease"

// releaseLease deletes the lease only when it is still held by the caller.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Collector is the part of the loan package the worker drives.
type Collector interface {
	CollectDue(ctx context.Context, asOf time.Time) (loan.CollectionReport, error)
}

// InstallmentWorker periodically collects due loan installments. When a
// Redis client is configured only the replica holding the lease collects.
type InstallmentWorker struct {
	collector Collector
	cache     redis.Cmdable
	interval  time.Duration
	leaseTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewInstallmentWorker constructs the worker. cache may be nil.
func NewInstallmentWorker(collector Collector, cache redis.Cmdable, interval, leaseTTL time.Duration, logger *slog.Logger) *InstallmentWorker {
	return &InstallmentWorker{
		collector: collector,
		cache:     cache,
		interval:  interval,
		leaseTTL:  leaseTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run collects once immediately and then on every tick until ctx is done.
func (w *InstallmentWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("collection interval must be positive, got %s", w.interval)
	}
	w.logger.Info("installment worker started", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("installment collection run failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("installment worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single collection if the lease can be taken. It reports
// whether a collection ran.
func (w *InstallmentWorker) RunOnce(ctx context.Context) (loan.CollectionReport, bool, error) {
	token, ok, err := w.acquire(ctx)
	if err != nil {
		return loan.CollectionReport{}, false, err
	}
	if !ok {
		w.logger.Debug("installment lease held elsewhere, skipping run")
		return loan.CollectionReport{}, false, nil
	}
	defer w.release(token)

	report, err := w.collector.CollectDue(ctx, w.now())
	if err != nil {
		return report, true, err
	}
	w.logger.Info("installments collected",
		slog.Time("as_of", report.AsOf),
		slog.Int("due", report.Due),
		slog.Int("collected", report.Collected),
		slog.Int("missed", report.Missed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("loans_repaid", len(report.LoansRepaid)),
	)
	return report, true, nil
}

func (w *InstallmentWorker) acquire(ctx context.Context) (string, bool, error) {
	if w.cache == nil {
		return "", true, nil
	}
	token := uuid.NewString()
	ok, err := w.cache.SetNX(ctx, leaseKey, token, w.leaseTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire installment lease: %w", err)
	}
	return token, ok, nil
}

func (w *InstallmentWorker) release(token string) {
	if w.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseLease.Run(ctx, w.cache, []string{leaseKey}, token).Err(); err != nil {
		w.logger.Warn("release installment lease", slog.Any("error", err))
	}
}
