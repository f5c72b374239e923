package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/loan"
	"github.com/banka1/banking/internal/notification"
	"github.com/banka1/banking/internal/transfer"
)

// Services holds the domain services shared by the HTTP server, the worker
// and the CLI.
type Services struct {
	Store     ledger.Store
	Rates     *currency.Table
	Accounts  *account.Service
	Transfers *transfer.Service
	Loans     *loan.Service
	Processor *loan.Processor
	Collector *loan.Collector
}

// NewServices wires the domain services. A nil db selects the in-memory
// ledger; otherwise the Postgres schema is migrated first.
func NewServices(ctx context.Context, cfg config.Config, db *pgxpool.Pool, logger *slog.Logger) (*Services, error) {
	var store ledger.Store
	if db != nil {
		pg := ledger.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate ledger schema: %w", err)
		}
		store = pg
	} else {
		if !cfg.Development() {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", cfg.AppEnv)
		}
		store = ledger.NewInMemory()
	}

	rates, err := cfg.RateTable()
	if err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}

	notifier := notification.NewLoggerNotifier(logger)
	accounts := account.NewService(store, cfg.ClearingCapital, logger)
	if _, err := accounts.EnsureClearingAccount(ctx, rates.Pivot()); err != nil {
		return nil, fmt.Errorf("provision clearing account: %w", err)
	}
	processor := loan.NewProcessor(store, rates, logger)

	return &Services{
		Store:     store,
		Rates:     rates,
		Accounts:  accounts,
		Transfers: transfer.NewService(store, rates, accounts, transfer.StaticCorrespondent{}, notifier, logger),
		Loans:     loan.NewService(store, rates, accounts, notifier, logger),
		Processor: processor,
		Collector: loan.NewCollector(store, processor, accounts, notifier, logger),
	}, nil
}
