package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banka1/banking/internal/app"
	"github.com/banka1/banking/internal/buildinfo"
	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/infra"
	"github.com/banka1/banking/internal/logging"
)

// servicesOpener connects to the ledger and returns the domain services with
// a function releasing their resources.
type servicesOpener func(ctx context.Context) (*app.Services, func(), error)

// NewRootCommand creates the bankctl command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openServices)
}

func newRootCommand(open servicesOpener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "bankctl",
		Short:   "Back-office operations for the banking ledger",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newInstallmentCommand())
	rootCmd.AddCommand(newConvertCommand())
	rootCmd.AddCommand(newTransferCommand(open))
	rootCmd.AddCommand(newCollectCommand(open))

	return rootCmd
}

func openServices(ctx context.Context) (*app.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL must be set")
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, "bankctl")
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewWriter(os.Stderr, cfg.LogLevel, "text")
	services, err := app.NewServices(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return services, db.Close, nil
}
