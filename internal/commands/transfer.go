package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

func newTransferCommand(open servicesOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Operate on pending transfers",
	}
	cmd.AddCommand(newTransferProcessCommand(open))
	return cmd
}

func newTransferProcessCommand(open servicesOpener) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "process <transfer-id>",
		Short: "Process a pending transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			services, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			process := services.Transfers.Process
			switch strings.ToLower(kind) {
			case "":
			case "internal":
				process = services.Transfers.ProcessInternal
			case "external":
				process = services.Transfers.ProcessExternal
			default:
				return fmt.Errorf("unknown transfer type %q", kind)
			}

			tr, err := process(ctx, args[0])
			if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transfer %s %s: %s %s from %s to %s\n",
				tr.ID, tr.Status, tr.Amount.StringFixed(currency.AmountScale), tr.FromCurrency, tr.FromAccountID, tr.ToAccountID)
			return err
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "require the transfer to be internal or external")
	return cmd
}
