package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCollectCommand(open servicesOpener) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect loan installments that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := time.Now().UTC()
			if asOf != "" {
				d, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q, want YYYY-MM-DD: %w", asOf, err)
				}
				// Include everything due during that day.
				when = d.Add(24*time.Hour - time.Nanosecond)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			services, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := services.Collector.CollectDue(ctx, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "as of %s: due=%d collected=%d missed=%d skipped=%d failed=%d repaid=%d\n",
				report.AsOf.Format(time.DateOnly), report.Due, report.Collected, report.Missed, report.Skipped, report.Failed, len(report.LoansRepaid))
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "collect installments due up to this date (YYYY-MM-DD), defaults to now")
	return cmd
}
