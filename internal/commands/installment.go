package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/loan"
)

func newInstallmentCommand() *cobra.Command {
	var (
		principal    string
		rate         string
		installments int
		schedule     bool
	)

	cmd := &cobra.Command{
		Use:   "installment",
		Short: "Quote the monthly payment of a loan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := decimal.NewFromString(principal)
			if err != nil {
				return fmt.Errorf("invalid principal %q: %w", principal, err)
			}
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", rate, err)
			}
			payment, err := loan.CalculateInstallment(p, r, installments)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "monthly payment: %s\n", payment.StringFixed(currency.AmountScale))
			if !schedule {
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tpayment\tinterest\tprincipal\tremaining")
			remaining := currency.Round(p)
			for i := 1; i <= installments; i++ {
				part := loan.PrincipalComponent(payment, remaining, r)
				if i == installments {
					part = remaining
				}
				interest := currency.Round(remaining.Mul(loan.MonthlyRate(r)))
				remaining = remaining.Sub(part)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i,
					part.Add(interest).StringFixed(currency.AmountScale),
					interest.StringFixed(currency.AmountScale),
					part.StringFixed(currency.AmountScale),
					remaining.StringFixed(currency.AmountScale))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "loan principal (required)")
	_ = cmd.MarkFlagRequired("principal")
	cmd.Flags().StringVar(&rate, "rate", "0", "annual interest rate in percent")
	cmd.Flags().IntVar(&installments, "installments", 0, "number of monthly installments (required)")
	_ = cmd.MarkFlagRequired("installments")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "print the amortization schedule")

	return cmd
}
