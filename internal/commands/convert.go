package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/currency"
)

func newConvertCommand() *cobra.Command {
	var (
		amount    string
		from      string
		to        string
		ratesFile string
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an amount with the configured exchange-rate table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			src, err := currency.ParseCode(from)
			if err != nil {
				return err
			}
			dst, err := currency.ParseCode(to)
			if err != nil {
				return err
			}

			table, err := config.Config{ExchangeRatesFile: ratesFile}.RateTable()
			if err != nil {
				return err
			}
			converted, err := table.Convert(value, src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s %s\n",
				currency.Round(value).StringFixed(currency.AmountScale), src, converted.StringFixed(currency.AmountScale), dst)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount to convert (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&from, "from", "", "source currency (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&to, "to", "", "target currency (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&ratesFile, "rates", "", "YAML rate table, defaults to the built-in table")

	return cmd
}
