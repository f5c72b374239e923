package loan

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// MonthlyRate converts an annual percentage into the periodic rate applied
// each month, e.g. 12 -> 0.01.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(hundred).Div(monthsInYear)
}

// CalculateInstallment returns the level monthly payment that amortizes
// principal over n months at annualRatePercent, rounded to cents.
func CalculateInstallment(principal, annualRatePercent decimal.Decimal, n int) (decimal.Decimal, error) {
	if n <= 0 {
		return decimal.Zero, fmt.Errorf("number of installments must be positive, got %d: %w", n, ledger.ErrInvalidArgument)
	}
	periods := decimal.NewFromInt(int64(n))
	if annualRatePercent.IsZero() {
		return currency.Round(principal.Div(periods)), nil
	}

	r := MonthlyRate(annualRatePercent)
	growth := decimal.NewFromInt(1).Add(r).Pow(periods)
	payment := principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return currency.Round(payment), nil
}

// PrincipalComponent splits a payment against the outstanding balance and
// returns the part that reduces it. The result never exceeds remaining.
func PrincipalComponent(payment, remaining, annualRatePercent decimal.Decimal) decimal.Decimal {
	interest := currency.Round(remaining.Mul(MonthlyRate(annualRatePercent)))
	principal := payment.Sub(interest)
	if principal.IsNegative() {
		return decimal.Zero
	}
	if principal.GreaterThan(remaining) {
		return remaining
	}
	return principal
}
