package loan

import (
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/ledger"
)

type bracket struct {
	upTo decimal.Decimal
	rate decimal.Decimal
}

// Base annual rates by loan amount, inclusive upper bounds.
var baseRates = []bracket{
	{decimal.NewFromInt(500_000), decimal.RequireFromString("6.25")},
	{decimal.NewFromInt(1_000_000), decimal.RequireFromString("6.00")},
	{decimal.NewFromInt(2_000_000), decimal.RequireFromString("5.75")},
	{decimal.NewFromInt(5_000_000), decimal.RequireFromString("5.50")},
	{decimal.NewFromInt(10_000_000), decimal.RequireFromString("5.25")},
	{decimal.NewFromInt(20_000_000), decimal.RequireFromString("5.00")},
}

var topRate = decimal.RequireFromString("4.75")

var margins = map[ledger.LoanType]decimal.Decimal{
	ledger.LoanCash:        decimal.RequireFromString("1.75"),
	ledger.LoanMortgage:    decimal.RequireFromString("1.50"),
	ledger.LoanAuto:        decimal.RequireFromString("1.25"),
	ledger.LoanRefinancing: decimal.RequireFromString("1.00"),
	ledger.LoanStudent:     decimal.RequireFromString("0.75"),
}

// BaseRate returns the annual base rate for the amount.
func BaseRate(amount decimal.Decimal) decimal.Decimal {
	for _, b := range baseRates {
		if amount.LessThanOrEqual(b.upTo) {
			return b.rate
		}
	}
	return topRate
}

// Margin returns the bank's margin for the loan type.
func Margin(t ledger.LoanType) decimal.Decimal {
	return margins[t]
}

// NominalRate is the annual rate quoted for a loan.
func NominalRate(amount decimal.Decimal, t ledger.LoanType) decimal.Decimal {
	return BaseRate(amount).Add(Margin(t))
}

// EffectiveRate compounds a nominal annual rate monthly, in percent.
func EffectiveRate(nominal decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	compounded := one.Add(MonthlyRate(nominal)).Pow(monthsInYear)
	return compounded.Sub(one).Mul(hundred).Round(4)
}

// AllowedTerm reports whether a loan of type t may be repaid in n monthly
// installments: mortgages 60 to 360 in steps of 60, everything else 12 to 84
// in steps of 12.
func AllowedTerm(t ledger.LoanType, n int) bool {
	if t == ledger.LoanMortgage {
		return n >= 60 && n <= 360 && n%60 == 0
	}
	return n >= 12 && n <= 84 && n%12 == 0
}
