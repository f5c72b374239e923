package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Code is an ISO 4217 currency code supported by the bank.
type Code string

const (
	RSD Code = "RSD"
	EUR Code = "EUR"
	USD Code = "USD"
	CHF Code = "CHF"
	GBP Code = "GBP"
	JPY Code = "JPY"
	CAD Code = "CAD"
	AUD Code = "AUD"
)

// AmountScale is the number of fractional digits kept on every stored amount.
const AmountScale = 2

// ErrUnknownCurrency is returned when a currency code is not supported.
var ErrUnknownCurrency = errors.New("unknown currency")

var supported = map[Code]struct{}{
	RSD: {}, EUR: {}, USD: {}, CHF: {}, GBP: {}, JPY: {}, CAD: {}, AUD: {},
}

// ParseCode normalizes and validates a currency code.
func ParseCode(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := supported[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}

// Valid reports whether the code is supported.
func (c Code) Valid() bool {
	_, ok := supported[c]
	return ok
}

func (c Code) String() string { return string(c) }

// Round applies the ledger rounding rule: AmountScale digits, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}
