package currency

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedPair is returned when no rate, direct or derived, exists for a pair.
var ErrUnsupportedPair = errors.New("unsupported currency pair")

// Pair identifies a conversion direction.
type Pair struct {
	From Code
	To   Code
}

// Table is a read-only exchange rate lookup. A rate r for {From, To} means
// 1 unit of From buys r units of To.
type Table struct {
	pivot Code
	rates map[Pair]decimal.Decimal
}

// NewTable copies the provided rates into an immutable table. Rates that are
// not positive are rejected.
func NewTable(pivot Code, rates map[Pair]decimal.Decimal) (*Table, error) {
	if !pivot.Valid() {
		return nil, fmt.Errorf("pivot: %w: %q", ErrUnknownCurrency, pivot)
	}
	t := &Table{pivot: pivot, rates: make(map[Pair]decimal.Decimal, len(rates))}
	for p, r := range rates {
		if !p.From.Valid() || !p.To.Valid() {
			return nil, fmt.Errorf("rate %s/%s: %w", p.From, p.To, ErrUnknownCurrency)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate %s/%s must be positive, got %s", p.From, p.To, r)
		}
		t.rates[p] = r
	}
	return t, nil
}

// DefaultTable returns the built-in middle rates quoted against RSD.
func DefaultTable() *Table {
	quote := map[Code]string{
		EUR: "117.17",
		USD: "108.36",
		CHF: "122.53",
		GBP: "138.80",
		JPY: "0.7235",
		CAD: "77.81",
		AUD: "69.91",
	}
	rates := make(map[Pair]decimal.Decimal, len(quote))
	for c, r := range quote {
		rates[Pair{From: c, To: RSD}] = decimal.RequireFromString(r)
	}
	t, _ := NewTable(RSD, rates)
	return t
}

// Pivot returns the cross-rate currency.
func (t *Table) Pivot() Code { return t.pivot }

// Rate resolves the conversion rate from one currency to another: identity,
// direct quote, inverse quote, then a cross through the pivot currency.
func (t *Table) Rate(from, to Code) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := t.lookup(from, to); ok {
		return r, nil
	}
	if from != t.pivot && to != t.pivot {
		in, okIn := t.lookup(from, t.pivot)
		out, okOut := t.lookup(t.pivot, to)
		if okIn && okOut {
			return in.Mul(out), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, from, to)
}

// Convert expresses amount (in from) in the to currency, rounded to the ledger scale.
func (t *Table) Convert(amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if from == to {
		return Round(amount), nil
	}
	rate, err := t.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(amount.Mul(rate)), nil
}

func (t *Table) lookup(from, to Code) (decimal.Decimal, bool) {
	if r, ok := t.rates[Pair{From: from, To: to}]; ok {
		return r, true
	}
	if r, ok := t.rates[Pair{From: to, To: from}]; ok {
		return decimal.NewFromInt(1).Div(r), true
	}
	return decimal.Zero, false
}

type fileRate struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Rate string `yaml:"rate"`
}

type fileTable struct {
	Pivot string     `yaml:"pivot"`
	Rates []fileRate `yaml:"rates"`
}

// LoadFile reads a YAML rate table:
//
//	pivot: RSD
//	rates:
//	  - {from: EUR, to: RSD, rate: "117.17"}
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate table: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML rate table document.
func Parse(data []byte) (*Table, error) {
	var doc fileTable
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rate table: %w", err)
	}
	pivot := RSD
	if doc.Pivot != "" {
		p, err := ParseCode(doc.Pivot)
		if err != nil {
			return nil, err
		}
		pivot = p
	}
	rates := make(map[Pair]decimal.Decimal, len(doc.Rates))
	for i, r := range doc.Rates {
		from, err := ParseCode(r.From)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i, err)
		}
		to, err := ParseCode(r.To)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i, err)
		}
		value, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate %d (%s/%s): %w", i, from, to, err)
		}
		rates[Pair{From: from, To: to}] = value
	}
	return NewTable(pivot, rates)
}
