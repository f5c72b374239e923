package loan

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

// storedLoan records an approved loan and its first installment directly in
// the store, bypassing disbursement.
func storedLoan(t *testing.T, f *fixture, accountID string, code currency.Code, amount, rate string, n int) ledger.Installment {
	t.Helper()
	ctx := context.Background()
	payment, err := CalculateInstallment(dec(amount), dec(rate), n)
	require.NoError(t, err)

	l := ledger.Loan{
		ID:                   uuid.NewString(),
		LoanType:             ledger.LoanCash,
		NumberOfInstallments: n,
		CurrencyType:         code,
		InterestType:         ledger.InterestFixed,
		PaymentStatus:        ledger.LoanApproved,
		NominalRate:          dec(rate),
		EffectiveRate:        EffectiveRate(dec(rate)),
		LoanAmount:           dec(amount),
		Duration:             n,
		CreatedDate:          time.Now().UTC(),
		MonthlyPayment:       payment,
		RemainingAmount:      dec(amount),
		AccountID:            accountID,
	}
	require.NoError(t, f.store.CreateLoan(ctx, l))
	return Schedule(l, time.Now().UTC())[0]
}

func TestProcessInstallmentCollectsDue(t *testing.T) {
	f := newFixture(t, "0")
	customer := f.openAccount(t, "", "USD", "1000")
	bank := f.openAccount(t, ledger.BankOwnerID, "USD", "0")
	inst := storedLoan(t, f, customer.ID, currency.USD, "1000", "12", 12)
	before := ledger.TransactionCount(f.store)

	paid, err := f.processor.ProcessInstallment(context.Background(), customer.ID, bank.ID, inst)
	require.NoError(t, err)
	assert.True(t, paid)

	assert.Equal(t, "911.15", f.balance(t, customer.ID).StringFixed(2))
	assert.Equal(t, "88.85", f.balance(t, bank.ID).StringFixed(2))
	assert.Equal(t, 1, ledger.TransactionCount(f.store)-before, "exactly one ledger entry")
}

func TestProcessInstallmentInsufficientFundsIsSoftFailure(t *testing.T) {
	f := newFixture(t, "0")
	customer := f.openAccount(t, "", "USD", "50")
	bank := f.openAccount(t, ledger.BankOwnerID, "USD", "0")
	inst := storedLoan(t, f, customer.ID, currency.USD, "1000", "0", 10)
	before := ledger.TransactionCount(f.store)

	paid, err := f.processor.ProcessInstallment(context.Background(), customer.ID, bank.ID, inst)
	require.NoError(t, err)
	assert.False(t, paid)

	assert.Equal(t, "50.00", f.balance(t, customer.ID).StringFixed(2))
	assert.True(t, f.balance(t, bank.ID).IsZero())
	assert.Equal(t, before, ledger.TransactionCount(f.store))
}

func TestProcessInstallmentConvertsToAccountCurrencies(t *testing.T) {
	f := newFixture(t, "0")
	customer := f.openAccount(t, "", "RSD", "20000")
	bank := f.openAccount(t, ledger.BankOwnerID, "EUR", "0")
	inst := storedLoan(t, f, customer.ID, currency.EUR, "1000", "0", 10)

	paid, err := f.processor.ProcessInstallment(context.Background(), customer.ID, bank.ID, inst)
	require.NoError(t, err)
	require.True(t, paid)

	assert.Equal(t, "8283.00", f.balance(t, customer.ID).StringFixed(2))
	assert.Equal(t, "100.00", f.balance(t, bank.ID).StringFixed(2))
}

func TestProcessInstallmentUnknownLoan(t *testing.T) {
	f := newFixture(t, "0")
	customer := f.openAccount(t, "", "USD", "1000")
	bank := f.openAccount(t, ledger.BankOwnerID, "USD", "0")

	_, err := f.processor.ProcessInstallment(context.Background(), customer.ID, bank.ID, ledger.Installment{ID: "i-1", LoanID: "missing"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestProcessInstallmentRejectsSameAccount(t *testing.T) {
	f := newFixture(t, "0")
	customer := f.openAccount(t, "", "USD", "1000")
	inst := storedLoan(t, f, customer.ID, currency.USD, "1000", "12", 12)
	before := ledger.TransactionCount(f.store)

	paid, err := f.processor.ProcessInstallment(context.Background(), customer.ID, customer.ID, inst)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.False(t, paid)
	assert.Equal(t, "1000.00", f.balance(t, customer.ID).StringFixed(2))
	assert.Equal(t, before, ledger.TransactionCount(f.store))
}
