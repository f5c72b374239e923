package loan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

// Processor moves installment money from a customer account to the bank.
// It does no loan bookkeeping; callers mark installments paid.
type Processor struct {
	store  ledger.Store
	rates  *currency.Table
	logger *slog.Logger
}

// NewProcessor constructs an installment processor.
func NewProcessor(store ledger.Store, rates *currency.Table, logger *slog.Logger) *Processor {
	return &Processor{store: store, rates: rates, logger: logger}
}

// ProcessInstallment collects the amount due for installment from the
// customer account into the bank account. It reports false, with nothing
// written, when the customer cannot cover the full amount.
func (p *Processor) ProcessInstallment(ctx context.Context, customerAccountID, bankAccountID string, installment ledger.Installment) (bool, error) {
	loan, err := p.store.Loan(ctx, installment.LoanID)
	if err != nil {
		return false, err
	}

	var paid bool
	err = p.store.WithinTx(ctx, []string{customerAccountID, bankAccountID}, func(tx ledger.Tx) error {
		var err error
		paid, err = p.move(ctx, tx, loan, customerAccountID, bankAccountID, installment)
		return err
	})
	if err != nil {
		return false, err
	}
	return paid, nil
}

// move performs the money movement inside an open unit of work that holds
// locks on both accounts.
func (p *Processor) move(ctx context.Context, tx ledger.Tx, loan ledger.Loan, customerAccountID, bankAccountID string, installment ledger.Installment) (bool, error) {
	if customerAccountID == bankAccountID {
		return false, fmt.Errorf("installment %s: customer and bank account are both %s: %w", installment.ID, customerAccountID, ledger.ErrInvalidArgument)
	}
	due, err := CalculateInstallment(loan.LoanAmount, installment.InterestRate, loan.NumberOfInstallments)
	if err != nil {
		return false, err
	}

	customer, err := tx.Account(ctx, customerAccountID)
	if err != nil {
		return false, err
	}
	bank, err := tx.Account(ctx, bankAccountID)
	if err != nil {
		return false, err
	}

	debit, err := p.rates.Convert(due, loan.CurrencyType, customer.Currency)
	if err != nil {
		return false, err
	}
	if customer.Balance.LessThan(debit) {
		if p.logger != nil {
			p.logger.Info("installment not covered",
				slog.String("installment_id", installment.ID),
				slog.String("account_id", customer.ID),
				slog.String("due", debit.StringFixed(currency.AmountScale)),
				slog.String("balance", customer.Balance.StringFixed(currency.AmountScale)),
			)
		}
		return false, nil
	}
	credit, err := p.rates.Convert(due, loan.CurrencyType, bank.Currency)
	if err != nil {
		return false, err
	}

	customer.Balance = customer.Balance.Sub(debit)
	bank.Balance = bank.Balance.Add(credit)
	if err := tx.SaveAccount(ctx, customer); err != nil {
		return false, err
	}
	if err := tx.SaveAccount(ctx, bank); err != nil {
		return false, err
	}
	if err := tx.InsertTransaction(ctx, ledger.Transaction{
		ID:          uuid.NewString(),
		AccountID:   customer.ID,
		Amount:      debit.Neg(),
		Currency:    customer.Currency,
		Timestamp:   time.Now().UTC(),
		LoanID:      loan.ID,
		Description: fmt.Sprintf("installment %d of loan %s", installment.Sequence, loan.ID),
	}); err != nil {
		return false, err
	}
	return true, nil
}
