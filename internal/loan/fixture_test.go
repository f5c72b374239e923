package loan

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/logging"
	"github.com/banka1/banking/internal/notification"
)

type fixture struct {
	store     ledger.Store
	accounts  *account.Service
	notifier  *notification.Recorder
	service   *Service
	processor *Processor
	collector *Collector
}

func newFixture(t *testing.T, clearingCapital string) *fixture {
	t.Helper()
	store := ledger.NewInMemory()
	rates := currency.DefaultTable()
	logger := logging.Discard()
	accounts := account.NewService(store, dec(clearingCapital), logger)
	notifier := &notification.Recorder{}
	processor := NewProcessor(store, rates, logger)
	return &fixture{
		store:     store,
		accounts:  accounts,
		notifier:  notifier,
		service:   NewService(store, rates, accounts, notifier, logger),
		processor: processor,
		collector: NewCollector(store, processor, accounts, notifier, logger),
	}
}

func (f *fixture) openAccount(t *testing.T, ownerID, code, balance string) ledger.Account {
	t.Helper()
	if ownerID == "" {
		ownerID = uuid.NewString()
	}
	acct, err := f.accounts.Open(context.Background(), account.OpenInput{OwnerID: ownerID, Currency: code})
	require.NoError(t, err)
	ledger.SeedBalance(f.store, acct.ID, dec(balance))
	acct.Balance = dec(balance)
	return acct
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acct, err := f.store.Account(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func (f *fixture) approvedLoan(t *testing.T, customer ledger.Account, amount string, n int) ledger.Loan {
	t.Helper()
	ctx := context.Background()
	l, err := f.service.Create(ctx, Request{
		AccountID:            customer.ID,
		LoanType:             string(ledger.LoanCash),
		NumberOfInstallments: n,
		Currency:             customer.Currency.String(),
		Amount:               dec(amount),
		Reason:               "renovation",
	})
	require.NoError(t, err)
	l, err = f.service.Approve(ctx, l.ID)
	require.NoError(t, err)
	return l
}
