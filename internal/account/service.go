package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

// Service opens accounts and reports balances from the ledger store.
type Service struct {
	store           ledger.Store
	clearingCapital decimal.Decimal
	logger          *slog.Logger

	clearingMu sync.Mutex
}

// NewService builds an account service. clearingCapital is booked into every
// clearing account the service provisions.
func NewService(store ledger.Store, clearingCapital decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{store: store, clearingCapital: currency.Round(clearingCapital), logger: logger}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	OwnerID        string
	Currency       string
	InitialDeposit decimal.Decimal
}

// Balance encapsulates available funds for an account.
type Balance struct {
	AccountID string
	Amount    decimal.Decimal
	Currency  currency.Code
	AsOf      time.Time
}

// Open provisions an account. A positive initial deposit is booked with its
// own ledger entry so the balance is always backed by a transaction.
func (s *Service) Open(ctx context.Context, input OpenInput) (ledger.Account, error) {
	return s.open(ctx, input, "opening deposit")
}

func (s *Service) open(ctx context.Context, input OpenInput, description string) (ledger.Account, error) {
	if input.OwnerID == "" {
		return ledger.Account{}, fmt.Errorf("owner id is required: %w", ledger.ErrInvalidArgument)
	}
	code, err := currency.ParseCode(input.Currency)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	if input.InitialDeposit.IsNegative() {
		return ledger.Account{}, fmt.Errorf("initial deposit must not be negative: %w", ledger.ErrInvalidArgument)
	}

	deposit := currency.Round(input.InitialDeposit)
	acct := ledger.Account{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Balance:   deposit,
		Currency:  code,
		CreatedAt: time.Now().UTC(),
	}

	// The account and its opening entry commit together.
	err = s.store.WithinTx(ctx, []string{acct.ID}, func(tx ledger.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		if !deposit.IsPositive() {
			return nil
		}
		return tx.InsertTransaction(ctx, ledger.Transaction{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			Amount:      deposit,
			Currency:    acct.Currency,
			Timestamp:   time.Now().UTC(),
			Description: description,
		})
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("open account with %s: %w", description, err)
	}

	if s.logger != nil {
		s.logger.Info("account opened",
			slog.String("account_id", acct.ID),
			slog.String("owner_id", acct.OwnerID),
			slog.String("currency", acct.Currency.String()),
			slog.String("balance", acct.Balance.StringFixed(currency.AmountScale)),
		)
	}
	return acct, nil
}

// EnsureClearingAccount returns the bank's clearing account for the currency,
// opening it with the configured capital when missing.
func (s *Service) EnsureClearingAccount(ctx context.Context, code currency.Code) (ledger.Account, error) {
	s.clearingMu.Lock()
	defer s.clearingMu.Unlock()

	if acct, ok, err := s.findClearing(ctx, code); err != nil || ok {
		return acct, err
	}
	return s.open(ctx, OpenInput{
		OwnerID:        ledger.BankOwnerID,
		Currency:       code.String(),
		InitialDeposit: s.clearingCapital,
	}, "opening capital")
}

// ClearingAccount looks up the bank's clearing account for the currency.
func (s *Service) ClearingAccount(ctx context.Context, code currency.Code) (ledger.Account, error) {
	acct, ok, err := s.findClearing(ctx, code)
	if err != nil {
		return ledger.Account{}, err
	}
	if !ok {
		return ledger.Account{}, fmt.Errorf("clearing account %s: %w", code, ledger.ErrNotFound)
	}
	return acct, nil
}

func (s *Service) findClearing(ctx context.Context, code currency.Code) (ledger.Account, bool, error) {
	accounts, err := s.store.AccountsByOwner(ctx, ledger.BankOwnerID)
	if err != nil {
		return ledger.Account{}, false, err
	}
	for _, a := range accounts {
		if a.Currency == code {
			return a, true, nil
		}
	}
	return ledger.Account{}, false, nil
}

// Get retrieves an account.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.store.Account(ctx, id)
}

// ByOwner lists the accounts held by an owner.
func (s *Service) ByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	return s.store.AccountsByOwner(ctx, ownerID)
}

// Balance returns the committed balance of the account.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	acct, err := s.store.Account(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: acct.ID, Amount: acct.Balance, Currency: acct.Currency, AsOf: time.Now().UTC()}, nil
}
