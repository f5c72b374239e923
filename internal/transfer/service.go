package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/notification"
)

var (
	// ErrSameAccount rejects transfers whose source and destination coincide.
	ErrSameAccount = fmt.Errorf("source and destination account are the same: %w", ledger.ErrInvalidArgument)

	// ErrExternalDeclined indicates the correspondent bank refused an external transfer.
	ErrExternalDeclined = errors.New("external transfer declined")
)

// Service creates transfers and moves their funds through the ledger.
type Service struct {
	store         ledger.Store
	rates         *currency.Table
	accounts      *account.Service
	correspondent Correspondent
	notifier      notification.Notifier
	logger        *slog.Logger
}

// NewService constructs a transfer service. A nil correspondent approves every
// external transfer; a nil notifier disables notifications.
func NewService(store ledger.Store, rates *currency.Table, accounts *account.Service, correspondent Correspondent, notifier notification.Notifier, logger *slog.Logger) *Service {
	if correspondent == nil {
		correspondent = StaticCorrespondent{}
	}
	return &Service{
		store:         store,
		rates:         rates,
		accounts:      accounts,
		correspondent: correspondent,
		notifier:      notifier,
		logger:        logger,
	}
}

// CreateInput captures a transfer request.
type CreateInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Type          string
}

// Create records a PENDING transfer. The destination must exist locally for
// INTERNAL transfers; EXTERNAL transfers may target a foreign account.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Transfer, error) {
	amount := currency.Round(input.Amount)
	if !amount.IsPositive() {
		return ledger.Transfer{}, fmt.Errorf("amount must be positive: %w", ledger.ErrInvalidArgument)
	}
	kind := ledger.TransferType(input.Type)
	if !kind.Valid() {
		return ledger.Transfer{}, fmt.Errorf("unknown transfer type %q: %w", input.Type, ledger.ErrInvalidArgument)
	}
	code, err := currency.ParseCode(input.Currency)
	if err != nil {
		return ledger.Transfer{}, fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	if input.ToAccountID == "" {
		return ledger.Transfer{}, fmt.Errorf("destination account is required: %w", ledger.ErrInvalidArgument)
	}
	if input.FromAccountID == input.ToAccountID {
		return ledger.Transfer{}, ErrSameAccount
	}

	if _, err := s.store.Account(ctx, input.FromAccountID); err != nil {
		return ledger.Transfer{}, err
	}
	toCurrency := code
	dest, err := s.store.Account(ctx, input.ToAccountID)
	switch {
	case err == nil:
		toCurrency = dest.Currency
	case errors.Is(err, ledger.ErrNotFound) && kind == ledger.TransferExternal:
	default:
		return ledger.Transfer{}, err
	}

	tr := ledger.Transfer{
		ID:            uuid.NewString(),
		FromAccountID: input.FromAccountID,
		ToAccountID:   input.ToAccountID,
		Amount:        amount,
		FromCurrency:  code,
		ToCurrency:    toCurrency,
		Status:        ledger.TransferPending,
		Type:          kind,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateTransfer(ctx, tr); err != nil {
		return ledger.Transfer{}, err
	}
	return tr, nil
}

// Process executes a PENDING transfer of either type.
func (s *Service) Process(ctx context.Context, id string) (ledger.Transfer, error) {
	return s.process(ctx, id, "")
}

// ProcessInternal executes a PENDING same-bank transfer.
func (s *Service) ProcessInternal(ctx context.Context, id string) (ledger.Transfer, error) {
	return s.process(ctx, id, ledger.TransferInternal)
}

// ProcessExternal executes a PENDING cross-bank transfer.
func (s *Service) ProcessExternal(ctx context.Context, id string) (ledger.Transfer, error) {
	return s.process(ctx, id, ledger.TransferExternal)
}

func (s *Service) process(ctx context.Context, id string, want ledger.TransferType) (ledger.Transfer, error) {
	tr, err := s.store.Transfer(ctx, id)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if want != "" && tr.Type != want {
		return tr, fmt.Errorf("transfer %s is %s, not %s: %w", id, tr.Type, want, ledger.ErrInvalidState)
	}
	if tr.Status != ledger.TransferPending {
		return tr, fmt.Errorf("transfer %s already %s: %w", id, tr.Status, ledger.ErrInvalidState)
	}

	source, err := s.store.Account(ctx, tr.FromAccountID)
	if err != nil {
		return tr, err
	}
	counterpartID, err := s.counterpart(ctx, tr)
	if err != nil {
		return tr, err
	}
	// A transfer whose credit lands on its own source would overwrite the debit.
	if counterpartID == tr.FromAccountID {
		return tr, fmt.Errorf("transfer %s credits its source account %s: %w", id, counterpartID, ErrSameAccount)
	}

	var (
		outcome      ledger.Transfer
		insufficient bool
		declined     string
		payee        string
	)
	err = s.store.WithinTx(ctx, []string{tr.ID, tr.FromAccountID, counterpartID}, func(tx ledger.Tx) error {
		cur, err := tx.Transfer(ctx, id)
		if err != nil {
			return err
		}
		if err := cur.Status.Transition(ledger.TransferCompleted); err != nil {
			return fmt.Errorf("transfer %s: %w", id, err)
		}

		// The transfer lock is held, so a concurrent attempt waits and then
		// finds the transfer settled instead of authorizing it a second time.
		if cur.Type == ledger.TransferExternal {
			decision, err := s.correspondent.Authorize(ctx, ExternalPayment{
				TransferID:    cur.ID,
				FromAccountID: cur.FromAccountID,
				ToAccountID:   cur.ToAccountID,
				Amount:        cur.Amount,
				Currency:      cur.FromCurrency,
			})
			if err != nil {
				return fmt.Errorf("authorize external transfer %s: %w", id, err)
			}
			if !decision.Approved {
				declined = decision.Reason
				now := time.Now().UTC()
				cur.Status = ledger.TransferFailed
				cur.FailureReason = "declined by correspondent: " + decision.Reason
				cur.CompletedAt = &now
				outcome = cur
				return tx.SaveTransfer(ctx, cur)
			}
			if s.logger != nil {
				s.logger.Info("external transfer authorized",
					slog.String("transfer_id", cur.ID),
					slog.String("reference", decision.Reference),
				)
			}
		}

		src, err := tx.Account(ctx, cur.FromAccountID)
		if err != nil {
			return err
		}
		dst, err := tx.Account(ctx, counterpartID)
		if err != nil {
			return err
		}

		debit, err := s.rates.Convert(cur.Amount, cur.FromCurrency, src.Currency)
		if err != nil {
			return err
		}
		credit, err := s.rates.Convert(cur.Amount, cur.FromCurrency, dst.Currency)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if src.Balance.LessThan(debit) {
			insufficient = true
			cur.Status = ledger.TransferFailed
			cur.FailureReason = "insufficient funds"
			cur.CompletedAt = &now
			outcome = cur
			return tx.SaveTransfer(ctx, cur)
		}

		if dst.ID == cur.ToAccountID {
			payee = dst.OwnerID
		}
		src.Balance = src.Balance.Sub(debit)
		dst.Balance = dst.Balance.Add(credit)
		if err := tx.SaveAccount(ctx, src); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, dst); err != nil {
			return err
		}

		creditNote := "transfer from " + cur.FromAccountID
		if dst.ID != cur.ToAccountID {
			creditNote = "external transfer to " + cur.ToAccountID
		}
		if err := tx.InsertTransaction(ctx, ledger.Transaction{
			ID:          uuid.NewString(),
			AccountID:   src.ID,
			Amount:      debit.Neg(),
			Currency:    src.Currency,
			Timestamp:   now,
			TransferID:  cur.ID,
			Description: "transfer to " + cur.ToAccountID,
		}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, ledger.Transaction{
			ID:          uuid.NewString(),
			AccountID:   dst.ID,
			Amount:      credit,
			Currency:    dst.Currency,
			Timestamp:   now,
			TransferID:  cur.ID,
			Description: creditNote,
		}); err != nil {
			return err
		}

		cur.Status = ledger.TransferCompleted
		cur.CompletedAt = &now
		outcome = cur
		return tx.SaveTransfer(ctx, cur)
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("transfer processing aborted", slog.String("transfer_id", id), slog.Any("error", err))
		}
		return tr, err
	}

	if s.logger != nil {
		s.logger.Info("transfer processed",
			slog.String("transfer_id", outcome.ID),
			slog.String("type", string(outcome.Type)),
			slog.String("status", string(outcome.Status)),
			slog.String("amount", outcome.Amount.StringFixed(currency.AmountScale)),
			slog.String("currency", outcome.FromCurrency.String()),
		)
	}
	amount := outcome.Amount.StringFixed(currency.AmountScale)
	if outcome.Status == ledger.TransferFailed && !insufficient {
		s.notify(ctx, notification.KindTransferFailed, source.OwnerID,
			fmt.Sprintf("Transfer of %s %s to %s was declined", amount, outcome.FromCurrency, outcome.ToAccountID))
		return outcome, fmt.Errorf("transfer %s: %w: %s", id, ErrExternalDeclined, declined)
	}
	if insufficient {
		s.notify(ctx, notification.KindTransferFailed, source.OwnerID,
			fmt.Sprintf("Transfer of %s %s to %s failed: insufficient funds", amount, outcome.FromCurrency, outcome.ToAccountID))
		return outcome, fmt.Errorf("transfer %s: %w", id, ledger.ErrInsufficientFunds)
	}
	if payee != "" {
		s.notify(ctx, notification.KindTransferCompleted, payee,
			fmt.Sprintf("You received %s %s from account %s", amount, outcome.FromCurrency, outcome.FromAccountID))
	}
	return outcome, nil
}

// counterpart resolves the account credited by the transfer: the local
// destination when it exists, otherwise the clearing account that books the
// outgoing leg of an external transfer.
func (s *Service) counterpart(ctx context.Context, tr ledger.Transfer) (string, error) {
	dest, err := s.store.Account(ctx, tr.ToAccountID)
	if err == nil {
		return dest.ID, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) || tr.Type != ledger.TransferExternal {
		return "", err
	}
	clearing, err := s.accounts.EnsureClearingAccount(ctx, tr.ToCurrency)
	if err != nil {
		return "", fmt.Errorf("resolve clearing account %s: %w", tr.ToCurrency, err)
	}
	return clearing.ID, nil
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil && s.logger != nil {
		s.logger.Warn("notification not delivered", slog.String("kind", kind), slog.Any("error", err))
	}
}

// TransactionsByUser returns the ledger entries of every account the user owns, newest first.
func (s *Service) TransactionsByUser(ctx context.Context, ownerID string) ([]ledger.Transaction, error) {
	accounts, err := s.store.AccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []ledger.Transaction{}, nil
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return s.store.TransactionsByAccounts(ctx, ids)
}
