package loan

import (
	"context"
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

// ErrInvalidTerm rejects a loan request whose number of installments is not
// offered for its loan type.
var ErrInvalidTerm = fmt.Errorf("wrong number of installments: %w", ledger.ErrInvalidArgument)

// Service handles loan requests, approval and queries.
type Service struct {
	store    ledger.Store
	rates    *currency.Table
	accounts *account.Service
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a loan service.
func NewService(store ledger.Store, rates *currency.Table, accounts *account.Service, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		rates:    rates,
		accounts: accounts,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Request captures a customer's loan application.
type Request struct {
	AccountID            string
	LoanType             string
	NumberOfInstallments int
	Currency             string
	InterestType         string
	Amount               decimal.Decimal
	Reason               string
}

// Create validates and prices a loan request and stores it as PENDING.
func (s *Service) Create(ctx context.Context, req Request) (ledger.Loan, error) {
	loanType := ledger.LoanType(req.LoanType)
	if !loanType.Valid() {
		return ledger.Loan{}, fmt.Errorf("unknown loan type %q: %w", req.LoanType, ledger.ErrInvalidArgument)
	}
	interestType := ledger.InterestType(req.InterestType)
	if interestType == "" {
		interestType = ledger.InterestFixed
	}
	if !interestType.Valid() {
		return ledger.Loan{}, fmt.Errorf("unknown interest type %q: %w", req.InterestType, ledger.ErrInvalidArgument)
	}
	code, err := currency.ParseCode(req.Currency)
	if err != nil {
		return ledger.Loan{}, fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	amount := currency.Round(req.Amount)
	if !amount.IsPositive() {
		return ledger.Loan{}, fmt.Errorf("loan amount must be positive: %w", ledger.ErrInvalidArgument)
	}
	if !AllowedTerm(loanType, req.NumberOfInstallments) {
		return ledger.Loan{}, fmt.Errorf("%d for %s: %w", req.NumberOfInstallments, loanType, ErrInvalidTerm)
	}
	acct, err := s.store.Account(ctx, req.AccountID)
	if err != nil {
		return ledger.Loan{}, err
	}
	if acct.OwnerID == ledger.BankOwnerID {
		return ledger.Loan{}, fmt.Errorf("account %s belongs to the bank: %w", acct.ID, ledger.ErrInvalidArgument)
	}

	nominal := NominalRate(amount, loanType)
	payment, err := CalculateInstallment(amount, nominal, req.NumberOfInstallments)
	if err != nil {
		return ledger.Loan{}, err
	}

	l := ledger.Loan{
		ID:                   uuid.NewString(),
		LoanType:             loanType,
		NumberOfInstallments: req.NumberOfInstallments,
		CurrencyType:         code,
		InterestType:         interestType,
		PaymentStatus:        ledger.LoanPending,
		NominalRate:          nominal,
		EffectiveRate:        EffectiveRate(nominal),
		LoanAmount:           amount,
		Duration:             req.NumberOfInstallments,
		CreatedDate:          s.now(),
		MonthlyPayment:       payment,
		RemainingAmount:      amount,
		LoanReason:           req.Reason,
		AccountID:            req.AccountID,
	}
	if err := s.store.CreateLoan(ctx, l); err != nil {
		return ledger.Loan{}, err
	}

	if s.logger != nil {
		s.logger.Info("loan requested",
			slog.String("loan_id", l.ID),
			slog.String("account_id", l.AccountID),
			slog.String("type", string(l.LoanType)),
			slog.String("amount", l.LoanAmount.StringFixed(currency.AmountScale)),
			slog.String("nominal_rate", l.NominalRate.String()),
		)
	}
	return l, nil
}

// Approve disburses a pending loan from the bank's clearing account and
// generates its installment schedule.
func (s *Service) Approve(ctx context.Context, id string) (ledger.Loan, error) {
	l, err := s.store.Loan(ctx, id)
	if err != nil {
		return ledger.Loan{}, err
	}
	if err := l.PaymentStatus.Transition(ledger.LoanApproved); err != nil {
		return l, err
	}
	customer, err := s.store.Account(ctx, l.AccountID)
	if err != nil {
		return l, err
	}
	clearing, err := s.accounts.EnsureClearingAccount(ctx, l.CurrencyType)
	if err != nil {
		return l, fmt.Errorf("resolve clearing account %s: %w", l.CurrencyType, err)
	}
	if customer.ID == clearing.ID {
		return l, fmt.Errorf("loan %s would be disbursed into its own clearing account: %w", l.ID, ledger.ErrInvalidArgument)
	}

	var approved ledger.Loan
	err = s.store.WithinTx(ctx, []string{l.ID, customer.ID, clearing.ID}, func(tx ledger.Tx) error {
		cur, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if err := cur.PaymentStatus.Transition(ledger.LoanApproved); err != nil {
			return err
		}

		bank, err := tx.Account(ctx, clearing.ID)
		if err != nil {
			return err
		}
		cust, err := tx.Account(ctx, customer.ID)
		if err != nil {
			return err
		}
		debit, err := s.rates.Convert(cur.LoanAmount, cur.CurrencyType, bank.Currency)
		if err != nil {
			return err
		}
		credit, err := s.rates.Convert(cur.LoanAmount, cur.CurrencyType, cust.Currency)
		if err != nil {
			return err
		}
		if bank.Balance.LessThan(debit) {
			return fmt.Errorf("clearing account %s cannot fund loan %s: %w", bank.ID, cur.ID, ledger.ErrInsufficientFunds)
		}

		bank.Balance = bank.Balance.Sub(debit)
		cust.Balance = cust.Balance.Add(credit)
		if err := tx.SaveAccount(ctx, bank); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, cust); err != nil {
			return err
		}

		now := s.now()
		for _, entry := range []ledger.Transaction{
			{AccountID: bank.ID, Amount: debit.Neg(), Currency: bank.Currency, Description: "loan disbursement " + cur.ID},
			{AccountID: cust.ID, Amount: credit, Currency: cust.Currency, Description: "loan disbursement"},
		} {
			entry.ID = uuid.NewString()
			entry.Timestamp = now
			entry.LoanID = cur.ID
			if err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}
		}

		schedule := Schedule(cur, now)
		if err := tx.InsertInstallments(ctx, schedule); err != nil {
			return err
		}

		first := schedule[0].DueDate
		cur.PaymentStatus = ledger.LoanApproved
		cur.AllowedDate = &now
		cur.NextPaymentDate = &first
		approved = cur
		return tx.SaveLoan(ctx, cur)
	})
	if err != nil {
		return l, err
	}

	if s.logger != nil {
		s.logger.Info("loan approved",
			slog.String("loan_id", approved.ID),
			slog.String("account_id", approved.AccountID),
			slog.Int("installments", approved.NumberOfInstallments),
		)
	}
	s.notify(ctx, notification.KindLoanApproved, customer.OwnerID,
		fmt.Sprintf("Your %s loan of %s %s was approved", approved.LoanType, approved.LoanAmount.StringFixed(currency.AmountScale), approved.CurrencyType))
	return approved, nil
}

// Reject closes a pending loan without disbursing it.
func (s *Service) Reject(ctx context.Context, id string) (ledger.Loan, error) {
	var rejected ledger.Loan
	err := s.store.WithinTx(ctx, []string{id}, func(tx ledger.Tx) error {
		cur, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if err := cur.PaymentStatus.Transition(ledger.LoanRejected); err != nil {
			return err
		}
		cur.PaymentStatus = ledger.LoanRejected
		rejected = cur
		return tx.SaveLoan(ctx, cur)
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	if s.logger != nil {
		s.logger.Info("loan rejected", slog.String("loan_id", id))
	}
	if owner, err := s.store.Account(ctx, rejected.AccountID); err == nil {
		s.notify(ctx, notification.KindLoanRejected, owner.OwnerID, fmt.Sprintf("Your %s loan request was rejected", rejected.LoanType))
	}
	return rejected, nil
}

// Schedule lays out the monthly installments of an approved loan, the first
// due one month after start.
func Schedule(l ledger.Loan, start time.Time) []ledger.Installment {
	out := make([]ledger.Installment, 0, l.NumberOfInstallments)
	for i := 1; i <= l.NumberOfInstallments; i++ {
		out = append(out, ledger.Installment{
			ID:           uuid.NewString(),
			LoanID:       l.ID,
			Sequence:     i,
			InterestRate: l.NominalRate,
			DueDate:      start.AddDate(0, i, 0),
			Amount:       l.MonthlyPayment,
			Status:       ledger.InstallmentPending,
		})
	}
	return out
}

// PendingLoans lists loans awaiting a decision.
func (s *Service) PendingLoans(ctx context.Context) ([]ledger.Loan, error) {
	return s.store.LoansByStatus(ctx, ledger.LoanPending)
}

// UserLoans lists every loan tied to an account the owner holds.
func (s *Service) UserLoans(ctx context.Context, ownerID string) ([]ledger.Loan, error) {
	accounts, err := s.store.AccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []ledger.Loan{}, nil
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return s.store.LoansByAccounts(ctx, ids)
}

// LoanDetails returns the loan if the owner holds its account. Loans of
// other owners are reported as not found.
func (s *Service) LoanDetails(ctx context.Context, ownerID, loanID string) (ledger.Loan, error) {
	l, err := s.store.Loan(ctx, loanID)
	if err != nil {
		return ledger.Loan{}, err
	}
	acct, err := s.store.Account(ctx, l.AccountID)
	if err != nil {
		return ledger.Loan{}, err
	}
	if acct.OwnerID != ownerID {
		return ledger.Loan{}, fmt.Errorf("loan %s for owner %s: %w", loanID, ownerID, ledger.ErrNotFound)
	}
	return l, nil
}

// Installments returns the loan's schedule.
func (s *Service) Installments(ctx context.Context, loanID string) ([]ledger.Installment, error) {
	if _, err := s.store.Loan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.store.Installments(ctx, loanID)
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil && s.logger != nil {
		s.logger.Warn("notification not delivered", slog.String("kind", kind), slog.Any("error", err))
	}
}

