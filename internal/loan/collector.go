package loan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/notification"
)

// CollectionReport summarizes one collection run.
type CollectionReport struct {
	AsOf        time.Time
	Due         int
	Collected   int
	Missed      int
	Skipped     int
	Failed      int
	LoansRepaid []string
}

// Collector feeds due installments to the Processor and keeps loan
// bookkeeping in step with the money moved.
type Collector struct {
	store     ledger.Store
	processor *Processor
	accounts  *account.Service
	notifier  notification.Notifier
	logger    *slog.Logger
}

// NewCollector constructs a collector.
func NewCollector(store ledger.Store, processor *Processor, accounts *account.Service, notifier notification.Notifier, logger *slog.Logger) *Collector {
	return &Collector{store: store, processor: processor, accounts: accounts, notifier: notifier, logger: logger}
}

type collectOutcome int

const (
	outcomeSkipped collectOutcome = iota
	outcomeMissed
	outcomeCollected
	outcomeRepaid
)

// CollectDue attempts every unpaid installment due at or before asOf. A
// failure on one installment is logged and counted without stopping the run.
func (c *Collector) CollectDue(ctx context.Context, asOf time.Time) (CollectionReport, error) {
	report := CollectionReport{AsOf: asOf}
	due, err := c.store.DueInstallments(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("list due installments: %w", err)
	}
	report.Due = len(due)

	for _, inst := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, owner, err := c.collect(ctx, inst)
		if err != nil {
			report.Failed++
			if c.logger != nil {
				c.logger.Error("installment collection failed",
					slog.String("installment_id", inst.ID),
					slog.String("loan_id", inst.LoanID),
					slog.Any("error", err),
				)
			}
			continue
		}

		switch outcome {
		case outcomeSkipped:
			report.Skipped++
		case outcomeMissed:
			report.Missed++
			c.notify(ctx, owner, fmt.Sprintf("Installment %d of loan %s due %s could not be collected",
				inst.Sequence, inst.LoanID, inst.DueDate.Format(time.DateOnly)))
		case outcomeCollected:
			report.Collected++
		case outcomeRepaid:
			report.Collected++
			report.LoansRepaid = append(report.LoansRepaid, inst.LoanID)
		}
	}
	return report, nil
}

func (c *Collector) collect(ctx context.Context, inst ledger.Installment) (collectOutcome, string, error) {
	l, err := c.store.Loan(ctx, inst.LoanID)
	if err != nil {
		return outcomeSkipped, "", err
	}
	if l.PaymentStatus != ledger.LoanApproved {
		return outcomeSkipped, "", nil
	}
	customer, err := c.store.Account(ctx, l.AccountID)
	if err != nil {
		return outcomeSkipped, "", err
	}
	bank, err := c.accounts.EnsureClearingAccount(ctx, l.CurrencyType)
	if err != nil {
		return outcomeSkipped, "", err
	}
	next, err := c.nextDue(ctx, l.ID, inst.ID)
	if err != nil {
		return outcomeSkipped, "", err
	}

	outcome := outcomeSkipped
	err = c.store.WithinTx(ctx, []string{inst.ID, l.ID, customer.ID, bank.ID}, func(tx ledger.Tx) error {
		cur, err := tx.Installment(ctx, inst.ID)
		if err != nil {
			return err
		}
		if cur.Status == ledger.InstallmentPaid {
			return nil
		}
		loan, err := tx.Loan(ctx, l.ID)
		if err != nil {
			return err
		}
		if loan.PaymentStatus != ledger.LoanApproved {
			return nil
		}

		paid, err := c.processor.move(ctx, tx, loan, customer.ID, bank.ID, cur)
		if err != nil {
			return err
		}
		if !paid {
			cur.Attempts++
			outcome = outcomeMissed
			return tx.SaveInstallment(ctx, cur)
		}

		now := time.Now().UTC()
		cur.Status = ledger.InstallmentPaid
		cur.PaidAt = &now
		cur.Attempts++
		if err := tx.SaveInstallment(ctx, cur); err != nil {
			return err
		}

		principal := PrincipalComponent(cur.Amount, loan.RemainingAmount, cur.InterestRate)
		if next == nil {
			principal = loan.RemainingAmount
		}
		loan.RemainingAmount = currency.Round(loan.RemainingAmount.Sub(principal))
		loan.NextPaymentDate = next
		outcome = outcomeCollected
		if !loan.RemainingAmount.IsPositive() {
			if err := loan.PaymentStatus.Transition(ledger.LoanPaid); err != nil {
				return err
			}
			loan.RemainingAmount = decimal.Zero
			loan.PaymentStatus = ledger.LoanPaid
			loan.NextPaymentDate = nil
			outcome = outcomeRepaid
		}
		return tx.SaveLoan(ctx, loan)
	})
	if err != nil {
		return outcomeSkipped, "", err
	}
	return outcome, customer.OwnerID, nil
}

// nextDue returns the due date of the earliest unpaid installment of the
// loan other than the one being collected, or nil when none is left.
func (c *Collector) nextDue(ctx context.Context, loanID, exclude string) (*time.Time, error) {
	schedule, err := c.store.Installments(ctx, loanID)
	if err != nil {
		return nil, err
	}
	for _, inst := range schedule {
		if inst.ID == exclude || inst.Status == ledger.InstallmentPaid {
			continue
		}
		due := inst.DueDate
		return &due, nil
	}
	return nil, nil
}

func (c *Collector) notify(ctx context.Context, destination, body string) {
	if c.notifier == nil || destination == "" {
		return
	}
	if err := c.notifier.Send(ctx, notification.Message{Kind: notification.KindInstallmentMissed, Destination: destination, Body: body}); err != nil && c.logger != nil {
		c.logger.Warn("notification not delivered", slog.String("kind", notification.KindInstallmentMissed), slog.Any("error", err))
	}
}
