package ledger

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound indicates a referenced account, transfer, loan or installment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation on an entity whose status forbids it,
	// such as re-processing a completed transfer.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidArgument marks malformed input rejected before any mutation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store is the persistent ledger. Reads outside WithinTx see committed state only.
type Store interface {
	Account(ctx context.Context, id string) (Account, error)
	AccountsByOwner(ctx context.Context, ownerID string) ([]Account, error)

	Transfer(ctx context.Context, id string) (Transfer, error)
	CreateTransfer(ctx context.Context, transfer Transfer) error

	// TransactionsByAccounts returns entries of the given accounts, newest first.
	TransactionsByAccounts(ctx context.Context, accountIDs []string) ([]Transaction, error)

	Loan(ctx context.Context, id string) (Loan, error)
	LoansByStatus(ctx context.Context, status LoanStatus) ([]Loan, error)
	LoansByAccounts(ctx context.Context, accountIDs []string) ([]Loan, error)
	CreateLoan(ctx context.Context, loan Loan) error

	// Installments returns the schedule of a loan ordered by sequence.
	Installments(ctx context.Context, loanID string) ([]Installment, error)
	// DueInstallments returns unpaid installments due at or before asOf, oldest first.
	DueInstallments(ctx context.Context, asOf time.Time) ([]Installment, error)

	// WithinTx runs fn as one atomic unit of work. The entities named by lockIDs
	// are locked for the duration, in a global order, so concurrent units touching
	// the same account are serialized. Either every write made through the Tx is
	// committed or none is; a non-nil error from fn discards them all.
	WithinTx(ctx context.Context, lockIDs []string, fn func(tx Tx) error) error
}

// Tx is the view of the store inside a unit of work. Reads observe the unit's
// own pending writes. SaveAccount is only permitted for accounts named in lockIDs
// or inserted by the unit itself.
type Tx interface {
	Account(ctx context.Context, id string) (Account, error)
	Transfer(ctx context.Context, id string) (Transfer, error)
	Loan(ctx context.Context, id string) (Loan, error)
	Installment(ctx context.Context, id string) (Installment, error)

	InsertAccount(ctx context.Context, account Account) error
	SaveAccount(ctx context.Context, account Account) error
	SaveTransfer(ctx context.Context, transfer Transfer) error
	SaveLoan(ctx context.Context, loan Loan) error
	SaveInstallment(ctx context.Context, installment Installment) error
	InsertTransaction(ctx context.Context, txn Transaction) error
	InsertInstallments(ctx context.Context, installments []Installment) error
}

// lockOrder returns the distinct non-empty ids sorted ascending.
func lockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
