package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/currency"
)

// BankOwnerID owns the institution's clearing accounts.
const BankOwnerID = "bank"

// Account is a balance held in a single currency.
type Account struct {
	ID        string
	OwnerID   string
	Balance   decimal.Decimal
	Currency  currency.Code
	CreatedAt time.Time
}

// TransferStatus is the lifecycle state of a Transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferFailed    TransferStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// Transition validates moving from s to next. Only PENDING may move, and only forward.
func (s TransferStatus) Transition(next TransferStatus) error {
	switch s {
	case TransferPending:
		switch next {
		case TransferCompleted, TransferFailed:
			return nil
		}
	case TransferCompleted, TransferFailed:
	default:
		return fmt.Errorf("%w: unknown transfer status %q", ErrInvalidState, s)
	}
	return fmt.Errorf("%w: transfer %s -> %s", ErrInvalidState, s, next)
}

// TransferType distinguishes same-bank and cross-bank transfers.
type TransferType string

const (
	TransferInternal TransferType = "INTERNAL"
	TransferExternal TransferType = "EXTERNAL"
)

// Valid reports whether the type is known.
func (t TransferType) Valid() bool {
	return t == TransferInternal || t == TransferExternal
}

// Transfer is a requested movement of funds and its outcome.
type Transfer struct {
	ID            string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	FromCurrency  currency.Code
	ToCurrency    currency.Code
	Status        TransferStatus
	Type          TransferType
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Transaction is an immutable ledger entry. Negative amounts are debits.
type Transaction struct {
	ID          string
	AccountID   string
	Amount      decimal.Decimal
	Currency    currency.Code
	Timestamp   time.Time
	TransferID  string
	LoanID      string
	Description string
}

// LoanType is the product category of a loan.
type LoanType string

const (
	LoanCash        LoanType = "CASH"
	LoanMortgage    LoanType = "MORTGAGE"
	LoanAuto        LoanType = "AUTO"
	LoanRefinancing LoanType = "REFINANCING"
	LoanStudent     LoanType = "STUDENT"
)

// Valid reports whether the loan type is known.
func (t LoanType) Valid() bool {
	switch t {
	case LoanCash, LoanMortgage, LoanAuto, LoanRefinancing, LoanStudent:
		return true
	}
	return false
}

// InterestType describes how the nominal rate evolves.
type InterestType string

const (
	InterestFixed    InterestType = "FIXED"
	InterestVariable InterestType = "VARIABLE"
)

// Valid reports whether the interest type is known.
func (t InterestType) Valid() bool {
	return t == InterestFixed || t == InterestVariable
}

// LoanStatus is the payment status of a loan.
type LoanStatus string

const (
	LoanPending  LoanStatus = "PENDING"
	LoanApproved LoanStatus = "APPROVED"
	LoanRejected LoanStatus = "REJECTED"
	LoanPaid     LoanStatus = "PAID"
)

// Transition validates moving from s to next.
func (s LoanStatus) Transition(next LoanStatus) error {
	switch s {
	case LoanPending:
		if next == LoanApproved || next == LoanRejected {
			return nil
		}
	case LoanApproved:
		if next == LoanPaid {
			return nil
		}
	case LoanRejected, LoanPaid:
	default:
		return fmt.Errorf("%w: unknown loan status %q", ErrInvalidState, s)
	}
	return fmt.Errorf("%w: loan %s -> %s", ErrInvalidState, s, next)
}

// Loan is a credit agreement tied to a customer account. Rates are percentages.
type Loan struct {
	ID                   string
	LoanType             LoanType
	NumberOfInstallments int
	CurrencyType         currency.Code
	InterestType         InterestType
	PaymentStatus        LoanStatus
	NominalRate          decimal.Decimal
	EffectiveRate        decimal.Decimal
	LoanAmount           decimal.Decimal
	Duration             int // months
	CreatedDate          time.Time
	AllowedDate          *time.Time
	MonthlyPayment       decimal.Decimal
	NextPaymentDate      *time.Time
	RemainingAmount      decimal.Decimal
	LoanReason           string
	AccountID            string
}

// InstallmentStatus records the payment outcome of an installment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// Installment is one scheduled due payment of a loan.
type Installment struct {
	ID           string
	LoanID       string
	Sequence     int
	InterestRate decimal.Decimal
	DueDate      time.Time
	Amount       decimal.Decimal
	Status       InstallmentStatus
	Attempts     int
	PaidAt       *time.Time
}
