package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/currency"
)

// Correspondent represents the connector to the bank that holds the
// destination of an external transfer.
type Correspondent interface {
	Authorize(ctx context.Context, payment ExternalPayment) (Decision, error)
}

// ExternalPayment describes the outgoing leg sent to the correspondent bank.
type ExternalPayment struct {
	TransferID    string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      currency.Code
}

// Decision captures the correspondent's answer.
type Decision struct {
	Reference string
	Approved  bool
	Reason    string
}

// StaticCorrespondent approves every payment with a synthetic reference.
type StaticCorrespondent struct{}

// Authorize approves the payment.
func (StaticCorrespondent) Authorize(_ context.Context, _ ExternalPayment) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}
