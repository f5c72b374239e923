package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/middleware"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	FromAccountID string          `json:"from_account_id" validate:"required"`
	ToAccountID   string          `json:"to_account_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	Type          string          `json:"type" validate:"required,oneof=INTERNAL EXTERNAL"`
}

type transferResponse struct {
	ID            string          `json:"id"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	FromCurrency  string          `json:"from_currency"`
	ToCurrency    string          `json:"to_currency"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type transactionResponse struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Timestamp   time.Time       `json:"timestamp"`
	TransferID  string          `json:"transfer_id,omitempty"`
	LoanID      string          `json:"loan_id,omitempty"`
	Description string          `json:"description,omitempty"`
}

func toResponse(t ledger.Transfer) transferResponse {
	return transferResponse{
		ID:            t.ID,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount,
		FromCurrency:  t.FromCurrency.String(),
		ToCurrency:    t.ToCurrency.String(),
		Status:        string(t.Status),
		Type:          string(t.Type),
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

// Create records a pending transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := middleware.BindAndValidate(c, &req); err != nil {
		return err
	}
	tr, err := h.service.Create(c.UserContext(), CreateInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          req.Type,
	})
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(tr))
}

// Process executes a pending transfer of any type.
func (h *Handler) Process(c *fiber.Ctx) error {
	tr, err := h.service.Process(c.UserContext(), c.Params("transferId"))
	return h.outcome(c, tr, err)
}

// ProcessInternal executes a pending internal transfer.
func (h *Handler) ProcessInternal(c *fiber.Ctx) error {
	tr, err := h.service.ProcessInternal(c.UserContext(), c.Params("transferId"))
	return h.outcome(c, tr, err)
}

// ProcessExternal executes a pending external transfer.
func (h *Handler) ProcessExternal(c *fiber.Ctx) error {
	tr, err := h.service.ProcessExternal(c.UserContext(), c.Params("transferId"))
	return h.outcome(c, tr, err)
}

// outcome reports processing results. A transfer that failed for business
// reasons is still returned, with its FAILED status, alongside the message.
func (h *Handler) outcome(c *fiber.Ctx, tr ledger.Transfer, err error) error {
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"message":  "Transfer completed successfully",
			"transfer": toResponse(tr),
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"message":  "Insufficient funds",
			"transfer": toResponse(tr),
		})
	case errors.Is(err, ErrExternalDeclined):
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{
			"message":  "Transfer declined by correspondent bank",
			"transfer": toResponse(tr),
		})
	default:
		return middleware.LedgerError(err)
	}
}

// TransactionsByUser lists ledger entries across the user's accounts.
func (h *Handler) TransactionsByUser(c *fiber.Ctx) error {
	txns, err := h.service.TransactionsByUser(c.UserContext(), c.Params("userId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:          t.ID,
			AccountID:   t.AccountID,
			Amount:      t.Amount,
			Currency:    t.Currency.String(),
			Timestamp:   t.Timestamp,
			TransferID:  t.TransferID,
			LoanID:      t.LoanID,
			Description: t.Description,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}
