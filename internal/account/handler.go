package account

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/middleware"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	OwnerID        string          `json:"owner_id" validate:"required"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

type accountResponse struct {
	ID       string          `json:"id"`
	OwnerID  string          `json:"owner_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Open provisions an account.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := middleware.BindAndValidate(c, &req); err != nil {
		return err
	}
	acct, err := h.service.Open(c.UserContext(), OpenInput{
		OwnerID:        req.OwnerID,
		Currency:       req.Currency,
		InitialDeposit: req.InitialDeposit,
	})
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(accountResponse{
		ID:       acct.ID,
		OwnerID:  acct.OwnerID,
		Balance:  acct.Balance,
		Currency: acct.Currency.String(),
	})
}

// Get returns the account with its current balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(accountResponse{
		ID:       acct.ID,
		OwnerID:  acct.OwnerID,
		Balance:  acct.Balance,
		Currency: acct.Currency.String(),
	})
}
