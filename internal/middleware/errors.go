package middleware

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
)

// LedgerError maps ledger sentinel errors to HTTP errors.
func LedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, currency.ErrUnknownCurrency),
		errors.Is(err, currency.ErrUnsupportedPair):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
