package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/banka1/banking/internal/account"
)

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:accountId", h.Get)
}
