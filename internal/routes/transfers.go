package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/banka1/banking/internal/transfer"
)

// RegisterTransferRoutes wires transfer processing and transaction history.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	group := r.Group("/transfers")
	group.Post("/", h.Create)
	group.Post("/:transferId/process", h.Process)
	group.Post("/:transferId/process/internal", h.ProcessInternal)
	group.Post("/:transferId/process/external", h.ProcessExternal)

	r.Get("/users/:userId/transactions", h.TransactionsByUser)
}
