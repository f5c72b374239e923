package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/banka1/banking/internal/loan"
)

// RegisterLoanRoutes wires the loan lifecycle and installment endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loan.Handler) {
	group := r.Group("/loans")
	group.Post("/", h.Create)
	group.Get("/pending", h.Pending)
	group.Get("/admin/:userId", h.UserLoans)
	group.Post("/:loanId/approve", h.Approve)
	group.Post("/:loanId/reject", h.Reject)
	group.Get("/:loanId/installments", h.Installments)

	r.Get("/users/:userId/loans/:loanId", h.Details)
	r.Get("/installments/calculate", h.Calculate)
}
