package loan

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/middleware"
)

// Handler exposes loan endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a loan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	AccountID            string          `json:"account_id" validate:"required"`
	LoanType             string          `json:"loan_type" validate:"required,oneof=CASH MORTGAGE AUTO REFINANCING STUDENT"`
	NumberOfInstallments int             `json:"number_of_installments" validate:"gt=0"`
	Currency             string          `json:"currency" validate:"required,len=3"`
	InterestType         string          `json:"interest_type" validate:"omitempty,oneof=FIXED VARIABLE"`
	Amount               decimal.Decimal `json:"loan_amount"`
	Reason               string          `json:"loan_reason"`
}

type loanResponse struct {
	ID                   string          `json:"id"`
	LoanType             string          `json:"loan_type"`
	NumberOfInstallments int             `json:"number_of_installments"`
	CurrencyType         string          `json:"currency_type"`
	InterestType         string          `json:"interest_type"`
	PaymentStatus        string          `json:"payment_status"`
	NominalRate          decimal.Decimal `json:"nominal_rate"`
	EffectiveRate        decimal.Decimal `json:"effective_rate"`
	LoanAmount           decimal.Decimal `json:"loan_amount"`
	Duration             int             `json:"duration"`
	CreatedDate          time.Time       `json:"created_date"`
	AllowedDate          *time.Time      `json:"allowed_date,omitempty"`
	MonthlyPayment       decimal.Decimal `json:"monthly_payment"`
	NextPaymentDate      *time.Time      `json:"next_payment_date,omitempty"`
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`
	LoanReason           string          `json:"loan_reason,omitempty"`
	AccountID            string          `json:"account_id"`
}

type installmentResponse struct {
	ID           string          `json:"id"`
	LoanID       string          `json:"loan_id"`
	Sequence     int             `json:"sequence"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	DueDate      time.Time       `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

func toLoanResponse(l ledger.Loan) loanResponse {
	return loanResponse{
		ID:                   l.ID,
		LoanType:             string(l.LoanType),
		NumberOfInstallments: l.NumberOfInstallments,
		CurrencyType:         l.CurrencyType.String(),
		InterestType:         string(l.InterestType),
		PaymentStatus:        string(l.PaymentStatus),
		NominalRate:          l.NominalRate,
		EffectiveRate:        l.EffectiveRate,
		LoanAmount:           l.LoanAmount,
		Duration:             l.Duration,
		CreatedDate:          l.CreatedDate,
		AllowedDate:          l.AllowedDate,
		MonthlyPayment:       l.MonthlyPayment,
		NextPaymentDate:      l.NextPaymentDate,
		RemainingAmount:      l.RemainingAmount,
		LoanReason:           l.LoanReason,
		AccountID:            l.AccountID,
	}
}

func toLoanList(loans []ledger.Loan) []loanResponse {
	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, toLoanResponse(l))
	}
	return out
}

// Create files a loan request.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := middleware.BindAndValidate(c, &req); err != nil {
		return err
	}
	l, err := h.service.Create(c.UserContext(), Request{
		AccountID:            req.AccountID,
		LoanType:             req.LoanType,
		NumberOfInstallments: req.NumberOfInstallments,
		Currency:             req.Currency,
		InterestType:         req.InterestType,
		Amount:               req.Amount,
		Reason:               req.Reason,
	})
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(toLoanResponse(l))
}

// Pending lists loans awaiting a decision.
func (h *Handler) Pending(c *fiber.Ctx) error {
	loans, err := h.service.PendingLoans(c.UserContext())
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanList(loans))
}

// UserLoans lists all loans of a user.
func (h *Handler) UserLoans(c *fiber.Ctx) error {
	loans, err := h.service.UserLoans(c.UserContext(), c.Params("userId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanList(loans))
}

// Details returns one loan of a user.
func (h *Handler) Details(c *fiber.Ctx) error {
	l, err := h.service.LoanDetails(c.UserContext(), c.Params("userId"), c.Params("loanId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanResponse(l))
}

// Approve approves and disburses a pending loan.
func (h *Handler) Approve(c *fiber.Ctx) error {
	l, err := h.service.Approve(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanResponse(l))
}

// Reject rejects a pending loan.
func (h *Handler) Reject(c *fiber.Ctx) error {
	l, err := h.service.Reject(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanResponse(l))
}

// Installments lists the schedule of a loan.
func (h *Handler) Installments(c *fiber.Ctx) error {
	schedule, err := h.service.Installments(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return middleware.LedgerError(err)
	}
	out := make([]installmentResponse, 0, len(schedule))
	for _, inst := range schedule {
		out = append(out, installmentResponse{
			ID:           inst.ID,
			LoanID:       inst.LoanID,
			Sequence:     inst.Sequence,
			InterestRate: inst.InterestRate,
			DueDate:      inst.DueDate,
			Amount:       inst.Amount,
			Status:       string(inst.Status),
			Attempts:     inst.Attempts,
			PaidAt:       inst.PaidAt,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Calculate quotes the monthly payment for principal, rate and n.
func (h *Handler) Calculate(c *fiber.Ctx) error {
	principal, err := decimal.NewFromString(c.Query("principal"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "principal must be a decimal number")
	}
	rate, err := decimal.NewFromString(c.Query("rate", "0"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "rate must be a decimal number")
	}
	n, err := strconv.Atoi(c.Query("n"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "n must be an integer")
	}
	payment, err := CalculateInstallment(principal, rate, n)
	if err != nil {
		return middleware.LedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"principal":              principal,
		"annual_rate":            rate,
		"number_of_installments": n,
		"monthly_payment":        payment,
	})
}
