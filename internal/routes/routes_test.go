package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banka1/banking/internal/app"
	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/logging"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := config.Config{AppEnv: "test", ClearingCapital: decimal.NewFromInt(1_000_000)}
	svcs, err := app.NewServices(context.Background(), cfg, nil, logging.Discard())
	require.NoError(t, err)

	fa := fiber.New()
	require.NoError(t, Setup(fa, Deps{Cfg: cfg, Logger: logging.Discard(), Services: svcs}))
	return fa
}

func call(t *testing.T, fa *fiber.App, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := fa.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type accountView struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

func openAccount(t *testing.T, fa *fiber.App, owner, deposit string) accountView {
	t.Helper()
	var acct accountView
	status := call(t, fa, http.MethodPost, "/api/v1/accounts", map[string]any{
		"owner_id": owner, "currency": "USD", "initial_deposit": deposit,
	}, &acct)
	require.Equal(t, http.StatusCreated, status)
	return acct
}

func TestInternalTransferOverHTTP(t *testing.T) {
	fa := newTestApp(t)
	a := openAccount(t, fa, "alice", "1000")
	b := openAccount(t, fa, "bob", "500")

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status := call(t, fa, http.MethodPost, "/api/v1/transfers", map[string]any{
		"from_account_id": a.ID, "to_account_id": b.ID, "amount": "100", "currency": "USD", "type": "INTERNAL",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "PENDING", created.Status)

	var outcome struct {
		Message  string `json:"message"`
		Transfer struct {
			Status string `json:"status"`
		} `json:"transfer"`
	}
	status = call(t, fa, http.MethodPost, "/api/v1/transfers/"+created.ID+"/process/internal", nil, &outcome)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Transfer completed successfully", outcome.Message)
	assert.Equal(t, "COMPLETED", outcome.Transfer.Status)

	var got accountView
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/accounts/"+a.ID, nil, &got))
	assert.Equal(t, "900.00", got.Balance.StringFixed(2))
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/accounts/"+b.ID, nil, &got))
	assert.Equal(t, "600.00", got.Balance.StringFixed(2))

	assert.Equal(t, http.StatusConflict, call(t, fa, http.MethodPost, "/api/v1/transfers/"+created.ID+"/process", nil, nil))

	var history []map[string]any
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/users/alice/transactions", nil, &history))
	assert.Len(t, history, 2, "opening deposit and transfer debit")
}

func TestInsufficientFundsOverHTTP(t *testing.T) {
	fa := newTestApp(t)
	a := openAccount(t, fa, "alice", "50")
	b := openAccount(t, fa, "bob", "0")

	var created struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, call(t, fa, http.MethodPost, "/api/v1/transfers", map[string]any{
		"from_account_id": a.ID, "to_account_id": b.ID, "amount": "100", "currency": "USD", "type": "INTERNAL",
	}, &created))

	var outcome struct {
		Message  string `json:"message"`
		Transfer struct {
			Status string `json:"status"`
		} `json:"transfer"`
	}
	status := call(t, fa, http.MethodPost, "/api/v1/transfers/"+created.ID+"/process", nil, &outcome)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Insufficient funds", outcome.Message)
	assert.Equal(t, "FAILED", outcome.Transfer.Status)
}

func TestLoanEndpoints(t *testing.T) {
	fa := newTestApp(t)
	a := openAccount(t, fa, "carol", "0")

	status := call(t, fa, http.MethodPost, "/api/v1/loans", map[string]any{
		"account_id": a.ID, "loan_type": "MORTGAGE", "number_of_installments": 100, "currency": "USD", "loan_amount": "250000",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var created struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
	}
	require.Equal(t, http.StatusCreated, call(t, fa, http.MethodPost, "/api/v1/loans", map[string]any{
		"account_id": a.ID, "loan_type": "CASH", "number_of_installments": 12, "currency": "USD", "loan_amount": "1000",
	}, &created))
	assert.Equal(t, "PENDING", created.PaymentStatus)

	var pending []map[string]any
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/loans/pending", nil, &pending))
	assert.Len(t, pending, 1)

	require.Equal(t, http.StatusOK, call(t, fa, http.MethodPost, "/api/v1/loans/"+created.ID+"/approve", nil, nil))

	var schedule []map[string]any
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/loans/"+created.ID+"/installments", nil, &schedule))
	assert.Len(t, schedule, 12)

	assert.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/users/carol/loans/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, fa, http.MethodGet, "/api/v1/users/dave/loans/"+created.ID, nil, nil))

	var mine []map[string]any
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/loans/admin/carol", nil, &mine))
	assert.Len(t, mine, 1)
}

func TestCalculateEndpoint(t *testing.T) {
	fa := newTestApp(t)

	var quote struct {
		MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	}
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/api/v1/installments/calculate?principal=1000&rate=12&n=12", nil, &quote))
	assert.Equal(t, "88.85", quote.MonthlyPayment.StringFixed(2))

	assert.Equal(t, http.StatusBadRequest, call(t, fa, http.MethodGet, "/api/v1/installments/calculate?principal=1000&rate=12&n=0", nil, nil))
}

func TestHealthWithoutBackends(t *testing.T) {
	fa := newTestApp(t)
	var body struct {
		Status map[string]string `json:"status"`
	}
	require.Equal(t, http.StatusOK, call(t, fa, http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "disabled", body.Status["postgres"])
}
