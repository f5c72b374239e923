package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/currency"
	"github.com/banka1/banking/internal/ledger"
	"github.com/banka1/banking/internal/logging"
	"github.com/banka1/banking/internal/notification"
)

type fixture struct {
	store    ledger.Store
	accounts *account.Service
	notifier *notification.Recorder
	svc      *Service
}

func newFixture(t *testing.T, correspondent Correspondent) *fixture {
	t.Helper()
	store := ledger.NewInMemory()
	accounts := account.NewService(store, decimal.NewFromInt(1_000_000), logging.Discard())
	notifier := &notification.Recorder{}
	svc := NewService(store, currency.DefaultTable(), accounts, correspondent, notifier, logging.Discard())
	return &fixture{store: store, accounts: accounts, notifier: notifier, svc: svc}
}

func (f *fixture) open(t *testing.T, code string, balance string) ledger.Account {
	t.Helper()
	acct, err := f.accounts.Open(context.Background(), account.OpenInput{OwnerID: uuid.NewString(), Currency: code})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	ledger.SeedBalance(f.store, acct.ID, decimal.RequireFromString(balance))
	return acct
}

func (f *fixture) balance(t *testing.T, id string) string {
	t.Helper()
	acct, err := f.store.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return acct.Balance.StringFixed(2)
}

type decliningCorrespondent struct{ reason string }

func (d decliningCorrespondent) Authorize(context.Context, ExternalPayment) (Decision, error) {
	return Decision{Approved: false, Reason: d.reason}, nil
}

type countingCorrespondent struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCorrespondent) Authorize(context.Context, ExternalPayment) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}

func TestProcessInternalTransfer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "500")

	tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: "INTERNAL"})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if tr.Status != ledger.TransferPending {
		t.Fatalf("new transfer should be pending, got %s", tr.Status)
	}

	before := ledger.TransactionCount(f.store)
	done, err := f.svc.ProcessInternal(ctx, tr.ID)
	if err != nil {
		t.Fatalf("process transfer: %v", err)
	}
	if done.Status != ledger.TransferCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed transfer, got %+v", done)
	}
	if got := f.balance(t, a.ID); got != "900.00" {
		t.Fatalf("source balance = %s, want 900.00", got)
	}
	if got := f.balance(t, b.ID); got != "600.00" {
		t.Fatalf("destination balance = %s, want 600.00", got)
	}
	if n := ledger.TransactionCount(f.store) - before; n != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", n)
	}

	stored, _ := f.store.Transfer(ctx, tr.ID)
	if stored.Status != ledger.TransferCompleted {
		t.Fatalf("persisted status = %s", stored.Status)
	}
	msg, ok := f.notifier.Last()
	if !ok || msg.Kind != notification.KindTransferCompleted || msg.Destination != b.OwnerID {
		t.Fatalf("expected completion notice to payee, got %+v", msg)
	}
}

func TestProcessTransferInsufficientFunds(t *testing.T) {
	for _, kind := range []string{"INTERNAL", "EXTERNAL"} {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			a := f.open(t, "USD", "50")
			b := f.open(t, "USD", "500")

			tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: kind})
			if err != nil {
				t.Fatalf("create transfer: %v", err)
			}
			before := ledger.TransactionCount(f.store)

			out, err := f.svc.Process(ctx, tr.ID)
			if !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Fatalf("expected insufficient funds, got %v", err)
			}
			if out.Status != ledger.TransferFailed {
				t.Fatalf("expected FAILED outcome, got %s", out.Status)
			}
			stored, _ := f.store.Transfer(ctx, tr.ID)
			if stored.Status != ledger.TransferFailed {
				t.Fatalf("failed status not persisted: %s", stored.Status)
			}
			if f.balance(t, a.ID) != "50.00" || f.balance(t, b.ID) != "500.00" {
				t.Fatalf("balances must be unchanged")
			}
			if ledger.TransactionCount(f.store) != before {
				t.Fatalf("no ledger entries expected on failure")
			}
			msg, _ := f.notifier.Last()
			if msg.Kind != notification.KindTransferFailed || msg.Destination != a.OwnerID {
				t.Fatalf("expected failure notice to payer, got %+v", msg)
			}
		})
	}
}

func TestProcessTransferRejectsReprocessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "0")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: "INTERNAL"})
	if _, err := f.svc.Process(ctx, tr.ID); err != nil {
		t.Fatalf("first processing: %v", err)
	}
	if _, err := f.svc.Process(ctx, tr.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state on reprocessing, got %v", err)
	}
	if f.balance(t, a.ID) != "900.00" || f.balance(t, b.ID) != "100.00" {
		t.Fatalf("reprocessing must not move funds again")
	}
}

func TestProcessTransferNotFound(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Process(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessTransferTypeMismatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "0")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(10), Currency: "USD", Type: "INTERNAL"})
	if _, err := f.svc.ProcessExternal(ctx, tr.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state for type mismatch, got %v", err)
	}
	stored, _ := f.store.Transfer(ctx, tr.ID)
	if stored.Status != ledger.TransferPending {
		t.Fatalf("mismatched call must not touch the transfer")
	}
}

func TestProcessTransferCrossCurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	eur := f.open(t, "EUR", "1000")
	rsd := f.open(t, "RSD", "0")

	tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: eur.ID, ToAccountID: rsd.ID, Amount: decimal.NewFromInt(100), Currency: "EUR", Type: "INTERNAL"})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if tr.ToCurrency != currency.RSD {
		t.Fatalf("destination currency = %s", tr.ToCurrency)
	}
	if _, err := f.svc.Process(ctx, tr.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.balance(t, eur.ID); got != "900.00" {
		t.Fatalf("EUR balance = %s", got)
	}
	if got := f.balance(t, rsd.ID); got != "11717.00" {
		t.Fatalf("RSD balance = %s", got)
	}

	txns, _ := f.store.TransactionsByAccounts(ctx, []string{eur.ID, rsd.ID})
	for _, txn := range txns {
		acct, _ := f.store.Account(ctx, txn.AccountID)
		if txn.Currency != acct.Currency {
			t.Fatalf("entry %s booked in %s on a %s account", txn.ID, txn.Currency, acct.Currency)
		}
	}
}

func TestProcessExternalTransferToForeignAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")

	tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: "DE89370400440532013000", Amount: decimal.NewFromInt(250), Currency: "USD", Type: "EXTERNAL"})
	if err != nil {
		t.Fatalf("create external transfer: %v", err)
	}
	if _, err := f.svc.ProcessExternal(ctx, tr.ID); err != nil {
		t.Fatalf("process external: %v", err)
	}
	if got := f.balance(t, a.ID); got != "750.00" {
		t.Fatalf("source balance = %s", got)
	}
	clearing, err := f.accounts.ClearingAccount(ctx, currency.USD)
	if err != nil {
		t.Fatalf("clearing account: %v", err)
	}
	if got := clearing.Balance.StringFixed(2); got != "1000250.00" {
		t.Fatalf("clearing balance = %s", got)
	}
}

func TestProcessExternalTransferDeclined(t *testing.T) {
	f := newFixture(t, decliningCorrespondent{reason: "sanctions screening"})
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "0")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: "EXTERNAL"})
	out, err := f.svc.Process(ctx, tr.ID)
	if !errors.Is(err, ErrExternalDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}
	if out.Status != ledger.TransferFailed || out.FailureReason == "" {
		t.Fatalf("expected FAILED with reason, got %+v", out)
	}
	if f.balance(t, a.ID) != "1000.00" || f.balance(t, b.ID) != "0.00" {
		t.Fatalf("declined transfer must not move funds")
	}
}

func TestProcessTransferCommitFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "500")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: "INTERNAL"})
	before := ledger.TransactionCount(f.store)

	boom := errors.New("connection reset")
	ledger.FailNextCommit(f.store, boom)
	if _, err := f.svc.Process(ctx, tr.ID); !errors.Is(err, boom) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.balance(t, a.ID) != "1000.00" || f.balance(t, b.ID) != "500.00" {
		t.Fatalf("no partial effect expected after failed commit")
	}
	if ledger.TransactionCount(f.store) != before {
		t.Fatalf("no ledger entries expected after failed commit")
	}
	stored, _ := f.store.Transfer(ctx, tr.ID)
	if stored.Status != ledger.TransferPending {
		t.Fatalf("transfer should remain pending, got %s", stored.Status)
	}

	if _, err := f.svc.Process(ctx, tr.ID); err != nil {
		t.Fatalf("retry after failed commit: %v", err)
	}
	if f.balance(t, a.ID) != "900.00" || f.balance(t, b.ID) != "600.00" {
		t.Fatalf("retry should complete the transfer")
	}
}

func TestConcurrentProcessingMovesFundsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "0")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(100), Currency: "USD", Type: "INTERNAL"})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Process(ctx, tr.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful processing, got %d", succeeded)
	}
	if f.balance(t, a.ID) != "900.00" || f.balance(t, b.ID) != "100.00" {
		t.Fatalf("funds moved more than once")
	}
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "1000")

	var ids []string
	for i := 0; i < 20; i++ {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = to, from
		}
		tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: from, ToAccountID: to, Amount: decimal.NewFromInt(75), Currency: "USD", Type: "INTERNAL"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, tr.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.svc.Process(ctx, id)
		}(id)
	}
	wg.Wait()

	total := decimal.RequireFromString(f.balance(t, a.ID)).Add(decimal.RequireFromString(f.balance(t, b.ID)))
	if total.StringFixed(2) != "2000.00" {
		t.Fatalf("money not conserved: total %s", total)
	}
}

func TestCreateTransferValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")
	b := f.open(t, "USD", "0")

	cases := []struct {
		name  string
		input CreateInput
		want  error
	}{
		{"zero amount", CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.Zero, Currency: "USD", Type: "INTERNAL"}, ledger.ErrInvalidArgument},
		{"same account", CreateInput{FromAccountID: a.ID, ToAccountID: a.ID, Amount: decimal.NewFromInt(1), Currency: "USD", Type: "INTERNAL"}, ledger.ErrInvalidArgument},
		{"unknown type", CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(1), Currency: "USD", Type: "WIRE"}, ledger.ErrInvalidArgument},
		{"unknown currency", CreateInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(1), Currency: "XXX", Type: "INTERNAL"}, ledger.ErrInvalidArgument},
		{"missing source", CreateInput{FromAccountID: "nope", ToAccountID: b.ID, Amount: decimal.NewFromInt(1), Currency: "USD", Type: "INTERNAL"}, ledger.ErrNotFound},
		{"missing internal destination", CreateInput{FromAccountID: a.ID, ToAccountID: "nope", Amount: decimal.NewFromInt(1), Currency: "USD", Type: "INTERNAL"}, ledger.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTransactionsByUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.NewString()
	usd, _ := f.accounts.Open(ctx, account.OpenInput{OwnerID: owner, Currency: "USD", InitialDeposit: decimal.NewFromInt(500)})
	eur, _ := f.accounts.Open(ctx, account.OpenInput{OwnerID: owner, Currency: "EUR"})
	other := f.open(t, "USD", "0")

	tr, _ := f.svc.Create(ctx, CreateInput{FromAccountID: usd.ID, ToAccountID: other.ID, Amount: decimal.NewFromInt(20), Currency: "USD", Type: "INTERNAL"})
	if _, err := f.svc.Process(ctx, tr.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	txns, err := f.svc.TransactionsByUser(ctx, owner)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected deposit and debit, got %d entries", len(txns))
	}
	for _, txn := range txns {
		if txn.AccountID != usd.ID && txn.AccountID != eur.ID {
			t.Fatalf("entry %s belongs to a foreign account", txn.ID)
		}
	}

	none, err := f.svc.TransactionsByUser(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty history, got %v %v", none, err)
	}
}

func TestProcessExternalTransferFromClearingAccountIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	clearing, err := f.accounts.EnsureClearingAccount(ctx, currency.USD)
	if err != nil {
		t.Fatalf("clearing account: %v", err)
	}
	before := ledger.TransactionCount(f.store)

	tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: clearing.ID, ToAccountID: "foreign-iban-1", Amount: decimal.NewFromInt(100), Currency: "USD", Type: "EXTERNAL"})
	if err != nil {
		t.Fatalf("create external transfer: %v", err)
	}
	if _, err := f.svc.Process(ctx, tr.ID); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected same account rejection, got %v", err)
	}
	if got := f.balance(t, clearing.ID); got != "1000000.00" {
		t.Fatalf("clearing balance changed to %s", got)
	}
	if ledger.TransactionCount(f.store) != before {
		t.Fatalf("no ledger entries expected")
	}
	stored, _ := f.store.Transfer(ctx, tr.ID)
	if stored.Status != ledger.TransferPending {
		t.Fatalf("transfer should remain pending, got %s", stored.Status)
	}
}

func TestConcurrentExternalProcessingAuthorizesOnce(t *testing.T) {
	correspondent := &countingCorrespondent{}
	f := newFixture(t, correspondent)
	ctx := context.Background()
	a := f.open(t, "USD", "1000")

	tr, err := f.svc.Create(ctx, CreateInput{FromAccountID: a.ID, ToAccountID: "DE89370400440532013000", Amount: decimal.NewFromInt(100), Currency: "USD", Type: "EXTERNAL"})
	if err != nil {
		t.Fatalf("create external transfer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ProcessExternal(ctx, tr.ID)
		}()
	}
	wg.Wait()

	if correspondent.calls != 1 {
		t.Fatalf("expected one authorization, got %d", correspondent.calls)
	}
	if got := f.balance(t, a.ID); got != "900.00" {
		t.Fatalf("source balance = %s", got)
	}
}
