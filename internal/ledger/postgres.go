package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const (
	accountColumns     = `id, owner_id, balance::text, currency, created_at`
	transferColumns    = `id, from_account_id, to_account_id, amount::text, from_currency, to_currency, status, type, failure_reason, created_at, completed_at`
	transactionColumns = `id, account_id, amount::text, currency, created_at, transfer_id, loan_id, description`
	loanColumns        = `id, loan_type, number_of_installments, currency_type, interest_type, payment_status,
        nominal_rate::text, effective_rate::text, loan_amount::text, duration, created_date, allowed_date,
        monthly_payment::text, next_payment_date, remaining_amount::text, loan_reason, account_id`
	installmentColumns = `id, loan_id, sequence, interest_rate::text, due_date, amount::text, status, attempts, paid_at`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the ledger in PostgreSQL. Units of work run in a single
// database transaction with row locks taken up front.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, s.db, id)
}

func (s *PostgresStore) AccountsByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Account, error) { return scanAccount(row) })
}

func (s *PostgresStore) Transfer(ctx context.Context, id string) (Transfer, error) {
	return getTransfer(ctx, s.db, id)
}

func (s *PostgresStore) CreateTransfer(ctx context.Context, t Transfer) error {
	_, err := s.db.Exec(ctx, `INSERT INTO transfers (id, from_account_id, to_account_id, amount, from_currency,
        to_currency, status, type, failure_reason, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.FromAccountID, t.ToAccountID, t.Amount, t.FromCurrency, t.ToCurrency,
		t.Status, t.Type, t.FailureReason, t.CreatedAt.UTC(), t.CompletedAt)
	return err
}

func (s *PostgresStore) TransactionsByAccounts(ctx context.Context, accountIDs []string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE account_id = ANY($1) ORDER BY created_at DESC`, accountIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) { return scanTransaction(row) })
}

func (s *PostgresStore) Loan(ctx context.Context, id string) (Loan, error) {
	return getLoan(ctx, s.db, id)
}

func (s *PostgresStore) LoansByStatus(ctx context.Context, status LoanStatus) ([]Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE payment_status = $1 ORDER BY created_date`, status)
}

func (s *PostgresStore) LoansByAccounts(ctx context.Context, accountIDs []string) ([]Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE account_id = ANY($1) ORDER BY created_date`, accountIDs)
}

func (s *PostgresStore) queryLoans(ctx context.Context, query string, arg any) ([]Loan, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Loan, error) { return scanLoan(row) })
}

func (s *PostgresStore) CreateLoan(ctx context.Context, l Loan) error {
	_, err := s.db.Exec(ctx, `INSERT INTO loans (id, loan_type, number_of_installments, currency_type, interest_type,
        payment_status, nominal_rate, effective_rate, loan_amount, duration, created_date, allowed_date,
        monthly_payment, next_payment_date, remaining_amount, loan_reason, account_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		l.ID, l.LoanType, l.NumberOfInstallments, l.CurrencyType, l.InterestType, l.PaymentStatus,
		l.NominalRate, l.EffectiveRate, l.LoanAmount, l.Duration, l.CreatedDate.UTC(), l.AllowedDate,
		l.MonthlyPayment, l.NextPaymentDate, l.RemainingAmount, l.LoanReason, l.AccountID)
	return err
}

func (s *PostgresStore) Installments(ctx context.Context, loanID string) ([]Installment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = $1 ORDER BY sequence`, loanID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Installment, error) { return scanInstallment(row) })
}

func (s *PostgresStore) DueInstallments(ctx context.Context, asOf time.Time) ([]Installment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+installmentColumns+` FROM installments
        WHERE status = $1 AND due_date <= $2 ORDER BY due_date, sequence`, InstallmentPending, asOf.UTC())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Installment, error) { return scanInstallment(row) })
}

// WithinTx locks the named rows (accounts first, then transfers, loans and
// installments, each in id order) and runs fn inside one database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, lockIDs []string, fn func(tx Tx) error) error {
	ids := lockOrder(lockIDs)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ptx := &postgresTx{tx: tx, locked: make(map[string]struct{}, len(ids))}
	if len(ids) > 0 {
		rows, err := tx.Query(ctx, `SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		for _, id := range locked {
			ptx.locked[id] = struct{}{}
		}
		for _, table := range []string{"transfers", "loans", "installments"} {
			if _, err := tx.Exec(ctx, `SELECT id FROM `+table+` WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids); err != nil {
				return fmt.Errorf("lock %s: %w", table, err)
			}
		}
	}

	if err := fn(ptx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx     pgx.Tx
	locked map[string]struct{}
}

func (t *postgresTx) Account(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *postgresTx) Transfer(ctx context.Context, id string) (Transfer, error) {
	return getTransfer(ctx, t.tx, id)
}

func (t *postgresTx) Loan(ctx context.Context, id string) (Loan, error) {
	return getLoan(ctx, t.tx, id)
}

func (t *postgresTx) Installment(ctx context.Context, id string) (Installment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1`, id)
	inst, err := scanInstallment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Installment{}, fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return inst, err
}

// InsertAccount creates the account row inside the transaction; the row stays
// locked by it until commit.
func (t *postgresTx) InsertAccount(ctx context.Context, a Account) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO accounts (id, owner_id, balance, currency, created_at)
        VALUES ($1, $2, $3, $4, $5)`, a.ID, a.OwnerID, a.Balance, a.Currency, a.CreatedAt.UTC()); err != nil {
		return err
	}
	t.locked[a.ID] = struct{}{}
	return nil
}

func (t *postgresTx) SaveAccount(ctx context.Context, a Account) error {
	if _, ok := t.locked[a.ID]; !ok {
		return fmt.Errorf("account %s is not locked by this unit of work: %w", a.ID, ErrInvalidState)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, a.ID, a.Balance)
	return affected(tag, err, "account", a.ID)
}

func (t *postgresTx) SaveTransfer(ctx context.Context, tr Transfer) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transfers SET status = $2, failure_reason = $3, completed_at = $4 WHERE id = $1`,
		tr.ID, tr.Status, tr.FailureReason, tr.CompletedAt)
	return affected(tag, err, "transfer", tr.ID)
}

func (t *postgresTx) SaveLoan(ctx context.Context, l Loan) error {
	tag, err := t.tx.Exec(ctx, `UPDATE loans SET payment_status = $2, allowed_date = $3, next_payment_date = $4,
        remaining_amount = $5 WHERE id = $1`,
		l.ID, l.PaymentStatus, l.AllowedDate, l.NextPaymentDate, l.RemainingAmount)
	return affected(tag, err, "loan", l.ID)
}

func (t *postgresTx) SaveInstallment(ctx context.Context, inst Installment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE installments SET status = $2, attempts = $3, paid_at = $4 WHERE id = $1`,
		inst.ID, inst.Status, inst.Attempts, inst.PaidAt)
	return affected(tag, err, "installment", inst.ID)
}

func (t *postgresTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (id, account_id, amount, currency, created_at, transfer_id, loan_id, description)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.AccountID, txn.Amount, txn.Currency, txn.Timestamp.UTC(), txn.TransferID, txn.LoanID, txn.Description)
	return err
}

func (t *postgresTx) InsertInstallments(ctx context.Context, installments []Installment) error {
	batch := &pgx.Batch{}
	for _, inst := range installments {
		batch.Queue(`INSERT INTO installments (id, loan_id, sequence, interest_rate, due_date, amount, status, attempts, paid_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inst.ID, inst.LoanID, inst.Sequence, inst.InterestRate, inst.DueDate.UTC(), inst.Amount, inst.Status, inst.Attempts, inst.PaidAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func affected(tag pgconn.CommandTag, err error, kind, id string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func getAccount(ctx context.Context, q querier, id string) (Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, err
}

func getTransfer(ctx context.Context, q querier, id string) (Transfer, error) {
	t, err := scanTransfer(q.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	return t, err
}

func getLoan(ctx context.Context, q querier, id string) (Loan, error) {
	l, err := scanLoan(q.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return l, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.Currency, &a.CreatedAt)
	return a, err
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.FromCurrency, &t.ToCurrency,
		&t.Status, &t.Type, &t.FailureReason, &t.CreatedAt, &t.CompletedAt)
	return t, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Currency, &t.Timestamp, &t.TransferID, &t.LoanID, &t.Description)
	return t, err
}

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.LoanType, &l.NumberOfInstallments, &l.CurrencyType, &l.InterestType, &l.PaymentStatus,
		&l.NominalRate, &l.EffectiveRate, &l.LoanAmount, &l.Duration, &l.CreatedDate, &l.AllowedDate,
		&l.MonthlyPayment, &l.NextPaymentDate, &l.RemainingAmount, &l.LoanReason, &l.AccountID)
	return l, err
}

func scanInstallment(row pgx.Row) (Installment, error) {
	var inst Installment
	err := row.Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.InterestRate, &inst.DueDate, &inst.Amount,
		&inst.Status, &inst.Attempts, &inst.PaidAt)
	return inst, err
}
