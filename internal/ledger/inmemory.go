package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	locks        map[string]*sync.Mutex
	accounts     map[string]Account
	transfers    map[string]Transfer
	transactions []Transaction
	loans        map[string]Loan
	installments map[string]Installment
	schedules    map[string][]string
	failNext     error
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and for running the service without PostgreSQL.
func NewInMemory() Store {
	return &inMemoryStore{
		locks:        make(map[string]*sync.Mutex),
		accounts:     make(map[string]Account),
		transfers:    make(map[string]Transfer),
		loans:        make(map[string]Loan),
		installments: make(map[string]Installment),
		schedules:    make(map[string][]string),
	}
}

func (s *inMemoryStore) Account(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *inMemoryStore) AccountsByOwner(_ context.Context, ownerID string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *inMemoryStore) Transfer(_ context.Context, id string) (Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return Transfer{}, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *inMemoryStore) CreateTransfer(_ context.Context, transfer Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transfers[transfer.ID]; exists {
		return fmt.Errorf("transfer %s already exists", transfer.ID)
	}
	s.transfers[transfer.ID] = transfer
	return nil
}

func (s *inMemoryStore) TransactionsByAccounts(_ context.Context, accountIDs []string) ([]Transaction, error) {
	wanted := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if _, ok := wanted[s.transactions[i].AccountID]; ok {
			out = append(out, s.transactions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *inMemoryStore) Loan(_ context.Context, id string) (Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (s *inMemoryStore) LoansByStatus(_ context.Context, status LoanStatus) ([]Loan, error) {
	return s.filterLoans(func(l Loan) bool { return l.PaymentStatus == status }), nil
}

func (s *inMemoryStore) LoansByAccounts(_ context.Context, accountIDs []string) ([]Loan, error) {
	wanted := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}
	return s.filterLoans(func(l Loan) bool {
		_, ok := wanted[l.AccountID]
		return ok
	}), nil
}

func (s *inMemoryStore) filterLoans(keep func(Loan) bool) []Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Loan
	for _, l := range s.loans {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out
}

func (s *inMemoryStore) CreateLoan(_ context.Context, loan Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[loan.ID]; exists {
		return fmt.Errorf("loan %s already exists", loan.ID)
	}
	s.loans[loan.ID] = loan
	return nil
}

func (s *inMemoryStore) Installments(_ context.Context, loanID string) ([]Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.schedules[loanID]
	out := make([]Installment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.installments[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *inMemoryStore) DueInstallments(_ context.Context, asOf time.Time) ([]Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Installment
	for _, inst := range s.installments {
		if inst.Status == InstallmentPending && !inst.DueDate.After(asOf) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (s *inMemoryStore) WithinTx(ctx context.Context, lockIDs []string, fn func(tx Tx) error) error {
	ordered := lockOrder(lockIDs)
	for _, id := range ordered {
		m := s.lockFor(id)
		m.Lock()
		defer m.Unlock()
	}

	tx := &inMemoryTx{
		store:        s,
		locked:       make(map[string]struct{}, len(ordered)),
		created:      make(map[string]struct{}),
		accounts:     make(map[string]Account),
		transfers:    make(map[string]Transfer),
		loans:        make(map[string]Loan),
		installments: make(map[string]Installment),
	}
	for _, id := range ordered {
		tx.locked[id] = struct{}{}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *inMemoryStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *inMemoryStore) commit(tx *inMemoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return fmt.Errorf("commit: %w", err)
	}
	for id := range tx.created {
		if _, exists := s.accounts[id]; exists {
			return fmt.Errorf("commit: account %s already exists", id)
		}
	}
	for id, a := range tx.accounts {
		if a.Balance.IsNegative() {
			return fmt.Errorf("commit: account %s would be overdrawn: %w", id, ErrInsufficientFunds)
		}
	}

	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, t := range tx.transfers {
		s.transfers[id] = t
	}
	for id, l := range tx.loans {
		s.loans[id] = l
	}
	for id, inst := range tx.installments {
		if _, exists := s.installments[id]; !exists {
			s.schedules[inst.LoanID] = append(s.schedules[inst.LoanID], id)
		}
		s.installments[id] = inst
	}
	s.transactions = append(s.transactions, tx.transactions...)
	return nil
}

type inMemoryTx struct {
	store        *inMemoryStore
	locked       map[string]struct{}
	created      map[string]struct{}
	accounts     map[string]Account
	transfers    map[string]Transfer
	loans        map[string]Loan
	installments map[string]Installment
	transactions []Transaction
}

func (t *inMemoryTx) Account(ctx context.Context, id string) (Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	return t.store.Account(ctx, id)
}

func (t *inMemoryTx) Transfer(ctx context.Context, id string) (Transfer, error) {
	if tr, ok := t.transfers[id]; ok {
		return tr, nil
	}
	return t.store.Transfer(ctx, id)
}

func (t *inMemoryTx) Loan(ctx context.Context, id string) (Loan, error) {
	if l, ok := t.loans[id]; ok {
		return l, nil
	}
	return t.store.Loan(ctx, id)
}

func (t *inMemoryTx) Installment(_ context.Context, id string) (Installment, error) {
	if inst, ok := t.installments[id]; ok {
		return inst, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	inst, ok := t.store.installments[id]
	if !ok {
		return Installment{}, fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return inst, nil
}

func (t *inMemoryTx) InsertAccount(_ context.Context, account Account) error {
	if _, exists := t.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	t.created[account.ID] = struct{}{}
	t.locked[account.ID] = struct{}{}
	t.accounts[account.ID] = account
	return nil
}

func (t *inMemoryTx) SaveAccount(ctx context.Context, account Account) error {
	if _, ok := t.locked[account.ID]; !ok {
		return fmt.Errorf("account %s is not locked by this unit of work: %w", account.ID, ErrInvalidState)
	}
	if _, err := t.Account(ctx, account.ID); err != nil {
		return err
	}
	t.accounts[account.ID] = account
	return nil
}

func (t *inMemoryTx) SaveTransfer(ctx context.Context, transfer Transfer) error {
	if _, err := t.Transfer(ctx, transfer.ID); err != nil {
		return err
	}
	t.transfers[transfer.ID] = transfer
	return nil
}

func (t *inMemoryTx) SaveLoan(ctx context.Context, loan Loan) error {
	if _, err := t.Loan(ctx, loan.ID); err != nil {
		return err
	}
	t.loans[loan.ID] = loan
	return nil
}

func (t *inMemoryTx) SaveInstallment(ctx context.Context, installment Installment) error {
	if _, err := t.Installment(ctx, installment.ID); err != nil {
		return err
	}
	t.installments[installment.ID] = installment
	return nil
}

func (t *inMemoryTx) InsertTransaction(_ context.Context, txn Transaction) error {
	t.transactions = append(t.transactions, txn)
	return nil
}

func (t *inMemoryTx) InsertInstallments(_ context.Context, installments []Installment) error {
	for _, inst := range installments {
		if _, exists := t.installments[inst.ID]; exists {
			return fmt.Errorf("installment %s already exists", inst.ID)
		}
		t.installments[inst.ID] = inst
	}
	return nil
}
