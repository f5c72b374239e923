package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites the balance of an account when using the in-memory ledger.
func SeedBalance(s Store, accountID string, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if a, exists := mem.accounts[accountID]; exists {
			a.Balance = amount
			mem.accounts[accountID] = a
		}
	}
}

// FailNextCommit makes the next in-memory commit fail with err before any write is applied.
func FailNextCommit(s Store, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failNext = err
	}
}

// TransactionCount reports how many ledger entries the in-memory store holds.
func TransactionCount(s Store) int {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		return len(mem.transactions)
	}
	return 0
}
