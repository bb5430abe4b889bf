package store

import (
	"context"
	"sync"

	"github.com/synthex/issuance-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	journal  []model.Entry
	balances map[balanceKey]model.BalanceRow
}

type balanceKey struct {
	account string
	asset   string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]model.BalanceRow),
	}
}

func (s *MemoryStore) RecordOperation(_ context.Context, entry *model.Entry, balances []model.BalanceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	if e.Amount != nil {
		e.Amount = e.Amount.Clone()
	}
	if e.DebtDelta != nil {
		e.DebtDelta = e.DebtDelta.Clone()
	}
	s.journal = append(s.journal, e)

	for _, row := range balances {
		row.Amount = row.Amount.Clone()
		s.balances[balanceKey{row.Account, row.Asset}] = row
	}
	return nil
}

func (s *MemoryStore) LoadBalances(_ context.Context) ([]model.BalanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.BalanceRow, 0, len(s.balances))
	for _, row := range s.balances {
		row.Amount = row.Amount.Clone()
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *MemoryStore) EntriesByAccount(_ context.Context, account string) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Entry
	for _, e := range s.journal {
		if e.Account == account || e.Counterparty == account {
			result = append(result, e)
		}
	}
	return result, nil
}
