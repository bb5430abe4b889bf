// Package store defines the persistence layer for the issuance engine.
// Implementations include PostgreSQL (durable journal and balances), Redis
// (read-through cache for account history), and in-memory (for testing).
//
// The store is a durability and read-model layer, not the solvency
// authority: the engine's in-memory book is the source of truth at runtime
// and is reloaded from the store at startup.
package store

import (
	"context"

	"github.com/synthex/issuance-engine/internal/model"
)

// Store persists committed operations and the balances they produce.
type Store interface {
	// RecordOperation appends one immutable journal entry and upserts the
	// balance rows the operation changed.
	RecordOperation(ctx context.Context, entry *model.Entry, balances []model.BalanceRow) error

	// LoadBalances returns every persisted balance row, for reloading the
	// engine's book at startup.
	LoadBalances(ctx context.Context) ([]model.BalanceRow, error)

	// EntriesByAccount returns the journal for one account, oldest first,
	// including operations where the account was the liquidated party.
	EntriesByAccount(ctx context.Context, account string) ([]model.Entry, error)
}
