package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synthex/issuance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over per-account journal reads. Writes go to the primary store and
// invalidate the affected accounts; reads check Redis first then fall back
// to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) RecordOperation(ctx context.Context, entry *model.Entry, balances []model.BalanceRow) error {
	if err := s.primary.RecordOperation(ctx, entry, balances); err != nil {
		return err
	}
	// Invalidate journal caches for both parties; next read re-populates.
	s.rdb.Del(ctx, journalKey(entry.Account))
	if entry.Counterparty != "" {
		s.rdb.Del(ctx, journalKey(entry.Counterparty))
	}
	return nil
}

// LoadBalances is a startup-only path and always hits the primary.
func (s *CachedStore) LoadBalances(ctx context.Context) ([]model.BalanceRow, error) {
	return s.primary.LoadBalances(ctx)
}

func (s *CachedStore) EntriesByAccount(ctx context.Context, account string) ([]model.Entry, error) {
	data, err := s.rdb.Get(ctx, journalKey(account)).Bytes()
	if err == nil {
		var cached []journalRow
		if json.Unmarshal(data, &cached) == nil {
			return decodeJournal(cached)
		}
	}

	// Cache miss: read from primary.
	entries, err := s.primary.EntriesByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(encodeJournal(entries)); err == nil {
		s.rdb.Set(ctx, journalKey(account), data, s.ttl)
	}
	return entries, nil
}

// journalRow is the cache encoding of a journal entry; scaled amounts are
// carried as decimal integer strings.
type journalRow struct {
	ID           string    `json:"id"`
	Op           string    `json:"op"`
	Account      string    `json:"account"`
	Counterparty string    `json:"counterparty,omitempty"`
	Asset        string    `json:"asset,omitempty"`
	Amount       string    `json:"amount"`
	DebtDelta    string    `json:"debt_delta"`
	Timestamp    time.Time `json:"timestamp"`
}

func encodeJournal(entries []model.Entry) []journalRow {
	rows := make([]journalRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, journalRow{
			ID:           e.ID,
			Op:           e.Op,
			Account:      e.Account,
			Counterparty: e.Counterparty,
			Asset:        e.Asset,
			Amount:       numericArg(e.Amount),
			DebtDelta:    numericArg(e.DebtDelta),
			Timestamp:    e.Timestamp,
		})
	}
	return rows
}

func decodeJournal(rows []journalRow) ([]model.Entry, error) {
	entries := make([]model.Entry, 0, len(rows))
	for _, r := range rows {
		amount, err := parseNumeric(r.Amount)
		if err != nil {
			return nil, err
		}
		debt, err := parseNumeric(r.DebtDelta)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.Entry{
			ID:           r.ID,
			Op:           r.Op,
			Account:      r.Account,
			Counterparty: r.Counterparty,
			Asset:        r.Asset,
			Amount:       amount,
			DebtDelta:    debt,
			Timestamp:    r.Timestamp,
		})
	}
	return entries, nil
}

func journalKey(account string) string { return fmt.Sprintf("journal:%s", account) }
