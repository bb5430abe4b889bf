package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synthex/issuance-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the durable journal.
// Scaled 18-digit integer amounts are stored as NUMERIC for exactness and
// round-tripped as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) RecordOperation(ctx context.Context, e *model.Entry, balances []model.BalanceRow) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO journal_entries (id, op, account, counterparty, asset, amount, debt_delta, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, e.Op, e.Account, e.Counterparty, e.Asset,
		numericArg(e.Amount), numericArg(e.DebtDelta), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.ID, err)
	}

	for _, row := range balances {
		_, err = tx.Exec(ctx,
			`INSERT INTO balances (account, asset, amount)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (account, asset) DO UPDATE SET amount = EXCLUDED.amount`,
			row.Account, row.Asset, row.Amount.Dec(),
		)
		if err != nil {
			return fmt.Errorf("upsert balance %s/%s: %w", row.Account, row.Asset, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadBalances(ctx context.Context) ([]model.BalanceRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, asset, amount::TEXT FROM balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.BalanceRow
	for rows.Next() {
		var r model.BalanceRow
		var amountS string
		if err := rows.Scan(&r.Account, &r.Asset, &amountS); err != nil {
			return nil, err
		}
		r.Amount, err = parseNumeric(amountS)
		if err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", r.Account, r.Asset, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) EntriesByAccount(ctx context.Context, account string) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account, counterparty, asset,
		        amount::TEXT, debt_delta::TEXT, timestamp
		 FROM journal_entries
		 WHERE account = $1 OR counterparty = $1
		 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var amountS, debtS string
		if err := rows.Scan(&e.ID, &e.Op, &e.Account, &e.Counterparty, &e.Asset,
			&amountS, &debtS, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Amount, err = parseNumeric(amountS); err != nil {
			return nil, fmt.Errorf("entry %s amount: %w", e.ID, err)
		}
		if e.DebtDelta, err = parseNumeric(debtS); err != nil {
			return nil, fmt.Errorf("entry %s debt delta: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func numericArg(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func parseNumeric(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", s)
	}
	return out, nil
}
