// Package model defines the core domain types shared across the issuance
// engine. All monetary values use 18-digit scaled uint256 integers, never
// float64.
package model

import (
	"time"

	"github.com/holiman/uint256"
)

// Operation names recorded in the journal and used as metric labels.
const (
	OpDeposit   = "deposit"
	OpMint      = "mint"
	OpBurn      = "burn"
	OpRedeem    = "redeem"
	OpLiquidate = "liquidate"
)

// Asset is one registry entry: a supported collateral asset bound to
// exactly one price feed. The registry's slice order is the iteration
// order for total-collateral-value computation and never changes after
// construction.
type Asset struct {
	Symbol string `json:"symbol"`
	FeedID string `json:"feed_id"`
}

// Entry is an immutable journal record of one committed operation.
// Once written, entries are never modified or deleted.
type Entry struct {
	ID           string       `json:"id" db:"id"`
	Op           string       `json:"op" db:"op"`
	Account      string       `json:"account" db:"account"`
	Counterparty string       `json:"counterparty,omitempty" db:"counterparty"` // liquidator on liquidations
	Asset        string       `json:"asset,omitempty" db:"asset"`
	Amount       *uint256.Int `json:"-" db:"amount"`     // collateral moved, 18-dec
	DebtDelta    *uint256.Int `json:"-" db:"debt_delta"` // issued units minted/burned, 18-dec
	Timestamp    time.Time    `json:"timestamp" db:"timestamp"`
}

// BalanceRow is one persisted ledger balance, used to reload the book at
// startup. Asset is empty for issued-unit balances.
type BalanceRow struct {
	Account string
	Asset   string
	Amount  *uint256.Int
}

// AccountSnapshot is the read-model view of one account: its issued debt,
// the haircut-free value of its collateral, and its health factor.
type AccountSnapshot struct {
	Account         string `json:"account"`
	Issued          string `json:"issued"`
	CollateralValue string `json:"collateral_value"`
	HealthFactor    string `json:"health_factor"`
}
