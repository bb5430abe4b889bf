// Package ledger holds the engine's two balance tables: deposited
// collateral per (account, asset) and issued units per account.
//
// The Book is exclusively owned by the issuance engine; nothing else writes
// it. Mutations happen through a staged Tx so that a multi-step operation
// either commits every change or none of them — a Tx that is never
// committed leaves the book untouched. The book itself has no solvency
// awareness; the engine checks policy against the staged view before
// committing.
package ledger

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/model"
)

var (
	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// account's deposited balance of that asset.
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral balance")

	// ErrInsufficientIssued is returned when a burn exceeds the account's
	// issued balance.
	ErrInsufficientIssued = errors.New("ledger: insufficient issued balance")

	// ErrBalanceOverflow is returned when a credit would overflow 256 bits.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")
)

type position struct {
	account string
	asset   string
}

// Book holds the collateral and issued-unit tables.
type Book struct {
	mu         sync.RWMutex
	collateral map[position]*uint256.Int
	issued     map[string]*uint256.Int
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		collateral: make(map[position]*uint256.Int),
		issued:     make(map[string]*uint256.Int),
	}
}

// Load replaces the book's contents with persisted balance rows. Rows with
// an empty asset are issued-unit balances. Called once at startup, before
// the engine starts serving.
func (b *Book) Load(rows []model.BalanceRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collateral = make(map[position]*uint256.Int)
	b.issued = make(map[string]*uint256.Int)
	for _, r := range rows {
		amt := r.Amount.Clone()
		if r.Asset == "" {
			b.issued[r.Account] = amt
		} else {
			b.collateral[position{r.Account, r.Asset}] = amt
		}
	}
}

// Collateral returns the deposited balance of asset for account. Missing
// positions read as zero.
func (b *Book) Collateral(account, asset string) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.collateral[position{account, asset}]; ok {
		return v.Clone()
	}
	return uint256.NewInt(0)
}

// Issued returns account's issued-unit balance.
func (b *Book) Issued(account string) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.issued[account]; ok {
		return v.Clone()
	}
	return uint256.NewInt(0)
}

// Begin opens a staged transaction over the book. Reads through the Tx
// observe its own staged writes; the book is only mutated by Commit.
func (b *Book) Begin() *Tx {
	return &Tx{
		book:       b,
		collateral: make(map[position]*uint256.Int),
		issued:     make(map[string]*uint256.Int),
	}
}

// Tx is a staged view over a Book. Not safe for concurrent use; the engine
// runs one transaction at a time.
type Tx struct {
	book       *Book
	collateral map[position]*uint256.Int
	issued     map[string]*uint256.Int
	committed  bool
}

// Collateral returns the staged balance of asset for account.
func (tx *Tx) Collateral(account, asset string) *uint256.Int {
	if v, ok := tx.collateral[position{account, asset}]; ok {
		return v.Clone()
	}
	return tx.book.Collateral(account, asset)
}

// Issued returns the staged issued-unit balance for account.
func (tx *Tx) Issued(account string) *uint256.Int {
	if v, ok := tx.issued[account]; ok {
		return v.Clone()
	}
	return tx.book.Issued(account)
}

// AddCollateral stages a collateral credit.
func (tx *Tx) AddCollateral(account, asset string, amount *uint256.Int) error {
	cur := tx.Collateral(account, asset)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	tx.collateral[position{account, asset}] = next
	return nil
}

// SubCollateral stages a collateral debit. Debits that would underflow fail
// without staging anything.
func (tx *Tx) SubCollateral(account, asset string, amount *uint256.Int) error {
	cur := tx.Collateral(account, asset)
	if cur.Lt(amount) {
		return ErrInsufficientCollateral
	}
	tx.collateral[position{account, asset}] = new(uint256.Int).Sub(cur, amount)
	return nil
}

// AddIssued stages an issued-unit credit.
func (tx *Tx) AddIssued(account string, amount *uint256.Int) error {
	cur := tx.Issued(account)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	tx.issued[account] = next
	return nil
}

// SubIssued stages an issued-unit debit.
func (tx *Tx) SubIssued(account string, amount *uint256.Int) error {
	cur := tx.Issued(account)
	if cur.Lt(amount) {
		return ErrInsufficientIssued
	}
	tx.issued[account] = new(uint256.Int).Sub(cur, amount)
	return nil
}

// Commit applies every staged write to the book. A Tx commits at most once.
func (tx *Tx) Commit() {
	if tx.committed {
		return
	}
	tx.book.mu.Lock()
	defer tx.book.mu.Unlock()
	for pos, v := range tx.collateral {
		tx.book.collateral[pos] = v
	}
	for acct, v := range tx.issued {
		tx.book.issued[acct] = v
	}
	tx.committed = true
}

// Changed returns the balance rows this Tx staged, for persistence after
// commit.
func (tx *Tx) Changed() []model.BalanceRow {
	rows := make([]model.BalanceRow, 0, len(tx.collateral)+len(tx.issued))
	for pos, v := range tx.collateral {
		rows = append(rows, model.BalanceRow{Account: pos.account, Asset: pos.asset, Amount: v.Clone()})
	}
	for acct, v := range tx.issued {
		rows = append(rows, model.BalanceRow{Account: acct, Amount: v.Clone()})
	}
	return rows
}
