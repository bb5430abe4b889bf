// Package bank models the engine's external token collaborators: the
// collateral assets it takes into custody and the issued unit of account.
//
// The engine only depends on the Asset and UnitToken interfaces. The
// in-process Ledger implementation backs both for single-node deployments
// and tests; a deployment against real token rails would substitute
// adapters satisfying the same interfaces.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds is returned when a transfer or burn exceeds the
	// payer's balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")

	// ErrZeroAccount is returned when minting to an empty account
	// identifier. Mint fails closed rather than crediting nowhere.
	ErrZeroAccount = errors.New("bank: mint to empty account")

	// ErrTransferRejected is returned by the test failure hook.
	ErrTransferRejected = errors.New("bank: transfer rejected")
)

// Asset is the engine's view of one collateral token.
type Asset interface {
	// TransferFrom moves amount from one account to another. Used to pull
	// deposits into engine custody.
	TransferFrom(ctx context.Context, from, to string, amount *uint256.Int) error

	// Transfer moves amount out of engine custody to an account.
	Transfer(ctx context.Context, to string, amount *uint256.Int) error

	// BalanceOf reports an account's token balance.
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// UnitToken is the engine's view of the issued unit of account.
type UnitToken interface {
	// Mint creates amount new units credited to account. Fails closed when
	// account is empty.
	Mint(ctx context.Context, account string, amount *uint256.Int) error

	// BurnFrom pulls amount from account and destroys it, as one step.
	BurnFrom(ctx context.Context, account string, amount *uint256.Int) error

	// BalanceOf reports an account's unit balance.
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// Ledger is an in-process token ledger implementing both Asset and
// UnitToken. Transfers out of engine custody draw from the custodian
// account passed at construction.
type Ledger struct {
	mu        sync.Mutex
	symbol    string
	custodian string
	balances  map[string]*uint256.Int

	failNext error // when set, the next mutating call fails with it
}

// NewLedger creates an empty token ledger. custodian is the account engine
// custody transfers draw from and deposits credit to.
func NewLedger(symbol, custodian string) *Ledger {
	return &Ledger{
		symbol:    symbol,
		custodian: custodian,
		balances:  make(map[string]*uint256.Int),
	}
}

// FailNext makes the next mutating call return err. Test hook for
// exercising external-call failure paths.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

func (l *Ledger) takeFailure() error {
	err := l.failNext
	l.failNext = nil
	return err
}

func (l *Ledger) balance(account string) *uint256.Int {
	if v, ok := l.balances[account]; ok {
		return v
	}
	zero := uint256.NewInt(0)
	l.balances[account] = zero
	return zero
}

func (l *Ledger) move(from, to string, amount *uint256.Int) error {
	src := l.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of %s", ErrInsufficientFunds, from, src.Dec(), l.symbol)
	}
	src.Sub(src, amount)
	dst := l.balance(to)
	dst.Add(dst, amount)
	return nil
}

func (l *Ledger) TransferFrom(_ context.Context, from, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

func (l *Ledger) Transfer(ctx context.Context, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return err
	}
	return l.move(l.custodian, to, amount)
}

func (l *Ledger) Mint(_ context.Context, account string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return err
	}
	if account == "" {
		return ErrZeroAccount
	}
	dst := l.balance(account)
	dst.Add(dst, amount)
	return nil
}

func (l *Ledger) BurnFrom(_ context.Context, account string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return err
	}
	src := l.balance(account)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of %s", ErrInsufficientFunds, account, src.Dec(), l.symbol)
	}
	src.Sub(src, amount)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, account string) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account).Clone(), nil
}

// Credit seeds an account balance. Used by main for development funding and
// by tests.
func (l *Ledger) Credit(account string, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dst := l.balance(account)
	dst.Add(dst, amount)
}
