// Package engine implements the issuance engine: deposit, mint, burn,
// redeem and liquidate over the collateral and issued-unit ledgers, with
// the minimum-health-factor invariant enforced after every mutating
// operation.
//
// Every public operation is atomic: its ledger writes are staged in a book
// transaction and committed only after every precondition, solvency check
// and external token call has succeeded. A failed operation leaves every
// ledger entry exactly as it was.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/bank"
	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/ledger"
	"github.com/synthex/issuance-engine/internal/metrics"
	"github.com/synthex/issuance-engine/internal/model"
	"github.com/synthex/issuance-engine/internal/oracle"
	"github.com/synthex/issuance-engine/internal/store"
	"github.com/synthex/issuance-engine/internal/valuation"
)

var (
	// ErrInvalidAmount is returned for nil or zero amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInvalidAccount is returned for empty account identifiers.
	ErrInvalidAccount = errors.New("engine: account identifier must not be empty")

	// ErrUnsupportedAsset is returned for assets outside the registry.
	ErrUnsupportedAsset = errors.New("engine: unsupported collateral asset")

	// ErrSolvencyViolation is returned when an operation would leave an
	// account below the minimum health factor.
	ErrSolvencyViolation = errors.New("engine: health factor below minimum")

	// ErrNotLiquidatable is returned when the liquidation target's health
	// factor is not below the minimum.
	ErrNotLiquidatable = errors.New("engine: target health factor not below minimum")

	// ErrHealthNotImproved is returned when a liquidation fails to lift the
	// target's health factor above the minimum.
	ErrHealthNotImproved = errors.New("engine: liquidation did not restore target health")

	// ErrLiquidatorUnhealthy is returned when the liquidator's own burn
	// would leave the liquidator below the minimum health factor.
	ErrLiquidatorUnhealthy = errors.New("engine: liquidation would break liquidator health")

	// ErrTransferFailed wraps collateral or unit token call failures.
	ErrTransferFailed = errors.New("engine: token transfer failed")

	// ErrMintFailed wraps issued-unit mint failures.
	ErrMintFailed = errors.New("engine: unit token mint failed")

	// ErrReentrantCall is returned when a mutating operation is entered
	// while another is still in flight.
	ErrReentrantCall = errors.New("engine: reentrant call")
)

// MinHealthFactor is 1.0 in 18-digit fixed point. Accounts with issued
// debt must keep their health factor at or above this after every
// operation.
var MinHealthFactor = fixedpoint.Wad

var (
	collateralFactorNum = uint256.NewInt(50) // flat 50% haircut → 200% collateralization
	liquidationBonusNum = uint256.NewInt(10) // 10% of seized collateral
	pctDen              = uint256.NewInt(100)
)

// Config wires an Engine. Registry order is the valuation iteration order
// and is fixed for the engine's lifetime.
type Config struct {
	Registry  []model.Asset         // supported assets, each bound to one feed
	Assets    map[string]bank.Asset // collateral token per registry symbol
	Unit      bank.UnitToken        // the issued unit of account
	Feed      oracle.Feed
	Store     store.Store
	Hub       *Hub   // optional event broadcast
	Custodian string // engine custody account on the collateral tokens
}

// Engine is the orchestrator. It exclusively owns the ledger book; all
// mutating operations run one at a time behind a non-reentrant guard.
type Engine struct {
	registry  []model.Asset
	feeds     map[string]string // symbol → feed ID
	assets    map[string]bank.Asset
	unit      bank.UnitToken
	conv      *valuation.Converter
	book      *ledger.Book
	st        store.Store
	hub       *Hub
	custodian string

	busy atomic.Bool
}

// New validates the configuration and builds an engine with an empty book.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Registry) == 0 {
		return nil, errors.New("engine: registry must not be empty")
	}
	if cfg.Unit == nil {
		return nil, errors.New("engine: unit token is required")
	}
	if cfg.Feed == nil {
		return nil, errors.New("engine: price feed is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	custodian := cfg.Custodian
	if custodian == "" {
		custodian = "engine-custody"
	}

	feeds := make(map[string]string, len(cfg.Registry))
	for _, a := range cfg.Registry {
		if a.Symbol == "" || a.FeedID == "" {
			return nil, fmt.Errorf("engine: registry entry %q needs a symbol and a feed", a.Symbol)
		}
		if _, dup := feeds[a.Symbol]; dup {
			return nil, fmt.Errorf("engine: duplicate registry symbol %q", a.Symbol)
		}
		if cfg.Assets[a.Symbol] == nil {
			return nil, fmt.Errorf("engine: no token wired for registry symbol %q", a.Symbol)
		}
		feeds[a.Symbol] = a.FeedID
	}

	return &Engine{
		registry:  append([]model.Asset(nil), cfg.Registry...),
		feeds:     feeds,
		assets:    cfg.Assets,
		unit:      cfg.Unit,
		conv:      valuation.NewConverter(cfg.Feed),
		book:      ledger.NewBook(),
		st:        cfg.Store,
		hub:       cfg.Hub,
		custodian: custodian,
	}, nil
}

// LoadState replaces the book's contents from the persistence layer.
// Called once at startup before the engine serves traffic.
func (e *Engine) LoadState(ctx context.Context) error {
	rows, err := e.st.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("engine: load balances: %w", err)
	}
	e.book.Load(rows)
	return nil
}

// enter engages the non-reentrant guard. Mutating operations hold it for
// their full duration, including external token calls, so no nested or
// interleaved mutation can observe partial state.
func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) exit() { e.busy.Store(false) }

// balanceView is satisfied by both the committed book and a staged Tx, so
// solvency checks can run against either.
type balanceView interface {
	Collateral(account, asset string) *uint256.Int
	Issued(account string) *uint256.Int
}

// totalCollateralValue sums the unit-of-account value of every registry
// asset for account, in registration order. Zero balances contribute zero.
func (e *Engine) totalCollateralValue(ctx context.Context, v balanceView, account string) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, a := range e.registry {
		bal := v.Collateral(account, a.Symbol)
		if bal.IsZero() {
			continue
		}
		value, err := e.conv.CollateralToUnits(ctx, a.FeedID, bal)
		if err != nil {
			return nil, err
		}
		next, overflow := new(uint256.Int).AddOverflow(total, value)
		if overflow {
			return nil, fixedpoint.ErrOverflow
		}
		total = next
	}
	return total, nil
}

// healthFactor computes floor(collateralValue * 50% * 1e18 / issued) for
// account. An account with no issued debt is maximally healthy.
func (e *Engine) healthFactor(ctx context.Context, v balanceView, account string) (*uint256.Int, error) {
	issued := v.Issued(account)
	if issued.IsZero() {
		return fixedpoint.Max.Clone(), nil
	}
	value, err := e.totalCollateralValue(ctx, v, account)
	if err != nil {
		return nil, err
	}
	haircut, err := fixedpoint.MulDiv(value, collateralFactorNum, pctDen)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(haircut, fixedpoint.Wad, issued)
}

// assertHealthy fails with ErrSolvencyViolation when account's health
// factor on the given view is below the minimum.
func (e *Engine) assertHealthy(ctx context.Context, v balanceView, account string) error {
	hf, err := e.healthFactor(ctx, v, account)
	if err != nil {
		return err
	}
	if hf.Lt(MinHealthFactor) {
		metrics.SolvencyRejections.Inc()
		return fmt.Errorf("%w: account %s at %s", ErrSolvencyViolation, account, fixedpoint.Format(hf))
	}
	return nil
}

// burnOnBehalf stages a reduction of onBehalfOf's issued balance. It is
// deliberately solvency-unchecked and must never be called outside an
// operation that re-checks health before committing; that is why it is
// unexported and takes the staged Tx.
func (e *Engine) burnOnBehalf(tx *ledger.Tx, onBehalfOf string, amount *uint256.Int) error {
	return tx.SubIssued(onBehalfOf, amount)
}

func validAmount(a *uint256.Int) error {
	if a == nil || a.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) asset(symbol string) (bank.Asset, string, error) {
	feedID, ok := e.feeds[symbol]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	return e.assets[symbol], feedID, nil
}

// DepositCollateral pulls amount of asset from account into engine custody
// and credits the account's collateral position. Deposits only ever improve
// health, so no solvency check is needed.
func (e *Engine) DepositCollateral(ctx context.Context, account, asset string, amount *uint256.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if err := validAmount(amount); err != nil {
		return failOp(model.OpDeposit, err)
	}
	token, _, err := e.asset(asset)
	if err != nil {
		return failOp(model.OpDeposit, err)
	}

	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	tx := e.book.Begin()
	if err := tx.AddCollateral(account, asset, amount); err != nil {
		return failOp(model.OpDeposit, err)
	}
	if err := token.TransferFrom(ctx, account, e.custodian, amount); err != nil {
		return failOp(model.OpDeposit, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	tx.Commit()

	e.record(ctx, tx, &model.Entry{
		Op:      model.OpDeposit,
		Account: account,
		Asset:   asset,
		Amount:  amount.Clone(),
	})
	e.emit(Event{Type: EventCollateralDeposited, Account: account, Asset: asset, Amount: fixedpoint.Format(amount)})
	return nil
}

// Mint issues amount new units to account, provided the account stays at or
// above the minimum health factor afterwards.
func (e *Engine) Mint(ctx context.Context, account string, amount *uint256.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if err := validAmount(amount); err != nil {
		return failOp(model.OpMint, err)
	}

	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	tx := e.book.Begin()
	if err := tx.AddIssued(account, amount); err != nil {
		return failOp(model.OpMint, err)
	}
	if err := e.assertHealthy(ctx, tx, account); err != nil {
		return failOp(model.OpMint, err)
	}
	if err := e.unit.Mint(ctx, account, amount); err != nil {
		return failOp(model.OpMint, fmt.Errorf("%w: %v", ErrMintFailed, err))
	}
	tx.Commit()

	e.record(ctx, tx, &model.Entry{
		Op:        model.OpMint,
		Account:   account,
		DebtDelta: amount.Clone(),
	})
	e.emit(Event{Type: EventUnitsMinted, Account: account, DebtDelta: fixedpoint.Format(amount)})
	return nil
}

// Burn pulls amount units from account, destroys them, and reduces the
// account's issued balance. Burning only improves health; the re-check is
// a safety margin.
func (e *Engine) Burn(ctx context.Context, account string, amount *uint256.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if err := validAmount(amount); err != nil {
		return failOp(model.OpBurn, err)
	}

	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	tx := e.book.Begin()
	if err := e.burnOnBehalf(tx, account, amount); err != nil {
		return failOp(model.OpBurn, err)
	}
	if err := e.assertHealthy(ctx, tx, account); err != nil {
		return failOp(model.OpBurn, err)
	}
	if err := e.unit.BurnFrom(ctx, account, amount); err != nil {
		return failOp(model.OpBurn, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	tx.Commit()

	e.record(ctx, tx, &model.Entry{
		Op:        model.OpBurn,
		Account:   account,
		DebtDelta: amount.Clone(),
	})
	e.emit(Event{Type: EventUnitsBurned, Account: account, DebtDelta: fixedpoint.Format(amount)})
	return nil
}

// RedeemCollateral withdraws amount of asset from the account's position
// back to the account, provided the account stays healthy afterwards.
func (e *Engine) RedeemCollateral(ctx context.Context, account, asset string, amount *uint256.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if err := validAmount(amount); err != nil {
		return failOp(model.OpRedeem, err)
	}
	token, _, err := e.asset(asset)
	if err != nil {
		return failOp(model.OpRedeem, err)
	}

	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	tx := e.book.Begin()
	if err := tx.SubCollateral(account, asset, amount); err != nil {
		return failOp(model.OpRedeem, err)
	}
	if err := e.assertHealthy(ctx, tx, account); err != nil {
		return failOp(model.OpRedeem, err)
	}
	if err := token.Transfer(ctx, account, amount); err != nil {
		return failOp(model.OpRedeem, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	tx.Commit()

	e.record(ctx, tx, &model.Entry{
		Op:      model.OpRedeem,
		Account: account,
		Asset:   asset,
		Amount:  amount.Clone(),
	})
	e.emit(Event{Type: EventCollateralRedeemed, Account: account, Counterparty: account, Asset: asset, Amount: fixedpoint.Format(amount)})
	return nil
}

// Liquidate lets liquidator cover debtToCover of target's issued debt in
// exchange for the equivalent collateral plus a 10% bonus, clamped to the
// target's deposited balance of that asset.
//
// The clamp means the liquidator can receive less than the nominal bonus
// when the target is near empty; that shortfall is a known property of the
// mechanism, kept as is. The post-checks reject liquidations that fail to
// lift the target back above the minimum health factor, which covers the
// clamped case where too little debt was actually cleared.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target, asset string, debtToCover *uint256.Int) error {
	if liquidator == "" || target == "" {
		return ErrInvalidAccount
	}
	if err := validAmount(debtToCover); err != nil {
		return failOp(model.OpLiquidate, err)
	}
	token, feedID, err := e.asset(asset)
	if err != nil {
		return failOp(model.OpLiquidate, err)
	}

	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	startHF, err := e.healthFactor(ctx, e.book, target)
	if err != nil {
		return failOp(model.OpLiquidate, err)
	}
	if !startHF.Lt(MinHealthFactor) {
		return failOp(model.OpLiquidate, fmt.Errorf("%w: account %s at %s", ErrNotLiquidatable, target, fixedpoint.FormatRatio(startHF)))
	}

	collateralForDebt, err := e.conv.UnitsToCollateral(ctx, feedID, debtToCover)
	if err != nil {
		return failOp(model.OpLiquidate, err)
	}
	bonus, err := fixedpoint.MulDiv(collateralForDebt, liquidationBonusNum, pctDen)
	if err != nil {
		return failOp(model.OpLiquidate, err)
	}
	claim, overflow := new(uint256.Int).AddOverflow(collateralForDebt, bonus)
	if overflow {
		return failOp(model.OpLiquidate, fixedpoint.ErrOverflow)
	}

	// Partial-liquidation safety: never seize more than the target holds.
	if available := e.book.Collateral(target, asset); claim.Gt(available) {
		claim = available
	}

	// The seized collateral leaves the target's position and engine custody
	// entirely: it is paid out to the liquidator's wallet, not credited to
	// the liquidator's own position.
	tx := e.book.Begin()
	if err := tx.SubCollateral(target, asset, claim); err != nil {
		return failOp(model.OpLiquidate, err)
	}
	if err := e.burnOnBehalf(tx, target, debtToCover); err != nil {
		return failOp(model.OpLiquidate, err)
	}

	endHF, err := e.healthFactor(ctx, tx, target)
	if err != nil {
		return failOp(model.OpLiquidate, err)
	}
	if !endHF.Gt(startHF) || endHF.Lt(MinHealthFactor) {
		return failOp(model.OpLiquidate, fmt.Errorf("%w: %s to %s", ErrHealthNotImproved,
			fixedpoint.FormatRatio(startHF), fixedpoint.FormatRatio(endHF)))
	}
	if hf, err := e.healthFactor(ctx, tx, liquidator); err != nil {
		return failOp(model.OpLiquidate, err)
	} else if hf.Lt(MinHealthFactor) {
		return failOp(model.OpLiquidate, fmt.Errorf("%w: liquidator %s at %s", ErrLiquidatorUnhealthy, liquidator, fixedpoint.Format(hf)))
	}

	// External calls last: burn the liquidator's units, then release the
	// seized collateral from custody. If the release fails after the burn,
	// re-mint to put the liquidator back where they started.
	if err := e.unit.BurnFrom(ctx, liquidator, debtToCover); err != nil {
		return failOp(model.OpLiquidate, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if err := token.Transfer(ctx, liquidator, claim); err != nil {
		if mintErr := e.unit.Mint(ctx, liquidator, debtToCover); mintErr != nil {
			slog.Error("liquidation compensation failed, units lost",
				"liquidator", liquidator, "amount", fixedpoint.Format(debtToCover), "err", mintErr)
		}
		return failOp(model.OpLiquidate, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	tx.Commit()

	metrics.LiquidationsTotal.Inc()
	e.record(ctx, tx, &model.Entry{
		Op:           model.OpLiquidate,
		Account:      target,
		Counterparty: liquidator,
		Asset:        asset,
		Amount:       claim.Clone(),
		DebtDelta:    debtToCover.Clone(),
	})
	e.emit(Event{
		Type:         EventCollateralRedeemed,
		Account:      target,
		Counterparty: liquidator,
		Asset:        asset,
		Amount:       fixedpoint.Format(claim),
	})
	e.emit(Event{
		Type:         EventLiquidated,
		Account:      target,
		Counterparty: liquidator,
		Asset:        asset,
		Amount:       fixedpoint.Format(claim),
		DebtDelta:    fixedpoint.Format(debtToCover),
	})

	slog.Info("liquidation executed",
		"target", target,
		"liquidator", liquidator,
		"asset", asset,
		"collateral_seized", fixedpoint.Format(claim),
		"debt_covered", fixedpoint.Format(debtToCover),
		"health_before", fixedpoint.FormatRatio(startHF),
		"health_after", fixedpoint.FormatRatio(endHF),
	)
	return nil
}

// DepositAndMint is pure sequencing of DepositCollateral then Mint.
func (e *Engine) DepositAndMint(ctx context.Context, account, asset string, amount, mintAmount *uint256.Int) error {
	if err := e.DepositCollateral(ctx, account, asset, amount); err != nil {
		return err
	}
	return e.Mint(ctx, account, mintAmount)
}

// BurnAndRedeem is pure sequencing of Burn then RedeemCollateral.
func (e *Engine) BurnAndRedeem(ctx context.Context, account, asset string, redeemAmount, burnAmount *uint256.Int) error {
	if err := e.Burn(ctx, account, burnAmount); err != nil {
		return err
	}
	return e.RedeemCollateral(ctx, account, asset, redeemAmount)
}

// --- Read-only queries (no guard) ---

// HealthFactor returns account's current health factor on the committed book.
func (e *Engine) HealthFactor(ctx context.Context, account string) (*uint256.Int, error) {
	return e.healthFactor(ctx, e.book, account)
}

// AccountInfo returns account's issued balance and total collateral value.
func (e *Engine) AccountInfo(ctx context.Context, account string) (issued, collateralValue *uint256.Int, err error) {
	issued = e.book.Issued(account)
	collateralValue, err = e.totalCollateralValue(ctx, e.book, account)
	return issued, collateralValue, err
}

// CollateralBalance returns account's deposited balance of asset.
func (e *Engine) CollateralBalance(account, asset string) *uint256.Int {
	return e.book.Collateral(account, asset)
}

// SupportedAssets returns the registry in registration order.
func (e *Engine) SupportedAssets() []model.Asset {
	return append([]model.Asset(nil), e.registry...)
}

// PriceFeed returns the feed ID bound to asset.
func (e *Engine) PriceFeed(asset string) (string, error) {
	feedID, ok := e.feeds[asset]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return feedID, nil
}

// Price18 returns the current 18-digit fixed-point price for asset.
func (e *Engine) Price18(ctx context.Context, asset string) (*uint256.Int, error) {
	_, feedID, err := e.asset(asset)
	if err != nil {
		return nil, err
	}
	return e.conv.Price18(ctx, feedID)
}

// Snapshot builds the read-model view of one account.
func (e *Engine) Snapshot(ctx context.Context, account string) (*model.AccountSnapshot, error) {
	issued, value, err := e.AccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	hf, err := e.HealthFactor(ctx, account)
	if err != nil {
		return nil, err
	}
	return &model.AccountSnapshot{
		Account:         account,
		Issued:          fixedpoint.Format(issued),
		CollateralValue: fixedpoint.Format(value),
		HealthFactor:    fixedpoint.FormatRatio(hf),
	}, nil
}

// History returns the account's journal from the persistence layer.
func (e *Engine) History(ctx context.Context, account string) ([]model.Entry, error) {
	return e.st.EntriesByAccount(ctx, account)
}

// --- internals ---

// record persists the committed operation. The book is the runtime source
// of truth; a persistence failure degrades durability and is logged, never
// unwound.
func (e *Engine) record(ctx context.Context, tx *ledger.Tx, entry *model.Entry) {
	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now().UTC()
	if err := e.st.RecordOperation(ctx, entry, tx.Changed()); err != nil {
		slog.Error("journal write failed", "op", entry.Op, "entry", entry.ID, "err", err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(entry.Op).Inc()
}

func (e *Engine) emit(ev Event) {
	if e.hub != nil {
		e.hub.Broadcast(ev)
	}
}

func failOp(op string, err error) error {
	metrics.OperationFailures.WithLabelValues(op, reason(err)).Inc()
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAccount):
		return "invalid_input"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrSolvencyViolation), errors.Is(err, ErrLiquidatorUnhealthy):
		return "solvency"
	case errors.Is(err, ErrNotLiquidatable), errors.Is(err, ErrHealthNotImproved):
		return "liquidation_policy"
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed):
		return "external_call"
	case errors.Is(err, ledger.ErrInsufficientCollateral), errors.Is(err, ledger.ErrInsufficientIssued):
		return "insufficient_balance"
	default:
		return "other"
	}
}
