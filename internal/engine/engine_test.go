package engine_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/bank"
	"github.com/synthex/issuance-engine/internal/engine"
	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/ledger"
	"github.com/synthex/issuance-engine/internal/model"
	"github.com/synthex/issuance-engine/internal/oracle"
	"github.com/synthex/issuance-engine/internal/store"
)

const custody = "engine-custody"

type env struct {
	eng  *engine.Engine
	weth *bank.Ledger
	wbtc *bank.Ledger
	unit *bank.Ledger
	feed *oracle.StaticFeed
	st   *store.MemoryStore
}

// newEnv builds an engine over in-memory collaborators: WETH at 2000 and
// WBTC at 60000 unit-of-account per token.
func newEnv(t *testing.T) *env {
	t.Helper()

	feed := oracle.NewStaticFeed()
	feed.Set("eth-usd", big.NewInt(2000e8))
	feed.Set("btc-usd", big.NewInt(60000e8))

	weth := bank.NewLedger("WETH", custody)
	wbtc := bank.NewLedger("WBTC", custody)
	unit := bank.NewLedger("SYNTH", custody)
	st := store.NewMemoryStore()

	eng, err := engine.New(engine.Config{
		Registry: []model.Asset{
			{Symbol: "WETH", FeedID: "eth-usd"},
			{Symbol: "WBTC", FeedID: "btc-usd"},
		},
		Assets:    map[string]bank.Asset{"WETH": weth, "WBTC": wbtc},
		Unit:      unit,
		Feed:      feed,
		Store:     st,
		Custodian: custody,
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return &env{eng: eng, weth: weth, wbtc: wbtc, unit: unit, feed: feed, st: st}
}

func wad(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// deposit funds the account's wallet and deposits the amount as collateral.
func (e *env) deposit(t *testing.T, account, asset, amount string) {
	t.Helper()
	token := e.weth
	if asset == "WBTC" {
		token = e.wbtc
	}
	token.Credit(account, wad(t, amount))
	if err := e.eng.DepositCollateral(context.Background(), account, asset, wad(t, amount)); err != nil {
		t.Fatalf("deposit %s %s for %s: %v", amount, asset, account, err)
	}
}

func (e *env) mint(t *testing.T, account, amount string) {
	t.Helper()
	if err := e.eng.Mint(context.Background(), account, wad(t, amount)); err != nil {
		t.Fatalf("mint %s for %s: %v", amount, account, err)
	}
}

func (e *env) setPrice(feedID string, price8 int64) {
	e.feed.Set(feedID, big.NewInt(price8))
}

func (e *env) healthFactor(t *testing.T, account string) *uint256.Int {
	t.Helper()
	hf, err := e.eng.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor for %s: %v", account, err)
	}
	return hf
}

// --- Construction ---

func TestNew_RejectsBadRegistry(t *testing.T) {
	unit := bank.NewLedger("SYNTH", custody)
	weth := bank.NewLedger("WETH", custody)
	base := engine.Config{
		Assets: map[string]bank.Asset{"WETH": weth},
		Unit:   unit,
		Feed:   oracle.NewStaticFeed(),
		Store:  store.NewMemoryStore(),
	}

	cfg := base
	cfg.Registry = nil
	if _, err := engine.New(cfg); err == nil {
		t.Error("expected error for empty registry")
	}

	cfg = base
	cfg.Registry = []model.Asset{{Symbol: "WETH", FeedID: ""}}
	if _, err := engine.New(cfg); err == nil {
		t.Error("expected error for missing feed")
	}

	cfg = base
	cfg.Registry = []model.Asset{
		{Symbol: "WETH", FeedID: "eth-usd"},
		{Symbol: "WETH", FeedID: "eth-usd-2"},
	}
	if _, err := engine.New(cfg); err == nil {
		t.Error("expected error for duplicate symbol")
	}

	cfg = base
	cfg.Registry = []model.Asset{{Symbol: "WBTC", FeedID: "btc-usd"}}
	if _, err := engine.New(cfg); err == nil {
		t.Error("expected error for registry symbol without a wired token")
	}
}

// --- Deposit ---

func TestDeposit_CreditsPositionAndCustody(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")

	if got := e.eng.CollateralBalance("alice", "WETH"); !got.Eq(wad(t, "10")) {
		t.Errorf("expected position 10, got %s", fixedpoint.Format(got))
	}
	got, _ := e.weth.BalanceOf(context.Background(), custody)
	if !got.Eq(wad(t, "10")) {
		t.Errorf("expected custody to hold 10, got %s", fixedpoint.Format(got))
	}
}

func TestDeposit_ZeroAmountRejectedBeforeMutation(t *testing.T) {
	e := newEnv(t)
	e.weth.Credit("alice", wad(t, "10"))

	err := e.eng.DepositCollateral(context.Background(), "alice", "WETH", uint256.NewInt(0))
	if !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").IsZero() {
		t.Error("failed deposit must not create a position")
	}
}

func TestDeposit_UnsupportedAsset(t *testing.T) {
	e := newEnv(t)
	err := e.eng.DepositCollateral(context.Background(), "alice", "DOGE", wad(t, "1"))
	if !errors.Is(err, engine.ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestDeposit_TransferFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	e.weth.Credit("alice", wad(t, "10"))
	e.weth.FailNext(bank.ErrTransferRejected)

	err := e.eng.DepositCollateral(context.Background(), "alice", "WETH", wad(t, "10"))
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").IsZero() {
		t.Error("failed deposit must leave the position at zero")
	}
}

// --- Mint ---

func TestMint_SucceedsAtExactBoundary(t *testing.T) {
	// 10 WETH at 2000 → value 20000, haircut 10000. Minting exactly 10000
	// puts the health factor at exactly 1.0, which is still solvent.
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10000")

	if hf := e.healthFactor(t, "alice"); !hf.Eq(fixedpoint.Wad) {
		t.Errorf("expected health factor exactly 1.0, got %s", fixedpoint.Format(hf))
	}
	got, _ := e.unit.BalanceOf(context.Background(), "alice")
	if !got.Eq(wad(t, "10000")) {
		t.Errorf("expected 10000 units in wallet, got %s", fixedpoint.Format(got))
	}
}

func TestMint_OneUnitPastBoundaryRejected(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")

	err := e.eng.Mint(context.Background(), "alice", wad(t, "10001"))
	if !errors.Is(err, engine.ErrSolvencyViolation) {
		t.Fatalf("expected ErrSolvencyViolation, got %v", err)
	}

	issued, _, err := e.eng.AccountInfo(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if !issued.IsZero() {
		t.Error("failed mint must leave issued balance at zero")
	}
	got, _ := e.unit.BalanceOf(context.Background(), "alice")
	if !got.IsZero() {
		t.Error("failed mint must not credit the unit token")
	}
}

func TestMint_ExternalFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.unit.FailNext(bank.ErrTransferRejected)

	err := e.eng.Mint(context.Background(), "alice", wad(t, "100"))
	if !errors.Is(err, engine.ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.IsZero() {
		t.Error("failed mint must leave issued balance at zero")
	}
}

// --- Burn ---

func TestBurn_ReducesIssuedBalance(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10000")

	if err := e.eng.Burn(context.Background(), "alice", wad(t, "4000")); err != nil {
		t.Fatalf("burn: %v", err)
	}

	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.Eq(wad(t, "6000")) {
		t.Errorf("expected issued 6000, got %s", fixedpoint.Format(issued))
	}
	got, _ := e.unit.BalanceOf(context.Background(), "alice")
	if !got.Eq(wad(t, "6000")) {
		t.Errorf("expected wallet 6000, got %s", fixedpoint.Format(got))
	}
}

func TestBurn_MoreThanIssuedRejected(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "100")

	err := e.eng.Burn(context.Background(), "alice", wad(t, "101"))
	if !errors.Is(err, ledger.ErrInsufficientIssued) {
		t.Errorf("expected ErrInsufficientIssued, got %v", err)
	}
}

// --- Redeem ---

func TestRedeem_ReturnsCollateral(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")

	if err := e.eng.RedeemCollateral(context.Background(), "alice", "WETH", wad(t, "10")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").IsZero() {
		t.Error("position should be empty after full redemption")
	}
	got, _ := e.weth.BalanceOf(context.Background(), "alice")
	if !got.Eq(wad(t, "10")) {
		t.Errorf("expected wallet back at 10, got %s", fixedpoint.Format(got))
	}
}

func TestRedeem_BreakingHealthRollsBack(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10000")

	err := e.eng.RedeemCollateral(context.Background(), "alice", "WETH", wad(t, "1"))
	if !errors.Is(err, engine.ErrSolvencyViolation) {
		t.Fatalf("expected ErrSolvencyViolation, got %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").Eq(wad(t, "10")) {
		t.Error("failed redemption must leave collateral unchanged")
	}
	got, _ := e.weth.BalanceOf(context.Background(), "alice")
	if !got.IsZero() {
		t.Error("failed redemption must not pay out")
	}
}

func TestRedeem_MoreThanDeposited(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")

	err := e.eng.RedeemCollateral(context.Background(), "alice", "WETH", wad(t, "11"))
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("expected ErrInsufficientCollateral, got %v", err)
	}
}

// --- Health factor and valuation ---

func TestHealthFactor_NoDebtIsMax(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")

	if hf := e.healthFactor(t, "alice"); !hf.Eq(fixedpoint.Max) {
		t.Errorf("debt-free account should be maximally healthy, got %s", hf.Dec())
	}
	// Even with no collateral at all.
	if hf := e.healthFactor(t, "nobody"); !hf.Eq(fixedpoint.Max) {
		t.Errorf("empty account should be maximally healthy, got %s", hf.Dec())
	}
}

func TestAccountInfo_SumsRegistryAssets(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10") // 20000
	e.deposit(t, "alice", "WBTC", "1")  // 60000

	_, value, err := e.eng.AccountInfo(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if !value.Eq(wad(t, "80000")) {
		t.Errorf("expected collateral value 80000, got %s", fixedpoint.Format(value))
	}
}

func TestMonotonicity(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "5000")

	before := e.healthFactor(t, "alice")
	e.deposit(t, "alice", "WETH", "1")
	after := e.healthFactor(t, "alice")
	if after.Lt(before) {
		t.Error("deposit must never decrease the health factor")
	}

	before = after
	if err := e.eng.Mint(context.Background(), "alice", wad(t, "100")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	after = e.healthFactor(t, "alice")
	if after.Gt(before) {
		t.Error("mint must never increase the health factor")
	}

	before = after
	if err := e.eng.Burn(context.Background(), "alice", wad(t, "100")); err != nil {
		t.Fatalf("burn: %v", err)
	}
	after = e.healthFactor(t, "alice")
	if after.Lt(before) {
		t.Error("burn must never decrease the health factor")
	}

	before = after
	if err := e.eng.RedeemCollateral(context.Background(), "alice", "WETH", wad(t, "1")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	after = e.healthFactor(t, "alice")
	if after.Gt(before) {
		t.Error("redeem must never increase the health factor")
	}
}

// --- Liquidation ---

func TestLiquidate_HealthyTargetRejected(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10000") // exactly at the boundary, still healthy

	err := e.eng.Liquidate(context.Background(), "bob", "alice", "WETH", wad(t, "100"))
	if !errors.Is(err, engine.ErrNotLiquidatable) {
		t.Errorf("expected ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidate_RestoresHealth(t *testing.T) {
	e := newEnv(t)

	// Target mints near the cap at 2010, then the price slips to 2000:
	// health factor 10000/10040 ≈ 0.996, liquidatable.
	e.setPrice("eth-usd", 2010e8)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10040")

	e.deposit(t, "bob", "WETH", "20")
	e.mint(t, "bob", "1000")

	e.setPrice("eth-usd", 2000e8)
	if hf := e.healthFactor(t, "alice"); !hf.Lt(fixedpoint.Wad) {
		t.Fatalf("setup: target should be undercollateralized, hf=%s", fixedpoint.Format(hf))
	}

	if err := e.eng.Liquidate(context.Background(), "bob", "alice", "WETH", wad(t, "1000")); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 1000 units at 2000 = 0.5 WETH, plus 10% bonus = 0.55 seized.
	if got := e.eng.CollateralBalance("alice", "WETH"); !got.Eq(wad(t, "9.45")) {
		t.Errorf("expected target position 9.45, got %s", fixedpoint.Format(got))
	}
	got, _ := e.weth.BalanceOf(context.Background(), "bob")
	if !got.Eq(wad(t, "0.55")) {
		t.Errorf("expected liquidator paid 0.55 WETH, got %s", fixedpoint.Format(got))
	}

	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.Eq(wad(t, "9040")) {
		t.Errorf("expected target debt 9040, got %s", fixedpoint.Format(issued))
	}
	if hf := e.healthFactor(t, "alice"); !hf.Gt(fixedpoint.Wad) {
		t.Errorf("target must be above minimum after liquidation, got %s", fixedpoint.Format(hf))
	}

	// The liquidator's units were burned.
	units, _ := e.unit.BalanceOf(context.Background(), "bob")
	if !units.IsZero() {
		t.Errorf("expected liquidator units burned, got %s", fixedpoint.Format(units))
	}
}

func TestLiquidate_ClampsToDepositedCollateral(t *testing.T) {
	e := newEnv(t)

	// Target's collateral crashes from 4000 to 100: the bonus-inclusive
	// claim (22 WETH) far exceeds the 1 WETH deposited.
	e.setPrice("eth-usd", 4000e8)
	e.deposit(t, "alice", "WETH", "1")
	e.mint(t, "alice", "2000")

	e.setPrice("eth-usd", 100e8)
	e.deposit(t, "bob", "WETH", "80")
	e.mint(t, "bob", "2000")

	if err := e.eng.Liquidate(context.Background(), "bob", "alice", "WETH", wad(t, "2000")); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// The liquidator receives everything there was and no more, which is
	// less than the nominal 22 WETH claim.
	got, _ := e.weth.BalanceOf(context.Background(), "bob")
	if !got.Eq(wad(t, "1")) {
		t.Errorf("expected clamped payout of 1 WETH, got %s", fixedpoint.Format(got))
	}
	if !e.eng.CollateralBalance("alice", "WETH").IsZero() {
		t.Error("target position should be fully seized")
	}
	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.IsZero() {
		t.Errorf("expected target debt cleared, got %s", fixedpoint.Format(issued))
	}
}

func TestLiquidate_RejectedWhenHealthNotRestored(t *testing.T) {
	e := newEnv(t)

	e.setPrice("eth-usd", 2100e8)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10500")

	e.deposit(t, "bob", "WETH", "2")
	e.mint(t, "bob", "1000")

	// At 2000 the target sits at 10000/10500 ≈ 0.95; covering only 1000
	// leaves 9450/9500 < 1, so the liquidation must be rejected whole.
	e.setPrice("eth-usd", 2000e8)

	err := e.eng.Liquidate(context.Background(), "bob", "alice", "WETH", wad(t, "1000"))
	if !errors.Is(err, engine.ErrHealthNotImproved) {
		t.Fatalf("expected ErrHealthNotImproved, got %v", err)
	}

	// Atomicity: nothing moved.
	if !e.eng.CollateralBalance("alice", "WETH").Eq(wad(t, "10")) {
		t.Error("rejected liquidation must leave target collateral unchanged")
	}
	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.Eq(wad(t, "10500")) {
		t.Error("rejected liquidation must leave target debt unchanged")
	}
	units, _ := e.unit.BalanceOf(context.Background(), "bob")
	if !units.Eq(wad(t, "1000")) {
		t.Error("rejected liquidation must not burn the liquidator's units")
	}
	payout, _ := e.weth.BalanceOf(context.Background(), "bob")
	if !payout.IsZero() {
		t.Error("rejected liquidation must not pay out collateral")
	}
}

func TestLiquidate_BurnFailureRollsBack(t *testing.T) {
	e := newEnv(t)

	e.setPrice("eth-usd", 2010e8)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10040")
	e.deposit(t, "bob", "WETH", "20")
	e.mint(t, "bob", "1000")
	e.setPrice("eth-usd", 2000e8)

	e.unit.FailNext(bank.ErrTransferRejected)
	err := e.eng.Liquidate(context.Background(), "bob", "alice", "WETH", wad(t, "1000"))
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").Eq(wad(t, "10")) {
		t.Error("failed liquidation must leave target collateral unchanged")
	}
	issued, _, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.Eq(wad(t, "10040")) {
		t.Error("failed liquidation must leave target debt unchanged")
	}
}

// --- Composites ---

func TestDepositAndMint(t *testing.T) {
	e := newEnv(t)
	e.weth.Credit("alice", wad(t, "10"))

	err := e.eng.DepositAndMint(context.Background(), "alice", "WETH", wad(t, "10"), wad(t, "10000"))
	if err != nil {
		t.Fatalf("deposit-and-mint: %v", err)
	}
	issued, value, _ := e.eng.AccountInfo(context.Background(), "alice")
	if !issued.Eq(wad(t, "10000")) || !value.Eq(wad(t, "20000")) {
		t.Errorf("expected issued 10000 / value 20000, got %s / %s",
			fixedpoint.Format(issued), fixedpoint.Format(value))
	}
}

func TestBurnAndRedeem(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "10000")

	// Burning everything releases all collateral.
	err := e.eng.BurnAndRedeem(context.Background(), "alice", "WETH", wad(t, "10"), wad(t, "10000"))
	if err != nil {
		t.Fatalf("burn-and-redeem: %v", err)
	}
	if !e.eng.CollateralBalance("alice", "WETH").IsZero() {
		t.Error("expected position emptied")
	}
	got, _ := e.weth.BalanceOf(context.Background(), "alice")
	if !got.Eq(wad(t, "10")) {
		t.Errorf("expected wallet back at 10, got %s", fixedpoint.Format(got))
	}
}

// --- Queries and journal ---

func TestSupportedAssets_RegistrationOrder(t *testing.T) {
	e := newEnv(t)
	assets := e.eng.SupportedAssets()
	if len(assets) != 2 || assets[0].Symbol != "WETH" || assets[1].Symbol != "WBTC" {
		t.Errorf("unexpected registry order: %+v", assets)
	}

	feedID, err := e.eng.PriceFeed("WETH")
	if err != nil || feedID != "eth-usd" {
		t.Errorf("expected eth-usd, got %q (%v)", feedID, err)
	}
	if _, err := e.eng.PriceFeed("DOGE"); !errors.Is(err, engine.ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestHistory_RecordsCommittedOperations(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", "WETH", "10")
	e.mint(t, "alice", "100")

	entries, err := e.eng.History(context.Background(), "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
	if entries[0].Op != model.OpDeposit || entries[1].Op != model.OpMint {
		t.Errorf("unexpected ops: %s, %s", entries[0].Op, entries[1].Op)
	}
}

// --- Reentrancy ---

// reentrantUnit is a unit token whose Mint dials back into the engine.
type reentrantUnit struct {
	*bank.Ledger
	eng    *engine.Engine
	nested error
}

func (r *reentrantUnit) Mint(ctx context.Context, account string, amount *uint256.Int) error {
	r.nested = r.eng.Mint(ctx, account, amount)
	return r.nested
}

func TestMint_ReentrantCallbackRejected(t *testing.T) {
	feed := oracle.NewStaticFeed()
	feed.Set("eth-usd", big.NewInt(2000e8))
	weth := bank.NewLedger("WETH", custody)
	ru := &reentrantUnit{Ledger: bank.NewLedger("SYNTH", custody)}

	eng, err := engine.New(engine.Config{
		Registry:  []model.Asset{{Symbol: "WETH", FeedID: "eth-usd"}},
		Assets:    map[string]bank.Asset{"WETH": weth},
		Unit:      ru,
		Feed:      feed,
		Store:     store.NewMemoryStore(),
		Custodian: custody,
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	ru.eng = eng

	weth.Credit("alice", wad(t, "10"))
	if err := eng.DepositCollateral(context.Background(), "alice", "WETH", wad(t, "10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err = eng.Mint(context.Background(), "alice", wad(t, "100"))
	if !errors.Is(err, engine.ErrMintFailed) {
		t.Fatalf("expected outer mint to fail, got %v", err)
	}
	if !errors.Is(ru.nested, engine.ErrReentrantCall) {
		t.Errorf("expected nested call to hit the reentrancy guard, got %v", ru.nested)
	}

	issued, _, _ := eng.AccountInfo(context.Background(), "alice")
	if !issued.IsZero() {
		t.Error("rejected reentrant mint must leave issued balance at zero")
	}
}
