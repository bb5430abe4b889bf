// HTTP handlers exposing the engine's operations.
package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/ledger"
	"github.com/synthex/issuance-engine/internal/oracle"
	"github.com/synthex/issuance-engine/internal/valuation"
)

// Service adapts the engine to HTTP. A mutex serializes mutating requests
// (single-instance) so concurrent HTTP clients queue instead of observing
// the engine's reentrancy guard. For horizontal scaling, replace with
// distributed locking.
type Service struct {
	eng *Engine
	mu  sync.Mutex
}

// NewService creates the HTTP service over an engine.
func NewService(eng *Engine) *Service {
	return &Service{eng: eng}
}

// Routes mounts every operation on r under the given chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/collateral/deposit", s.Deposit)
	r.Post("/collateral/redeem", s.Redeem)
	r.Post("/mint", s.Mint)
	r.Post("/burn", s.Burn)
	r.Post("/deposit-and-mint", s.DepositAndMint)
	r.Post("/burn-and-redeem", s.BurnAndRedeem)
	r.Post("/liquidate", s.Liquidate)

	r.Get("/accounts/{account}", s.GetAccount)
	r.Get("/accounts/{account}/collateral/{asset}", s.GetCollateralBalance)
	r.Get("/accounts/{account}/history", s.GetHistory)
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{asset}/price", s.GetPrice)
}

// --- Request types; all amounts are decimal strings ---

// CollateralRequest is the JSON body for deposit and redeem.
type CollateralRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// UnitRequest is the JSON body for mint and burn.
type UnitRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// CompositeRequest is the JSON body for deposit-and-mint / burn-and-redeem.
type CompositeRequest struct {
	Account          string `json:"account"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	UnitAmount       string `json:"unit_amount"`
}

// LiquidateRequest is the JSON body for POST /liquidate.
type LiquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debt_to_cover"`
}

// --- Mutating handlers ---

// Deposit handles POST /api/v1/collateral/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(w, req.Amount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.DepositCollateral(r.Context(), req.Account, req.Asset, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("collateral deposited", "account", req.Account, "asset", req.Asset, "amount", req.Amount)
	s.respondSnapshot(w, r, req.Account)
}

// Redeem handles POST /api/v1/collateral/redeem.
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(w, req.Amount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.RedeemCollateral(r.Context(), req.Account, req.Asset, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("collateral redeemed", "account", req.Account, "asset", req.Asset, "amount", req.Amount)
	s.respondSnapshot(w, r, req.Account)
}

// Mint handles POST /api/v1/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req UnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(w, req.Amount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.Mint(r.Context(), req.Account, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("units minted", "account", req.Account, "amount", req.Amount)
	s.respondSnapshot(w, r, req.Account)
}

// Burn handles POST /api/v1/burn.
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	var req UnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(w, req.Amount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.Burn(r.Context(), req.Account, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("units burned", "account", req.Account, "amount", req.Amount)
	s.respondSnapshot(w, r, req.Account)
}

// DepositAndMint handles POST /api/v1/deposit-and-mint.
func (s *Service) DepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req CompositeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	collateral, err := parseAmount(w, req.CollateralAmount)
	if err != nil {
		return
	}
	units, err := parseAmount(w, req.UnitAmount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.DepositAndMint(r.Context(), req.Account, req.Asset, collateral, units)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.respondSnapshot(w, r, req.Account)
}

// BurnAndRedeem handles POST /api/v1/burn-and-redeem.
func (s *Service) BurnAndRedeem(w http.ResponseWriter, r *http.Request) {
	var req CompositeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	collateral, err := parseAmount(w, req.CollateralAmount)
	if err != nil {
		return
	}
	units, err := parseAmount(w, req.UnitAmount)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.BurnAndRedeem(r.Context(), req.Account, req.Asset, collateral, units)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.respondSnapshot(w, r, req.Account)
}

// Liquidate handles POST /api/v1/liquidate.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	debt, err := parseAmount(w, req.DebtToCover)
	if err != nil {
		return
	}

	s.mu.Lock()
	err = s.eng.Liquidate(r.Context(), req.Liquidator, req.Account, req.Asset, debt)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.respondSnapshot(w, r, req.Account)
}

// --- Read-only handlers ---

// GetAccount handles GET /api/v1/accounts/{account}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	snap, err := s.eng.Snapshot(r.Context(), account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetCollateralBalance handles GET /api/v1/accounts/{account}/collateral/{asset}.
func (s *Service) GetCollateralBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	asset := chi.URLParam(r, "asset")
	if _, err := s.eng.PriceFeed(asset); err != nil {
		writeEngineError(w, err)
		return
	}
	bal := s.eng.CollateralBalance(account, asset)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account,
		"asset":   asset,
		"amount":  fixedpoint.Format(bal),
	})
}

// GetHistory handles GET /api/v1/accounts/{account}/history.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	entries, err := s.eng.History(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	out := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyRow{
			ID:           e.ID,
			Op:           e.Op,
			Account:      e.Account,
			Counterparty: e.Counterparty,
			Asset:        e.Asset,
			Amount:       fixedpoint.Format(e.Amount),
			DebtDelta:    fixedpoint.Format(e.DebtDelta),
			Timestamp:    e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.SupportedAssets())
}

// GetPrice handles GET /api/v1/assets/{asset}/price.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	price, err := s.eng.Price18(r.Context(), asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	feedID, _ := s.eng.PriceFeed(asset)
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   asset,
		"feed_id": feedID,
		"price":   fixedpoint.Format(price),
	})
}

type historyRow struct {
	ID           string    `json:"id"`
	Op           string    `json:"op"`
	Account      string    `json:"account"`
	Counterparty string    `json:"counterparty,omitempty"`
	Asset        string    `json:"asset,omitempty"`
	Amount       string    `json:"amount"`
	DebtDelta    string    `json:"debt_delta"`
	Timestamp    time.Time `json:"timestamp"`
}

// --- helpers ---

func (s *Service) respondSnapshot(w http.ResponseWriter, r *http.Request, account string) {
	snap, err := s.eng.Snapshot(r.Context(), account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func parseAmount(w http.ResponseWriter, s string) (*uint256.Int, error) {
	amount, err := fixedpoint.Parse(s)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}
	return amount, nil
}

// writeEngineError maps engine sentinels to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAccount),
		errors.Is(err, fixedpoint.ErrMalformed), errors.Is(err, fixedpoint.ErrNegative),
		errors.Is(err, fixedpoint.ErrTooPrecise):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnsupportedAsset), errors.Is(err, oracle.ErrFeedNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSolvencyViolation), errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrHealthNotImproved), errors.Is(err, ErrLiquidatorUnhealthy),
		errors.Is(err, ledger.ErrInsufficientCollateral), errors.Is(err, ledger.ErrInsufficientIssued),
		errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed),
		errors.Is(err, ErrReentrantCall):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, valuation.ErrNonPositivePrice):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
