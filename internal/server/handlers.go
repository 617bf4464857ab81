package server

import (
	"DefiHub/internal/asset"
	"DefiHub/internal/engine"
	"DefiHub/internal/ledger"
	"DefiHub/internal/observability"
	"DefiHub/internal/query"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const requestBodyLimit = 1 << 20 // 1 MiB

type handlers struct {
	engine  *engine.Engine
	query   *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

// --- middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if h.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			h.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			h.metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

// --- request/response plumbing ---

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", engine.ErrInvalidAmount, err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, r, err, statusFor(err))
}

// statusFor maps engine sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrAssetNotSupported):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidAsset),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrDeadlineExceeded):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrUnhealthyPosition),
		errors.Is(err, engine.ErrPoolFrozen),
		errors.Is(err, engine.ErrBorrowingDisabled),
		errors.Is(err, engine.ErrSupplyDisabled),
		errors.Is(err, engine.ErrSwapFailed),
		errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrProtectionFailed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPriceUnavailable),
		errors.Is(err, engine.ErrPriceStale):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing amount", engine.ErrInvalidAmount)
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidAmount, err)
	}
	return amount, nil
}

func balancesJSON(balances map[string]*uint256.Int) map[string]string {
	out := make(map[string]string, len(balances))
	for symbol, amount := range balances {
		out[symbol] = amount.Dec()
	}
	return out
}

// --- read endpoints ---

type assetJSON struct {
	Symbol       string `json:"symbol"`
	Contract     string `json:"contract,omitempty"`
	Decimals     uint32 `json:"decimals"`
	LTVBps       uint32 `json:"ltv_bps"`
	LiqBonusBps  uint32 `json:"liq_bonus_bps"`
	Collateral   bool   `json:"collateral"`
	Active       bool   `json:"active"`
	OracleSymbol string `json:"oracle_symbol,omitempty"`
}

func (h *handlers) listAssets(w http.ResponseWriter, r *http.Request) {
	configs := h.engine.GetSupportedAssets()
	out := make([]assetJSON, 0, len(configs))
	for _, c := range configs {
		out = append(out, assetJSON{
			Symbol:       c.Symbol,
			Contract:     c.Contract,
			Decimals:     c.Decimals,
			LTVBps:       c.LTVBps,
			LiqBonusBps:  c.LiqBonusBps,
			Collateral:   c.Collateral,
			Active:       c.Active,
			OracleSymbol: c.OracleSymbol,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	price, err := h.engine.GetAssetPrice(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"symbol": symbol,
		"price":  price.Dec(),
	})
}

type positionJSON struct {
	Account       string            `json:"account"`
	Supplied      map[string]string `json:"supplied"`
	Borrowed      map[string]string `json:"borrowed"`
	Staked        map[string]string `json:"staked"`
	RewardsEarned string            `json:"rewards_earned"`
	HealthFactor  string            `json:"health_factor"`
}

func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	pos := h.engine.GetPosition(ledger.Account(account))
	h.writeJSON(w, http.StatusOK, positionJSON{
		Account:       account,
		Supplied:      balancesJSON(pos.Supplied),
		Borrowed:      balancesJSON(pos.Borrowed),
		Staked:        balancesJSON(pos.Staked),
		RewardsEarned: pos.RewardsEarned.Dec(),
		HealthFactor:  pos.HealthFactor.Dec(),
	})
}

func (h *handlers) getHealth(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	hf, status, err := h.engine.GetHealthStatus(r.Context(), ledger.Account(account))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"account":       account,
		"health_factor": hf.Dec(),
		"status":        string(status),
	})
}

func (h *handlers) getStakingPool(w http.ResponseWriter, r *http.Request) {
	pool := h.engine.GetStakingPool(chi.URLParam(r, "asset"))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":             pool.Asset,
		"total_staked":      pool.TotalStaked.Dec(),
		"reward_rate":       pool.RewardRate.Dec(),
		"total_distributed": pool.TotalDistributed.Dec(),
		"last_update":       pool.LastUpdate,
	})
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.query.Events(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		h.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []query.EventRecord{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *handlers) listRisky(w http.ResponseWriter, r *http.Request) {
	below := r.URL.Query().Get("below")
	if below == "" {
		below = "1000000" // 1.0 in the health scale
	}
	if _, err := uint256.FromDecimal(below); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: below=%s", engine.ErrInvalidAmount, below), http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.query.RiskyPositions(r.Context(), below, limit)
	if err != nil {
		h.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []query.PositionRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// --- action endpoints ---

type amountRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (h *handlers) supply(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.engine.Supply(r.Context(), ledger.Account(req.Account), req.Asset, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"receipt_token": receipt})
}

func (h *handlers) borrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.Borrow(r.Context(), ledger.Account(req.Account), req.Asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	repaid, err := h.engine.Repay(r.Context(), ledger.Account(req.Account), req.Asset, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"repaid": repaid.Dec()})
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.Withdraw(r.Context(), ledger.Account(req.Account), req.Asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type swapRequest struct {
	Account      string `json:"account"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	Deadline     string `json:"deadline,omitempty"` // RFC3339, optional
}

func (h *handlers) swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !h.decode(w, r, &req) {
		return
	}
	amountIn, err := parseAmount(req.AmountIn)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	minOut, err := parseAmount(req.MinAmountOut)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var deadline time.Time
	if req.Deadline != "" {
		deadline, err = time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: deadline: %v", engine.ErrInvalidAmount, err), http.StatusBadRequest)
			return
		}
	}
	amountOut, err := h.engine.Swap(r.Context(), ledger.Account(req.Account),
		req.AssetIn, req.AssetOut, amountIn, minOut, deadline)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"amount_out": amountOut.Dec()})
}

func (h *handlers) stake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.Stake(r.Context(), ledger.Account(req.Account), req.Asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) unstake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rewards, err := h.engine.Unstake(r.Context(), ledger.Account(req.Account), req.Asset, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"rewards_paid": rewards.Dec()})
}

type claimRequest struct {
	Account string `json:"account"`
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !h.decode(w, r, &req) {
		return
	}
	claimed, err := h.engine.ClaimRewards(r.Context(), ledger.Account(req.Account))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"claimed": claimed.Dec()})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debt_asset"`
	CollateralAsset string `json:"collateral_asset"`
	DebtToCover     string `json:"debt_to_cover"`
}

func (h *handlers) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	seized, err := h.engine.Liquidate(r.Context(),
		ledger.Account(req.Liquidator), ledger.Account(req.Borrower),
		req.DebtAsset, req.CollateralAsset, debtToCover)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"collateral_seized": seized.Dec()})
}

func (h *handlers) protect(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !h.decode(w, r, &req) {
		return
	}
	repaid, err := h.engine.TriggerLiquidationProtection(r.Context(), ledger.Account(req.Account))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"debt_repaid": repaid.Dec()})
}

// --- admin endpoints ---

type addAssetRequest struct {
	Admin        string `json:"admin"`
	Symbol       string `json:"symbol"`
	Contract     string `json:"contract"`
	Decimals     uint32 `json:"decimals"`
	LTVBps       uint32 `json:"ltv_bps"`
	LiqBonusBps  uint32 `json:"liq_bonus_bps"`
	Collateral   bool   `json:"collateral"`
	OracleSymbol string `json:"oracle_symbol"`
}

func (h *handlers) addAsset(w http.ResponseWriter, r *http.Request) {
	var req addAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg := asset.Config{
		Symbol:       req.Symbol,
		Contract:     req.Contract,
		Decimals:     req.Decimals,
		LTVBps:       req.LTVBps,
		LiqBonusBps:  req.LiqBonusBps,
		Collateral:   req.Collateral,
		Active:       true,
		OracleSymbol: req.OracleSymbol,
	}
	if err := h.engine.AddAsset(r.Context(), ledger.Account(req.Admin), cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) removeAsset(w http.ResponseWriter, r *http.Request) {
	admin := r.URL.Query().Get("admin")
	symbol := chi.URLParam(r, "symbol")
	if err := h.engine.RemoveAsset(r.Context(), ledger.Account(admin), symbol); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type exchangeRateRequest struct {
	Admin    string `json:"admin"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	Rate     string `json:"rate"` // 1e18 scale
}

func (h *handlers) updateExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req exchangeRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.UpdateExchangeRate(r.Context(), ledger.Account(req.Admin),
		req.AssetIn, req.AssetOut, rate); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rewardRateRequest struct {
	Admin string `json:"admin"`
	Asset string `json:"asset"`
	Rate  string `json:"rate"`
}

func (h *handlers) updateRewardRate(w http.ResponseWriter, r *http.Request) {
	var req rewardRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.UpdateRewardRate(r.Context(), ledger.Account(req.Admin),
		req.Asset, rate); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type protectionRequest struct {
	Admin   string `json:"admin"`
	Account string `json:"account"`
	Trigger string `json:"trigger,omitempty"` // empty clears the override
}

func (h *handlers) setProtection(w http.ResponseWriter, r *http.Request) {
	var req protectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	var trigger *uint256.Int
	if req.Trigger != "" {
		t, err := parseAmount(req.Trigger)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		trigger = t
	}
	if err := h.engine.SetLiquidationProtection(r.Context(),
		ledger.Account(req.Admin), ledger.Account(req.Account), trigger); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type emergencyWithdrawRequest struct {
	Admin  string `json:"admin"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (h *handlers) emergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req emergencyWithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.EmergencyWithdraw(r.Context(), ledger.Account(req.Admin),
		req.Asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
