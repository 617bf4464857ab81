package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/engine"
	"DefiHub/internal/exchange"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/lendingpool"
	"DefiHub/internal/liquidation"
	"DefiHub/internal/oracle"
	"DefiHub/internal/pricing"
	"DefiHub/internal/reward"
	"DefiHub/internal/server"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	registry, err := asset.NewRegistry([]asset.Config{
		{Symbol: "USDC", Decimals: 6, LTVBps: 8500, LiqBonusBps: 500, Collateral: true, Active: true, OracleSymbol: "USDC"},
		{Symbol: "XLM", Decimals: 7, LTVBps: 7000, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "XLM"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	prices := oracle.NewFixedTable(map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
		"XLM":  uint256.NewInt(10_000_000),
	}, now)
	valuation := pricing.NewValuation(registry, prices, nil, pricing.PolicyStrict, time.Hour, now)
	l := ledger.NewPositionLedger(now)
	he := health.NewEngine(registry, valuation, health.DefaultConfig(), zerolog.Nop())
	pool := lendingpool.NewMemory()
	venue := exchange.NewFixedRate(now)
	fees := reward.NewFeePool()
	accruer := reward.NewFlatRateAccrual(l, uint256.NewInt(1000), now)
	liq := liquidation.NewLiquidator(registry, valuation, l, he, pool, zerolog.Nop())
	prot, err := liquidation.NewProtection(liquidation.DefaultProtectionConfig(), valuation, l, he, pool, venue, fees, zerolog.Nop())
	if err != nil {
		t.Fatalf("protection: %v", err)
	}

	seed := uint256.MustFromDecimal("1000000000000000000000000")
	for _, symbol := range []string{"USDC", "XLM"} {
		if err := pool.Supply(context.Background(), symbol, seed); err != nil {
			t.Fatalf("seed pool: %v", err)
		}
	}

	cfg := engine.DefaultConfig("admin")
	cfg.MinBorrowHealth = uint256.NewInt(1_000_000)
	eng, err := engine.New(cfg, engine.Deps{
		Registry:   registry,
		Valuation:  valuation,
		Ledger:     l,
		Health:     he,
		Pool:       pool,
		Venue:      venue,
		Accruer:    accruer,
		Fees:       fees,
		Liquidator: liq,
		Protection: prot,
		Rates:      venue,
		Log:        zerolog.Nop(),
		Now:        now,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return server.Handler(server.Deps{
		Engine: newTestEngine(t),
		Log:    zerolog.Nop(),
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSupplyThenGetPosition(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/supply", map[string]string{
		"account": "alice",
		"asset":   "USDC",
		"amount":  "1000000000", // 1000 USDC
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("supply status %d: %s", rec.Code, rec.Body.String())
	}

	var supplyResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &supplyResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if supplyResp["receipt_token"] != "bUSDC" {
		t.Errorf("receipt %q, want bUSDC", supplyResp["receipt_token"])
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/positions/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("position status %d: %s", rec.Code, rec.Body.String())
	}
	var pos struct {
		Supplied map[string]string `json:"supplied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pos.Supplied["USDC"] != "1000000000" {
		t.Errorf("supplied USDC %q, want 1000000000", pos.Supplied["USDC"])
	}
}

func TestBorrowWithoutCollateralConflicts(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/borrow", map[string]string{
		"account": "bob",
		"asset":   "USDC",
		"amount":  "1000000",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestGetPrice(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/prices/XLM", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["price"] != "10000000" {
		t.Errorf("price %q, want 10000000", resp["price"])
	}
}

func TestGetPriceUnknownSymbol(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/prices/DOGE", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestListAssets(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/assets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var assets []struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("got %d assets, want 2", len(assets))
	}
}

func TestAdminEndpointRejectsNonAdmin(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/reward-rate", map[string]string{
		"admin": "mallory",
		"asset": "USDC",
		"rate":  "2000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/supply", map[string]string{
		"account": "alice",
		"asset":   "USDC",
		"amount":  "not-a-number",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/supply", map[string]string{
		"account": "alice",
		"asset":   "USDC",
		"amount":  "1000000",
		"extra":   "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body.String())
	}
}
