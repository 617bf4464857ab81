package pricing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/observability"
	"DefiHub/internal/oracle"
	"DefiHub/internal/pricing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func now() time.Time { return fixedNow }

func testRegistry(t *testing.T) *asset.Registry {
	t.Helper()
	r, err := asset.NewRegistry([]asset.Config{
		{Symbol: "USDC", Decimals: 6, LTVBps: 8500, Collateral: true, Active: true, OracleSymbol: "USDC"},
		{Symbol: "BTC", Decimals: 8, LTVBps: 7500, Collateral: true, Active: true, OracleSymbol: "BTC"},
		{Symbol: "ETH", Decimals: 18, LTVBps: 7500, Collateral: true, Active: true, OracleSymbol: "ETH"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func freshCache(symbol string, price uint64) *oracle.Cache {
	c := oracle.NewCache()
	c.Update(symbol, oracle.PriceData{
		Price:     uint256.NewInt(price),
		Timestamp: fixedNow,
	}, 1)
	return c
}

func TestUSDValue_SixDecimalAsset(t *testing.T) {
	// 1.0 USDC (1_000_000 native units) at price 1.0 (1e8) must value to
	// exactly 1e18 after normalization.
	reg := testRegistry(t)
	cache := freshCache("USDC", 100_000_000)
	v := pricing.NewValuation(reg, cache, nil, pricing.PolicyStrict, time.Hour, now)

	got, err := v.USDValue(context.Background(), "USDC", uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("USDValue: %v", err)
	}
	if !got.Eq(fpmath.Wad) {
		t.Errorf("got %s, want 1e18", got)
	}
}

func TestUSDValue_EighteenDecimalAsset(t *testing.T) {
	// 2.0 ETH at price $2000
	reg := testRegistry(t)
	cache := freshCache("ETH", 2000*100_000_000)
	v := pricing.NewValuation(reg, cache, nil, pricing.PolicyStrict, time.Hour, now)

	amount := new(uint256.Int).Mul(uint256.NewInt(2), fpmath.Wad)
	got, err := v.USDValue(context.Background(), "ETH", amount)
	if err != nil {
		t.Fatalf("USDValue: %v", err)
	}

	want := new(uint256.Int).Mul(uint256.NewInt(4000), fpmath.Wad)
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPrice_StaleQuoteRejectedStrict(t *testing.T) {
	reg := testRegistry(t)
	cache := oracle.NewCache()
	cache.Update("BTC", oracle.PriceData{
		Price:     uint256.NewInt(50_000 * 100_000_000),
		Timestamp: fixedNow.Add(-2 * time.Hour),
	}, 1)
	v := pricing.NewValuation(reg, cache, nil, pricing.PolicyStrict, time.Hour, now)

	_, err := v.Price(context.Background(), "BTC")
	if !errors.Is(err, pricing.ErrPriceStale) {
		t.Errorf("want ErrPriceStale, got %v", err)
	}
}

func TestPrice_MissingQuoteStrict(t *testing.T) {
	reg := testRegistry(t)
	v := pricing.NewValuation(reg, oracle.NewCache(), nil, pricing.PolicyStrict, time.Hour, now)

	_, err := v.Price(context.Background(), "BTC")
	if !errors.Is(err, pricing.ErrPriceUnavailable) {
		t.Errorf("want ErrPriceUnavailable, got %v", err)
	}
}

func TestPrice_FallbackOnStale(t *testing.T) {
	reg := testRegistry(t)
	cache := oracle.NewCache()
	cache.Update("BTC", oracle.PriceData{
		Price:     uint256.NewInt(50_000 * 100_000_000),
		Timestamp: fixedNow.Add(-2 * time.Hour),
	}, 1)
	table := oracle.NewFixedTable(map[string]*uint256.Int{
		"BTC": uint256.NewInt(48_000 * 100_000_000),
	}, now)
	v := pricing.NewValuation(reg, cache, table, pricing.PolicyFallback, time.Hour, now)

	got, err := v.Price(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got.Uint64() != 48_000*100_000_000 {
		t.Errorf("got %d, want fallback price", got.Uint64())
	}
}

func TestPrice_FallbackMissBubblesOriginalError(t *testing.T) {
	reg := testRegistry(t)
	table := oracle.NewFixedTable(map[string]*uint256.Int{}, now)
	v := pricing.NewValuation(reg, oracle.NewCache(), table, pricing.PolicyFallback, time.Hour, now)

	_, err := v.Price(context.Background(), "BTC")
	if !errors.Is(err, pricing.ErrPriceUnavailable) {
		t.Errorf("want ErrPriceUnavailable, got %v", err)
	}
}

func TestPrice_MetricsCountRejectsAndFallbacks(t *testing.T) {
	reg := testRegistry(t)
	m := observability.NewMetricsOn(prometheus.NewRegistry())

	table := oracle.NewFixedTable(map[string]*uint256.Int{
		"BTC": uint256.NewInt(48_000 * 100_000_000),
	}, now)
	v := pricing.NewValuation(reg, oracle.NewCache(), table, pricing.PolicyFallback, time.Hour, now).WithMetrics(m)

	if _, err := v.Price(context.Background(), "BTC"); err != nil {
		t.Fatalf("fallback price: %v", err)
	}
	if got := testutil.ToFloat64(m.PriceFallbacks.WithLabelValues("BTC")); got != 1 {
		t.Errorf("fallback counter %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PriceStaleRejects.WithLabelValues("BTC")); got != 0 {
		t.Errorf("reject counter %v, want 0 when the fallback serves", got)
	}

	strict := pricing.NewValuation(reg, oracle.NewCache(), nil, pricing.PolicyStrict, time.Hour, now).WithMetrics(m)
	if _, err := strict.Price(context.Background(), "ETH"); err == nil {
		t.Fatal("expected a missing-quote error")
	}
	if got := testutil.ToFloat64(m.PriceStaleRejects.WithLabelValues("ETH")); got != 1 {
		t.Errorf("reject counter %v, want 1", got)
	}
}

func TestAmountFromUSD_RoundTrip(t *testing.T) {
	reg := testRegistry(t)
	cache := freshCache("BTC", 50_000*100_000_000)
	v := pricing.NewValuation(reg, cache, nil, pricing.PolicyStrict, time.Hour, now)

	// 0.5 BTC = 50_000_000 native units
	amount := uint256.NewInt(50_000_000)
	usd, err := v.USDValue(context.Background(), "BTC", amount)
	if err != nil {
		t.Fatalf("USDValue: %v", err)
	}

	back, err := v.AmountFromUSD(context.Background(), "BTC", usd)
	if err != nil {
		t.Fatalf("AmountFromUSD: %v", err)
	}
	if !back.Eq(amount) {
		t.Errorf("round trip: got %s, want %s", back, amount)
	}
}

func TestCache_StaleSequenceIgnored(t *testing.T) {
	c := oracle.NewCache()
	c.Update("XLM", oracle.PriceData{Price: uint256.NewInt(100), Timestamp: fixedNow}, 5)
	c.Update("XLM", oracle.PriceData{Price: uint256.NewInt(200), Timestamp: fixedNow}, 4)

	data, err := c.GetPrice(context.Background(), "XLM")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if data.Price.Uint64() != 100 {
		t.Errorf("stale sequence overwrote quote: got %d", data.Price.Uint64())
	}
}
