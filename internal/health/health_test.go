package health_test

import (
	"context"
	"testing"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/oracle"
	"DefiHub/internal/pricing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testConfigs() []asset.Config {
	return []asset.Config{
		{Symbol: "USDC", Decimals: 6, LTVBps: 8000, Collateral: true, Active: true, OracleSymbol: "USDC"},
		{Symbol: "XLM", Decimals: 7, LTVBps: 7000, Collateral: true, Active: true, OracleSymbol: "XLM"},
		{Symbol: "GOV", Decimals: 7, LTVBps: 0, Collateral: false, Active: true, OracleSymbol: "GOV"},
	}
}

func testEngine(t *testing.T, prices map[string]*uint256.Int) *health.Engine {
	t.Helper()
	registry, err := asset.NewRegistry(testConfigs())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	primary := oracle.NewFixedTable(prices, fixedNow)
	val := pricing.NewValuation(registry, primary, nil, pricing.PolicyStrict, time.Hour, fixedNow)
	return health.NewEngine(registry, val, health.DefaultConfig(), zerolog.Nop())
}

// usdc returns n whole USDC in native 6-decimal units.
func usdc(n uint64) *uint256.Int { return uint256.NewInt(n * 1_000_000) }

func TestFactor_ZeroDebtIsMaximallyHealthy(t *testing.T) {
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000), // $1.00
	})

	pos := ledger.NewPosition(testNow)
	pos.Supplied["USDC"] = usdc(1000)

	hf, err := e.Factor(context.Background(), pos, nil)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if !hf.Eq(fpmath.MaxHealthFactor) {
		t.Errorf("zero-debt hf = %s, want sentinel", hf)
	}
}

func TestFactor_WeightedCollateralOverDebt(t *testing.T) {
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
		"XLM":  uint256.NewInt(10_000_000), // $0.10
	})

	// $1000 supplied at 80% LTV against $700 of debt: 800/700 in 1e6 scale.
	pos := ledger.NewPosition(testNow)
	pos.Supplied["USDC"] = usdc(1000)
	pos.Borrowed["XLM"] = uint256.NewInt(7000 * 10_000_000) // 7000 XLM at $0.10

	hf, err := e.Factor(context.Background(), pos, nil)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if got := hf.Uint64(); got != 1_142_857 {
		t.Errorf("hf = %d, want 1142857", got)
	}
}

func TestFactor_ProjectedBorrow(t *testing.T) {
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
		"XLM":  uint256.NewInt(10_000_000),
	})

	pos := ledger.NewPosition(testNow)
	pos.Supplied["USDC"] = usdc(1000)

	// Projecting $400 of new debt against $800 weighted collateral.
	extra := &health.BorrowDelta{Asset: "XLM", Amount: uint256.NewInt(4000 * 10_000_000)}
	hf, err := e.Factor(context.Background(), pos, extra)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if got := hf.Uint64(); got != 2_000_000 {
		t.Errorf("projected hf = %d, want 2000000", got)
	}

	// The projection must not have touched the position.
	if len(pos.Borrowed) != 0 {
		t.Error("projected borrow leaked into the position")
	}
}

func TestFactor_NonCollateralAssetExcluded(t *testing.T) {
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
		"GOV":  uint256.NewInt(500_000_000),
		"XLM":  uint256.NewInt(10_000_000),
	})

	pos := ledger.NewPosition(testNow)
	pos.Supplied["GOV"] = uint256.NewInt(1000 * 10_000_000)
	pos.Borrowed["XLM"] = uint256.NewInt(100 * 10_000_000)

	hf, err := e.Factor(context.Background(), pos, nil)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if !hf.IsZero() {
		t.Errorf("non-collateral supply should contribute nothing, hf = %s", hf)
	}
}

func TestFactor_UnpricedCollateralSkippedNotZeroed(t *testing.T) {
	// XLM has no quote: its supplied balance is excluded, leaving USDC
	// collateral intact rather than the whole computation failing.
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
	})

	pos := ledger.NewPosition(testNow)
	pos.Supplied["USDC"] = usdc(1000)
	pos.Supplied["XLM"] = uint256.NewInt(9999 * 10_000_000)
	pos.Borrowed["USDC"] = usdc(700)

	hf, err := e.Factor(context.Background(), pos, nil)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if got := hf.Uint64(); got != 1_142_857 {
		t.Errorf("hf = %d, want 1142857 (XLM excluded)", got)
	}
}

func TestFactor_UnpricedDebtSkipped(t *testing.T) {
	e := testEngine(t, map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000),
	})

	pos := ledger.NewPosition(testNow)
	pos.Supplied["USDC"] = usdc(1000)
	pos.Borrowed["XLM"] = uint256.NewInt(1 * 10_000_000)

	hf, err := e.Factor(context.Background(), pos, nil)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	// Only the unpriced XLM debt exists, so the debt side is empty.
	if !hf.Eq(fpmath.MaxHealthFactor) {
		t.Errorf("hf = %s, want sentinel when all debt is unpriced", hf)
	}
}

func TestClassify(t *testing.T) {
	e := testEngine(t, nil)

	tests := []struct {
		name string
		hf   *uint256.Int
		want health.Status
	}{
		{"well above warning", uint256.NewInt(2_000_000), health.StatusHealthy},
		{"at warning bound", uint256.NewInt(1_500_000), health.StatusHealthy},
		{"below warning", uint256.NewInt(1_400_000), health.StatusWarning},
		{"at critical bound", uint256.NewInt(1_200_000), health.StatusWarning},
		{"below critical", uint256.NewInt(1_100_000), health.StatusCritical},
		{"exactly one", uint256.NewInt(1_000_000), health.StatusCritical},
		{"below one", uint256.NewInt(999_999), health.StatusLiquidatable},
		{"sentinel", new(uint256.Int).Set(fpmath.MaxHealthFactor), health.StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Classify(tt.hf); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.hf, got, tt.want)
			}
		})
	}
}

func TestLiquidatable_ThresholdExclusive(t *testing.T) {
	if health.Liquidatable(uint256.NewInt(1_000_000)) {
		t.Error("hf exactly 1.0 must not be liquidatable")
	}
	if !health.Liquidatable(uint256.NewInt(999_999)) {
		t.Error("hf below 1.0 must be liquidatable")
	}
}
