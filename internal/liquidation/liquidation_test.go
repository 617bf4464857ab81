package liquidation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/exchange"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/lendingpool"
	"DefiHub/internal/liquidation"
	"DefiHub/internal/oracle"
	"DefiHub/internal/pricing"
	"DefiHub/internal/reward"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type fixture struct {
	registry  *asset.Registry
	valuation *pricing.Valuation
	ledger    *ledger.PositionLedger
	health    *health.Engine
	pool      *lendingpool.Memory
	liq       *liquidation.Liquidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := asset.NewRegistry([]asset.Config{
		{Symbol: "USDC", Decimals: 6, LTVBps: 8000, LiqBonusBps: 500, Collateral: true, Active: true, OracleSymbol: "USDC"},
		{Symbol: "XLM", Decimals: 7, LTVBps: 7000, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "XLM"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	primary := oracle.NewFixedTable(map[string]*uint256.Int{
		"USDC": uint256.NewInt(100_000_000), // $1
		"XLM":  uint256.NewInt(10_000_000),  // $0.10
	}, fixedNow)
	valuation := pricing.NewValuation(registry, primary, nil, pricing.PolicyStrict, time.Hour, fixedNow)
	l := ledger.NewPositionLedger(fixedNow)
	h := health.NewEngine(registry, valuation, health.DefaultConfig(), zerolog.Nop())
	pool := lendingpool.NewMemory()
	return &fixture{
		registry:  registry,
		valuation: valuation,
		ledger:    l,
		health:    h,
		pool:      pool,
		liq:       liquidation.NewLiquidator(registry, valuation, l, h, pool, zerolog.Nop()),
	}
}

// usdc and xlm build native-unit amounts (6 and 7 decimals).
func usdc(n uint64) *uint256.Int { return uint256.NewInt(n * 1_000_000) }
func xlm(n uint64) *uint256.Int  { return uint256.NewInt(n * 10_000_000) }

func TestLiquidate_SeizesBonusInflatedCollateral(t *testing.T) {
	f := newFixture(t)
	// $800 weighted collateral against $900 debt: hf ~ 0.888.
	f.ledger.CreditSupplied("bob", "USDC", usdc(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(9000))

	seized, err := f.liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(4500))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// $450 covered + 5% USDC bonus = $472.50 of collateral.
	if got := seized.Uint64(); got != 472_500_000 {
		t.Errorf("seized %d, want 472500000", got)
	}
	if got := f.ledger.BorrowedBalance("bob", "XLM"); !got.Eq(xlm(4500)) {
		t.Errorf("remaining debt %s, want 4500 XLM", got)
	}
	if got := f.ledger.SuppliedBalance("bob", "USDC").Uint64(); got != 527_500_000 {
		t.Errorf("remaining collateral %d, want 527500000", got)
	}
	if got := f.ledger.SuppliedBalance("liq", "USDC"); !got.Eq(seized) {
		t.Errorf("liquidator credited %s, want %s", got, seized)
	}
}

func TestLiquidate_ExactlyOneNotLiquidatable(t *testing.T) {
	f := newFixture(t)
	// $800 weighted collateral against exactly $800 debt: hf == 1.0.
	f.ledger.CreditSupplied("bob", "USDC", usdc(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(8000))

	_, err := f.liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(100))
	if !errors.Is(err, liquidation.ErrNotLiquidatable) {
		t.Errorf("hf exactly 1.0: want ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidate_HealthyPositionRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.CreditSupplied("bob", "USDC", usdc(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(1000))

	_, err := f.liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(100))
	if !errors.Is(err, liquidation.ErrNotLiquidatable) {
		t.Errorf("want ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidate_CoverExceedsDebt(t *testing.T) {
	f := newFixture(t)
	f.ledger.CreditSupplied("bob", "USDC", usdc(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(9000))

	_, err := f.liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(9001))
	if !errors.Is(err, liquidation.ErrCoverExceedsDebt) {
		t.Errorf("want ErrCoverExceedsDebt, got %v", err)
	}
}

func TestLiquidate_InsufficientCollateralNoPartialSeize(t *testing.T) {
	f := newFixture(t)
	// Collateral far below the seize requirement.
	f.ledger.CreditSupplied("bob", "USDC", usdc(10))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(9000))

	_, err := f.liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(4500))
	if !errors.Is(err, liquidation.ErrInsufficientCollateral) {
		t.Fatalf("want ErrInsufficientCollateral, got %v", err)
	}

	// No partial effects on failure.
	if got := f.ledger.BorrowedBalance("bob", "XLM"); !got.Eq(xlm(9000)) {
		t.Errorf("debt mutated on failed liquidation: %s", got)
	}
	if got := f.ledger.SuppliedBalance("bob", "USDC"); !got.Eq(usdc(10)) {
		t.Errorf("collateral mutated on failed liquidation: %s", got)
	}
}

func TestLiquidate_SeizeGrowsWithBonus(t *testing.T) {
	seize := func(bonusBps uint32) uint64 {
		registry, err := asset.NewRegistry([]asset.Config{
			{Symbol: "USDC", Decimals: 6, LTVBps: 8000, LiqBonusBps: bonusBps, Collateral: true, Active: true, OracleSymbol: "USDC"},
			{Symbol: "XLM", Decimals: 7, LTVBps: 7000, Collateral: true, Active: true, OracleSymbol: "XLM"},
		})
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
		primary := oracle.NewFixedTable(map[string]*uint256.Int{
			"USDC": uint256.NewInt(100_000_000),
			"XLM":  uint256.NewInt(10_000_000),
		}, fixedNow)
		valuation := pricing.NewValuation(registry, primary, nil, pricing.PolicyStrict, time.Hour, fixedNow)
		l := ledger.NewPositionLedger(fixedNow)
		h := health.NewEngine(registry, valuation, health.DefaultConfig(), zerolog.Nop())
		liq := liquidation.NewLiquidator(registry, valuation, l, h, lendingpool.NewMemory(), zerolog.Nop())

		l.CreditSupplied("bob", "USDC", usdc(1000))
		l.CreditBorrowed("bob", "XLM", xlm(9000))
		seized, err := liq.Liquidate(context.Background(), "liq", "bob", "XLM", "USDC", xlm(1000))
		if err != nil {
			t.Fatalf("liquidate at bonus %d: %v", bonusBps, err)
		}
		return seized.Uint64()
	}

	if low, high := seize(100), seize(1000); low >= high {
		t.Errorf("seize should grow with bonus: %d (100bp) vs %d (1000bp)", low, high)
	}
}

func protectionFixture(t *testing.T, cfg liquidation.ProtectionConfig) (*fixture, *liquidation.Protection, *reward.FeePool) {
	t.Helper()
	f := newFixture(t)
	venue := exchange.NewFixedRate(fixedNow)
	// 1 USDC buys 10 XLM at par: 100 native out per native in.
	venue.SetRate("USDC", "XLM", new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(1_000_000_000_000_000_000)))
	fees := reward.NewFeePool()
	prot, err := liquidation.NewProtection(cfg, f.valuation, f.ledger, f.health, f.pool, venue, fees, zerolog.Nop())
	if err != nil {
		t.Fatalf("protection: %v", err)
	}
	return f, prot, fees
}

func TestProtect_RepaysLargestDebtFromFirstCollateral(t *testing.T) {
	f, prot, fees := protectionFixture(t, liquidation.ProtectionConfig{
		Trigger:     uint256.NewInt(1_100_000),
		MaxRepayBps: 5_000,
		FeeBps:      100,
	})
	f.ledger.CreditSupplied("bob", "USDC", usdc(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(9000))

	repaid, err := prot.Protect(context.Background(), "bob")
	if err != nil {
		t.Fatalf("protect: %v", err)
	}

	// Half the 9000 XLM debt repaid.
	if !repaid.Eq(xlm(4500)) {
		t.Errorf("repaid %s, want 4500 XLM", repaid)
	}
	if got := f.ledger.BorrowedBalance("bob", "XLM"); !got.Eq(xlm(4500)) {
		t.Errorf("remaining debt %s, want 4500 XLM", got)
	}
	// $450 repay value + 1% fee = $454.50 of USDC spent.
	if got := f.ledger.SuppliedBalance("bob", "USDC").Uint64(); got != 545_500_000 {
		t.Errorf("remaining collateral %d, want 545500000", got)
	}
	// Swap surplus over the repay lands in the fee pool: 45 XLM.
	if got := fees.Available("XLM").Uint64(); got != 450_000_000 {
		t.Errorf("fee pool %d, want 450000000", got)
	}
}

func TestProtect_AllOrNothing(t *testing.T) {
	f, prot, _ := protectionFixture(t, liquidation.DefaultProtectionConfig())
	f.ledger.CreditSupplied("bob", "USDC", usdc(100)) // far short of the requirement
	f.ledger.CreditBorrowed("bob", "XLM", xlm(9000))

	_, err := prot.Protect(context.Background(), "bob")
	if !errors.Is(err, liquidation.ErrProtectionFailed) {
		t.Fatalf("want ErrProtectionFailed, got %v", err)
	}

	if got := f.ledger.BorrowedBalance("bob", "XLM"); !got.Eq(xlm(9000)) {
		t.Errorf("debt mutated on failed protection: %s", got)
	}
	if got := f.ledger.SuppliedBalance("bob", "USDC"); !got.Eq(usdc(100)) {
		t.Errorf("collateral mutated on failed protection: %s", got)
	}
}

func TestProtect_NoAlternateCollateral(t *testing.T) {
	f, prot, _ := protectionFixture(t, liquidation.DefaultProtectionConfig())
	// Only collateral is the debt asset itself.
	f.ledger.CreditSupplied("bob", "XLM", xlm(1000))
	f.ledger.CreditBorrowed("bob", "XLM", xlm(900))

	_, err := prot.Protect(context.Background(), "bob")
	if !errors.Is(err, liquidation.ErrProtectionFailed) {
		t.Errorf("want ErrProtectionFailed, got %v", err)
	}
}

func TestProtection_TriggerValidation(t *testing.T) {
	_, prot, _ := protectionFixture(t, liquidation.DefaultProtectionConfig())

	if err := prot.SetTrigger("bob", uint256.NewInt(999_999)); !errors.Is(err, liquidation.ErrTriggerBelowThreshold) {
		t.Errorf("sub-1.0 trigger: want ErrTriggerBelowThreshold, got %v", err)
	}
	if err := prot.SetTrigger("bob", uint256.NewInt(1_300_000)); err != nil {
		t.Fatalf("valid override: %v", err)
	}
	if got := prot.TriggerFor("bob").Uint64(); got != 1_300_000 {
		t.Errorf("override trigger %d, want 1300000", got)
	}
	if got := prot.TriggerFor("alice").Uint64(); got != liquidation.DefaultProtectionConfig().Trigger.Uint64() {
		t.Errorf("default trigger %d", got)
	}
}

func TestProtection_ShouldProtectBoundary(t *testing.T) {
	_, prot, _ := protectionFixture(t, liquidation.ProtectionConfig{
		Trigger:     uint256.NewInt(1_100_000),
		MaxRepayBps: 5_000,
		FeeBps:      100,
	})

	if !prot.ShouldProtect("bob", uint256.NewInt(1_100_000)) {
		t.Error("hf equal to trigger should protect")
	}
	if !prot.ShouldProtect("bob", uint256.NewInt(1_000_000)) {
		t.Error("hf below trigger should protect")
	}
	if prot.ShouldProtect("bob", uint256.NewInt(1_100_001)) {
		t.Error("hf above trigger should not protect")
	}
}
