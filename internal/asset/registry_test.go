package asset_test

import (
	"testing"

	"DefiHub/internal/asset"
)

func testConfigs() []asset.Config {
	return []asset.Config{
		{Symbol: "USDC", Decimals: 6, LTVBps: 8500, LiqBonusBps: 500, Collateral: true, Active: true, OracleSymbol: "USDC"},
		{Symbol: "XLM", Decimals: 7, LTVBps: 7000, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "XLM"},
	}
}

func TestRegistry_GetKnown(t *testing.T) {
	r, err := asset.NewRegistry(testConfigs())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cfg, ok := r.Get("USDC")
	if !ok {
		t.Fatal("USDC should be known")
	}
	if cfg.Decimals != 6 || cfg.LTVBps != 8500 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r, _ := asset.NewRegistry(testConfigs())
	if _, ok := r.Get("DOGE"); ok {
		t.Error("DOGE should not be known")
	}
}

func TestRegistry_RemoveDeactivates(t *testing.T) {
	r, _ := asset.NewRegistry(testConfigs())

	if err := r.Remove("XLM"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("XLM"); ok {
		t.Error("removed asset should not resolve")
	}

	// Re-adding reactivates
	if err := r.Add(asset.Config{Symbol: "XLM", Decimals: 7, LTVBps: 7000, Collateral: true, Active: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := r.Get("XLM"); !ok {
		t.Error("re-added asset should resolve")
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r, _ := asset.NewRegistry(testConfigs())
	if err := r.Remove("DOGE"); err == nil {
		t.Error("expected error removing unknown asset")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     asset.Config
		wantErr bool
	}{
		{"valid", asset.Config{Symbol: "BTC", Decimals: 8, LTVBps: 7500, Collateral: true}, false},
		{"empty symbol", asset.Config{Decimals: 8, LTVBps: 7500}, true},
		{"ltv over 100%", asset.Config{Symbol: "BTC", Decimals: 8, LTVBps: 10_001}, true},
		{"collateral without ltv", asset.Config{Symbol: "BTC", Decimals: 8, LTVBps: 0, Collateral: true}, true},
		{"non-collateral zero ltv", asset.Config{Symbol: "BTC", Decimals: 8, LTVBps: 0, Collateral: false}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := asset.ValidateConfig(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r, _ := asset.NewRegistry(testConfigs())
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("got %d assets, want 2", len(list))
	}
	if list[0].Symbol != "USDC" || list[1].Symbol != "XLM" {
		t.Errorf("list not sorted by symbol: %v, %v", list[0].Symbol, list[1].Symbol)
	}
}
