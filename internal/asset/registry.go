package asset

import (
	"fmt"
	"sort"
	"sync"
)

// Config describes a supported asset. Immutable except via admin update
// through the Registry.
type Config struct {
	Symbol       string // Display symbol, also the registry key
	Contract     string // Token contract address
	Decimals     uint32 // Native decimal precision
	LTVBps       uint32 // Loan-to-value ratio in basis points (0-10000)
	LiqBonusBps  uint32 // Liquidation bonus in basis points
	Collateral   bool   // Collateral eligibility
	Active       bool
	OracleSymbol string // Symbol used by the price oracle
}

// DefaultConfigs is the bootstrap asset set.
var DefaultConfigs = []Config{
	{Symbol: "USDC", Contract: "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQAHHAGCM6GN", Decimals: 6, LTVBps: 8500, LiqBonusBps: 500, Collateral: true, Active: true, OracleSymbol: "USDC"},
	{Symbol: "USDT", Contract: "CBIELTK6YBZJU5UP2WWQEUCYKLPU6AUNZ2BQ4WWFEIE3USCIHMXQDAMA", Decimals: 6, LTVBps: 8500, LiqBonusBps: 500, Collateral: true, Active: true, OracleSymbol: "USDT"},
	{Symbol: "XLM", Contract: "CA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJUIGZ", Decimals: 7, LTVBps: 7000, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "XLM"},
	{Symbol: "BTC", Contract: "CB64D3G7SM2RTH6JSGG34DDTFTQ5CFDKVDZJZSODMZZ4SNSHNP4OJ73J", Decimals: 8, LTVBps: 7500, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "BTC"},
	{Symbol: "ETH", Contract: "CAJGCM4LVWAFDJSJQ6Q6XCQRMCAAFVZLWXGZ7NUFRBULQ3OHQMGQXHXW", Decimals: 18, LTVBps: 7500, LiqBonusBps: 750, Collateral: true, Active: true, OracleSymbol: "ETH"},
	{Symbol: "LINK", Contract: "CAXPLP4OJFG5CT6SWJVHFGFBFNYP4CQYBZRQLXBX4QJSKKIWW7TLOYMD", Decimals: 18, LTVBps: 6500, LiqBonusBps: 1000, Collateral: true, Active: true, OracleSymbol: "LINK"},
	{Symbol: "AAVE", Contract: "CDYRQKK6FQWYZJ2RNQR7DXKFQP6Q6XJZV4K2MOXHDRFMCFLTJJBCMCDS", Decimals: 18, LTVBps: 6500, LiqBonusBps: 1000, Collateral: true, Active: true, OracleSymbol: "AAVE"},
	{Symbol: "UNI", Contract: "CBAFSGCEKDVLCUDNMVK3T3YDQZ7WQBVTQZOXZ3KPKRFBGQN3VU77AMJA", Decimals: 18, LTVBps: 6000, LiqBonusBps: 1000, Collateral: true, Active: true, OracleSymbol: "UNI"},
}

// Registry is the in-memory asset configuration store. Lookups fail for
// unknown or inactive assets.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Config
}

func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{assets: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if err := ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("bootstrap asset %s: %w", cfg.Symbol, err)
		}
		r.assets[cfg.Symbol] = cfg
	}
	return r, nil
}

// ValidateConfig checks an asset config is well-formed.
func ValidateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if cfg.LTVBps > 10_000 {
		return fmt.Errorf("ltv_bps must be <= 10000, got %d", cfg.LTVBps)
	}
	if cfg.Decimals > 30 {
		return fmt.Errorf("decimals must be <= 30, got %d", cfg.Decimals)
	}
	if cfg.Collateral && cfg.LTVBps == 0 {
		return fmt.Errorf("collateral asset must have nonzero ltv_bps")
	}
	return nil
}

// Get returns the config for an active asset.
func (r *Registry) Get(symbol string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.assets[symbol]
	if !ok || !cfg.Active {
		return Config{}, false
	}
	return cfg, true
}

// Add registers a new asset or reactivates a removed one.
func (r *Registry) Add(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[cfg.Symbol] = cfg
	return nil
}

// Remove deactivates an asset. The entry is retained so existing positions
// referencing it can still be inspected.
func (r *Registry) Remove(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.assets[symbol]
	if !ok {
		return fmt.Errorf("unknown asset: %s", symbol)
	}
	cfg.Active = false
	r.assets[symbol] = cfg
	return nil
}

// List returns all active asset configs sorted by symbol.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Config, 0, len(r.assets))
	for _, cfg := range r.assets {
		if cfg.Active {
			result = append(result, cfg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}
