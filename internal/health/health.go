package health

import (
	"context"
	"sort"

	"DefiHub/internal/asset"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/ledger"
	"DefiHub/internal/pricing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Status buckets a health factor for reporting and protection triggers.
type Status string

const (
	StatusHealthy      Status = "HEALTHY"
	StatusWarning      Status = "WARNING"
	StatusCritical     Status = "CRITICAL"
	StatusLiquidatable Status = "LIQUIDATABLE"
)

// BorrowDelta is a hypothetical additional debt used for projected health
// checks before a borrow is approved. Nothing is written to the ledger.
type BorrowDelta struct {
	Asset  string
	Amount *uint256.Int
}

// Config carries the classification bounds in 1e6 health scale. The
// liquidation threshold is fixed at 1.0; Warning and Critical are tunable
// per deployment.
type Config struct {
	WarningBound  *uint256.Int
	CriticalBound *uint256.Int
}

func DefaultConfig() Config {
	return Config{
		WarningBound:  uint256.NewInt(1_500_000),
		CriticalBound: uint256.NewInt(1_200_000),
	}
}

// Engine computes risk-adjusted health factors from ledger positions.
// Collateral is discounted by each asset's loan-to-value ratio; debt is
// taken at full value. All results are in 1e6 health scale where
// 1_000_000 means collateral exactly covers debt.
type Engine struct {
	registry  *asset.Registry
	valuation *pricing.Valuation
	cfg       Config
	log       zerolog.Logger
}

func NewEngine(registry *asset.Registry, valuation *pricing.Valuation, cfg Config, log zerolog.Logger) *Engine {
	if cfg.WarningBound == nil || cfg.CriticalBound == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		registry:  registry,
		valuation: valuation,
		cfg:       cfg,
		log:       log.With().Str("component", "health").Logger(),
	}
}

// Factor computes the health factor for a position, optionally including a
// projected extra borrow. Assets whose price is stale or unavailable are
// excluded from both sides rather than valued at zero, so a single dark
// oracle does not deflate collateral across the whole position. Zero debt
// yields the maximally-healthy sentinel.
func (e *Engine) Factor(ctx context.Context, pos *ledger.Position, extra *BorrowDelta) (*uint256.Int, error) {
	collateral := uint256.NewInt(0)
	for _, symbol := range sortedSymbols(pos.Supplied) {
		cfg, ok := e.registry.Get(symbol)
		if !ok || !cfg.Collateral {
			continue
		}
		value, err := e.valuation.USDValue(ctx, symbol, pos.Supplied[symbol])
		if err != nil {
			if pricing.IsUnavailable(err) {
				e.log.Debug().Str("asset", symbol).Msg("price unavailable, excluding from collateral")
				continue
			}
			return nil, err
		}
		weighted, err := fpmath.ApplyBps(value, cfg.LTVBps)
		if err != nil {
			return nil, err
		}
		collateral.Add(collateral, weighted)
	}

	debt := uint256.NewInt(0)
	for _, symbol := range sortedSymbols(pos.Borrowed) {
		value, err := e.valuation.USDValue(ctx, symbol, pos.Borrowed[symbol])
		if err != nil {
			if pricing.IsUnavailable(err) {
				e.log.Debug().Str("asset", symbol).Msg("price unavailable, excluding from debt")
				continue
			}
			return nil, err
		}
		debt.Add(debt, value)
	}

	if extra != nil && extra.Amount != nil && !extra.Amount.IsZero() {
		value, err := e.valuation.USDValue(ctx, extra.Asset, extra.Amount)
		if err != nil {
			return nil, err
		}
		debt.Add(debt, value)
	}

	if debt.IsZero() {
		return new(uint256.Int).Set(fpmath.MaxHealthFactor), nil
	}
	return fpmath.MulDiv(collateral, fpmath.HealthOne, debt)
}

// Classify maps a health factor onto a status bucket. Liquidatable applies
// strictly below 1.0; exactly 1.0 is Critical.
func (e *Engine) Classify(hf *uint256.Int) Status {
	switch {
	case hf.Lt(fpmath.HealthOne):
		return StatusLiquidatable
	case hf.Lt(e.cfg.CriticalBound):
		return StatusCritical
	case hf.Lt(e.cfg.WarningBound):
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Liquidatable reports whether a position with this health factor may be
// liquidated. The threshold is exclusive: exactly 1.0 is not liquidatable.
func Liquidatable(hf *uint256.Int) bool {
	return hf.Lt(fpmath.HealthOne)
}

func sortedSymbols(balances map[string]*uint256.Int) []string {
	symbols := make([]string, 0, len(balances))
	for symbol := range balances {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
