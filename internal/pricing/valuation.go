package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/observability"
	"DefiHub/internal/oracle"

	"github.com/holiman/uint256"
)

var (
	// ErrPriceUnavailable is returned when no usable price exists for an
	// asset and no fallback is configured.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrPriceStale is returned when the oracle quote is older than the
	// configured staleness window.
	ErrPriceStale = errors.New("price stale")
)

// IsUnavailable reports whether err means no usable price exists right now,
// either because the oracle has no quote or the quote is too old.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrPriceUnavailable) || errors.Is(err, ErrPriceStale)
}

// Policy selects how oracle failures are handled per deployment.
type Policy int

const (
	// PolicyStrict propagates oracle failures; health computation excludes
	// the affected asset rather than zeroing it.
	PolicyStrict Policy = iota

	// PolicyFallback substitutes a configured fixed price table on oracle
	// failure or staleness.
	PolicyFallback
)

// Valuation converts raw token amounts into 18-decimal USD values using a
// pluggable price source with staleness and fallback handling.
type Valuation struct {
	registry *asset.Registry
	primary  oracle.PriceOracle
	fallback *oracle.FixedTable // nil under PolicyStrict
	policy   Policy
	maxAge   time.Duration
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewValuation(
	registry *asset.Registry,
	primary oracle.PriceOracle,
	fallback *oracle.FixedTable,
	policy Policy,
	maxAge time.Duration,
	now func() time.Time,
) *Valuation {
	if now == nil {
		now = time.Now
	}
	return &Valuation{
		registry: registry,
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		maxAge:   maxAge,
		now:      now,
	}
}

// WithMetrics attaches counters for rejected and fallback-served lookups.
// Lookups work unmetered without it.
func (v *Valuation) WithMetrics(m *observability.Metrics) *Valuation {
	v.metrics = m
	return v
}

// Price returns the current 8-decimal price for an asset symbol, applying
// the staleness window and the deployment's fallback policy.
func (v *Valuation) Price(ctx context.Context, symbol string) (*uint256.Int, error) {
	cfg, ok := v.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("price of %s: unknown asset", symbol)
	}

	data, err := v.primary.GetPrice(ctx, cfg.OracleSymbol)
	if err == nil {
		age := v.now().Sub(data.Timestamp)
		if age <= v.maxAge {
			return data.Price, nil
		}
		err = fmt.Errorf("%w: %s quote is %s old (max %s)", ErrPriceStale, symbol, age, v.maxAge)
	} else {
		err = fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	if v.policy == PolicyFallback && v.fallback != nil {
		if data, fbErr := v.fallback.GetPrice(ctx, cfg.OracleSymbol); fbErr == nil {
			if v.metrics != nil {
				v.metrics.PriceFallbacks.WithLabelValues(symbol).Inc()
			}
			return data.Price, nil
		}
	}

	if v.metrics != nil {
		v.metrics.PriceStaleRejects.WithLabelValues(symbol).Inc()
	}
	return nil, err
}

// USDValue converts a native-precision amount of an asset into the
// 18-decimal internal value scale at the current price.
func (v *Valuation) USDValue(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	cfg, ok := v.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("usd value of %s: unknown asset", symbol)
	}

	price, err := v.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}

	normalized, err := fpmath.ScaleDecimals(amount, cfg.Decimals, fpmath.WadDecimals)
	if err != nil {
		return nil, fmt.Errorf("usd value of %s: %w", symbol, err)
	}

	return fpmath.MulDiv(normalized, price, fpmath.PriceOne)
}

// AmountFromUSD converts an 18-decimal USD value back into an asset's
// native units at the current price. Used by liquidation to compute seize
// amounts.
func (v *Valuation) AmountFromUSD(ctx context.Context, symbol string, usdValue *uint256.Int) (*uint256.Int, error) {
	cfg, ok := v.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("amount from usd for %s: unknown asset", symbol)
	}

	price, err := v.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		return nil, fmt.Errorf("%w: %s price is zero", ErrPriceUnavailable, symbol)
	}

	normalized, err := fpmath.MulDiv(usdValue, fpmath.PriceOne, price)
	if err != nil {
		return nil, err
	}

	return fpmath.ScaleDecimals(normalized, fpmath.WadDecimals, cfg.Decimals)
}
