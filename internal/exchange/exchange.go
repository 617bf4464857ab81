package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DefiHub/internal/fpmath"
	"DefiHub/internal/pricing"

	"github.com/holiman/uint256"
)

var (
	// ErrSwapFailed is returned when the venue cannot deliver at least the
	// requested minimum output.
	ErrSwapFailed = errors.New("swap failed")

	// ErrNoRoute is returned when no rate is configured for the requested
	// directed pair.
	ErrNoRoute = errors.New("no route for pair")
)

// Exchange is the swap venue capability. Implementations convert amountIn
// of assetIn into assetOut and fail if the output would fall below minOut.
type Exchange interface {
	Swap(ctx context.Context, assetIn, assetOut string, amountIn, minOut *uint256.Int) (*uint256.Int, error)
}

type pairKey struct {
	in, out string
}

// FixedRate swaps against a configured table of directed rates. A rate is
// the output per unit of input in 1e18 scale, already adjusted for the two
// assets' native decimals. Directions are independent entries: setting
// USDC->XLM says nothing about XLM->USDC.
type FixedRate struct {
	mu      sync.RWMutex
	rates   map[pairKey]*uint256.Int
	updated map[pairKey]time.Time
	now     func() time.Time
}

func NewFixedRate(now func() time.Time) *FixedRate {
	if now == nil {
		now = time.Now
	}
	return &FixedRate{
		rates:   make(map[pairKey]*uint256.Int),
		updated: make(map[pairKey]time.Time),
		now:     now,
	}
}

// SetRate installs or replaces the rate for one direction of a pair.
func (x *FixedRate) SetRate(assetIn, assetOut string, rate *uint256.Int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := pairKey{in: assetIn, out: assetOut}
	x.rates[key] = new(uint256.Int).Set(rate)
	x.updated[key] = x.now()
}

// LastUpdated returns when the directed pair's rate was last set.
func (x *FixedRate) LastUpdated(assetIn, assetOut string) (time.Time, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.updated[pairKey{in: assetIn, out: assetOut}]
	return t, ok
}

func (x *FixedRate) Swap(_ context.Context, assetIn, assetOut string, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	x.mu.RLock()
	rate := x.rates[pairKey{in: assetIn, out: assetOut}]
	x.mu.RUnlock()

	if rate == nil {
		return nil, fmt.Errorf("%w: %s->%s", ErrNoRoute, assetIn, assetOut)
	}

	amountOut, err := fpmath.MulDiv(amountIn, rate, fpmath.Wad)
	if err != nil {
		return nil, fmt.Errorf("swap %s->%s: %w", assetIn, assetOut, err)
	}
	if minOut != nil && amountOut.Lt(minOut) {
		return nil, fmt.Errorf("%w: %s->%s output %s below minimum %s",
			ErrSwapFailed, assetIn, assetOut, amountOut, minOut)
	}
	return amountOut, nil
}

// OraclePriced swaps at the oracle mid price: the input is valued in USD
// and converted into the output asset at its current price. No spread or
// depth model, so minOut is the only slippage control.
type OraclePriced struct {
	valuation *pricing.Valuation
}

func NewOraclePriced(valuation *pricing.Valuation) *OraclePriced {
	return &OraclePriced{valuation: valuation}
}

func (x *OraclePriced) Swap(ctx context.Context, assetIn, assetOut string, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	usd, err := x.valuation.USDValue(ctx, assetIn, amountIn)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing %s: %v", ErrSwapFailed, assetIn, err)
	}
	amountOut, err := x.valuation.AmountFromUSD(ctx, assetOut, usd)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing %s: %v", ErrSwapFailed, assetOut, err)
	}
	if minOut != nil && amountOut.Lt(minOut) {
		return nil, fmt.Errorf("%w: %s->%s output %s below minimum %s",
			ErrSwapFailed, assetIn, assetOut, amountOut, minOut)
	}
	return amountOut, nil
}
