package fpmath

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

// Fixed-point scales used across the engine.
const (
	// WadDecimals is the internal value scale all amounts are normalized to
	// before valuation.
	WadDecimals = 18

	// PriceDecimals is the oracle price scale (DIA standard, 8 decimals).
	PriceDecimals = 8

	// HealthDecimals is the health-factor scale: 1_000_000 == 1.0.
	HealthDecimals = 6

	// BpsDenom is the basis-point denominator (10000 = 100%).
	BpsDenom = 10_000

	SecondsPerDay = 86_400
)

var (
	// Wad is 10^18, the internal value scale.
	Wad = uint256.NewInt(1_000_000_000_000_000_000)

	// PriceOne is 10^8, one unit in oracle price scale.
	PriceOne = uint256.NewInt(100_000_000)

	// HealthOne is 10^6, a health factor of exactly 1.0.
	HealthOne = uint256.NewInt(1_000_000)

	// MaxHealthFactor is the "maximally healthy" sentinel returned for
	// zero-debt positions instead of dividing by zero.
	MaxHealthFactor = uint256.NewInt(0).SetAllOne()
)

// bigPool recycles big.Int intermediates for widened multiply-divide.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Pow10 returns 10^n as a uint256.
func Pow10(n uint32) *uint256.Int {
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint32(0); i < n; i++ {
		result.Mul(result, ten)
	}
	return result
}

// MulDiv computes a * b / denom with the multiplication widened to arbitrary
// precision before the division, so the intermediate product can never
// overflow. The quotient truncates toward zero. Returns an error if denom is
// zero or the quotient does not fit in 256 bits.
func MulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, fmt.Errorf("muldiv: division by zero")
	}

	prod := getBig()
	prod.Mul(a.ToBig(), b.ToBig())
	prod.Div(prod, denom.ToBig())

	result, overflow := uint256.FromBig(prod)
	putBig(prod)

	if overflow {
		return nil, fmt.Errorf("muldiv: quotient exceeds 256 bits")
	}
	return result, nil
}

// ScaleDecimals rescales amount from one decimal precision to another.
// Scaling up multiplies by a power of ten; scaling down truncates.
func ScaleDecimals(amount *uint256.Int, from, to uint32) (*uint256.Int, error) {
	if from == to {
		return new(uint256.Int).Set(amount), nil
	}

	if from < to {
		factor := Pow10(to - from)
		result, overflow := new(uint256.Int).MulOverflow(amount, factor)
		if overflow {
			return nil, fmt.Errorf("scale %d->%d: amount overflows 256 bits", from, to)
		}
		return result, nil
	}

	return new(uint256.Int).Div(amount, Pow10(from-to)), nil
}

// ApplyBps returns value * bps / 10000.
func ApplyBps(value *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDiv(value, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsDenom))
}

// AddBps returns value * (10000 + bps) / 10000, i.e. value inflated by a
// basis-point premium (liquidation bonus, protection fee).
func AddBps(value *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDiv(value, uint256.NewInt(uint64(BpsDenom+bps)), uint256.NewInt(BpsDenom))
}

// SaturatingSub returns a - b, clamped at zero.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(a, b)
}
