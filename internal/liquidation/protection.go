package liquidation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"DefiHub/internal/exchange"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/lendingpool"
	"DefiHub/internal/pricing"
	"DefiHub/internal/reward"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrProtectionFailed is returned when auto-protection cannot execute:
	// the fee-inflated collateral requirement exceeds what the account
	// holds, or no usable debt/collateral pair exists. Protection is
	// all-or-nothing per trigger; it never partially repays.
	ErrProtectionFailed = errors.New("liquidation protection failed")

	// ErrTriggerBelowThreshold rejects protection triggers under 1.0,
	// which would fire only after the position is already liquidatable.
	ErrTriggerBelowThreshold = errors.New("protection trigger below liquidation threshold")
)

// ProtectionConfig sets the deployment-wide auto-protection policy.
type ProtectionConfig struct {
	// Trigger is the health factor (1e6 scale) at or below which
	// protection fires. Must be >= 1.0.
	Trigger *uint256.Int

	// MaxRepayBps caps the repaid fraction of the chosen debt.
	MaxRepayBps uint32

	// FeeBps inflates the collateral spent, with the surplus swap output
	// going to the protocol fee pool.
	FeeBps uint32
}

func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		Trigger:     uint256.NewInt(1_100_000),
		MaxRepayBps: 5_000,
		FeeBps:      100,
	}
}

// Protection deleverages positions that drift toward liquidation: it swaps
// a slice of collateral into the largest debt asset and repays, keeping the
// account above water without a third-party liquidator.
type Protection struct {
	mu        sync.RWMutex
	cfg       ProtectionConfig
	overrides map[ledger.Account]*uint256.Int

	valuation *pricing.Valuation
	ledger    *ledger.PositionLedger
	health    *health.Engine
	pool      lendingpool.Pool
	venue     exchange.Exchange
	fees      *reward.FeePool
	log       zerolog.Logger
}

func NewProtection(
	cfg ProtectionConfig,
	valuation *pricing.Valuation,
	l *ledger.PositionLedger,
	h *health.Engine,
	pool lendingpool.Pool,
	venue exchange.Exchange,
	fees *reward.FeePool,
	log zerolog.Logger,
) (*Protection, error) {
	if cfg.Trigger == nil || cfg.Trigger.Lt(fpmath.HealthOne) {
		return nil, fmt.Errorf("%w: %s", ErrTriggerBelowThreshold, cfg.Trigger)
	}
	return &Protection{
		cfg:       cfg,
		overrides: make(map[ledger.Account]*uint256.Int),
		valuation: valuation,
		ledger:    l,
		health:    h,
		pool:      pool,
		venue:     venue,
		fees:      fees,
		log:       log.With().Str("component", "protection").Logger(),
	}, nil
}

// SetTrigger installs a per-account trigger override. A nil trigger
// removes the override, reverting to the deployment default.
func (p *Protection) SetTrigger(account ledger.Account, trigger *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if trigger == nil {
		delete(p.overrides, account)
		return nil
	}
	if trigger.Lt(fpmath.HealthOne) {
		return fmt.Errorf("%w: %s", ErrTriggerBelowThreshold, trigger)
	}
	p.overrides[account] = new(uint256.Int).Set(trigger)
	return nil
}

// TriggerFor returns the effective trigger for an account.
func (p *Protection) TriggerFor(account ledger.Account) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if t := p.overrides[account]; t != nil {
		return new(uint256.Int).Set(t)
	}
	return new(uint256.Int).Set(p.cfg.Trigger)
}

// ShouldProtect reports whether a health factor is at or below the
// account's trigger.
func (p *Protection) ShouldProtect(account ledger.Account, hf *uint256.Int) bool {
	trigger := p.TriggerFor(account)
	return hf.Lt(trigger) || hf.Eq(trigger)
}

// Protect deleverages the account: repay up to MaxRepayBps of the largest
// debt, funded by swapping the first-found other collateral. Returns the
// amount repaid. All-or-nothing: if the fee-inflated collateral requirement
// cannot be met, nothing is touched and ErrProtectionFailed is returned.
func (p *Protection) Protect(ctx context.Context, account ledger.Account) (*uint256.Int, error) {
	pos := p.ledger.Get(account)

	debtAsset, debt, err := p.largestDebt(ctx, pos)
	if err != nil {
		return nil, err
	}
	if debtAsset == "" {
		return nil, fmt.Errorf("%w: %s has no priced debt", ErrProtectionFailed, account)
	}

	collAsset := firstCollateral(pos, debtAsset)
	if collAsset == "" {
		return nil, fmt.Errorf("%w: %s has no collateral besides %s", ErrProtectionFailed, account, debtAsset)
	}

	repay, err := fpmath.ApplyBps(debt, p.cfg.MaxRepayBps)
	if err != nil {
		return nil, err
	}
	if repay.IsZero() {
		return nil, fmt.Errorf("%w: repay amount rounds to zero", ErrProtectionFailed)
	}

	spend, err := p.collateralToSpend(ctx, debtAsset, collAsset, repay)
	if err != nil {
		return nil, err
	}
	available := p.ledger.SuppliedBalance(account, collAsset)
	if available.Lt(spend) {
		return nil, fmt.Errorf("%w: need %s %s, %s available",
			ErrProtectionFailed, spend, collAsset, available)
	}

	out, err := p.venue.Swap(ctx, collAsset, debtAsset, spend, repay)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtectionFailed, err)
	}
	if err := p.pool.Repay(ctx, debtAsset, repay); err != nil {
		return nil, fmt.Errorf("%w: pool repay: %v", ErrProtectionFailed, err)
	}

	p.ledger.DebitSupplied(account, collAsset, spend)
	p.ledger.DebitBorrowed(account, debtAsset, repay)

	// Swap output beyond the repay is the protection fee.
	surplus := fpmath.SaturatingSub(out, repay)
	p.fees.Add(debtAsset, surplus)

	p.refreshHealth(ctx, account)

	p.log.Info().
		Str("account", string(account)).
		Str("debt_asset", debtAsset).
		Str("collateral_asset", collAsset).
		Str("repaid", repay.String()).
		Str("collateral_spent", spend.String()).
		Str("fee", surplus.String()).
		Msg("protection executed")
	return repay, nil
}

// largestDebt picks the debt entry with the highest USD value, breaking
// ties by symbol order. Unpriced debts are skipped.
func (p *Protection) largestDebt(ctx context.Context, pos *ledger.Position) (string, *uint256.Int, error) {
	symbols := make([]string, 0, len(pos.Borrowed))
	for symbol := range pos.Borrowed {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var (
		bestAsset string
		bestAmt   *uint256.Int
		bestUSD   = uint256.NewInt(0)
	)
	for _, symbol := range symbols {
		value, err := p.valuation.USDValue(ctx, symbol, pos.Borrowed[symbol])
		if err != nil {
			if pricing.IsUnavailable(err) {
				continue
			}
			return "", nil, err
		}
		if value.Gt(bestUSD) {
			bestAsset, bestAmt, bestUSD = symbol, pos.Borrowed[symbol], value
		}
	}
	return bestAsset, bestAmt, nil
}

// firstCollateral returns the first nonzero supplied asset other than the
// debt asset, in symbol order.
func firstCollateral(pos *ledger.Position, debtAsset string) string {
	symbols := make([]string, 0, len(pos.Supplied))
	for symbol := range pos.Supplied {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		if symbol == debtAsset || pos.Supplied[symbol].IsZero() {
			continue
		}
		return symbol
	}
	return ""
}

// collateralToSpend converts the repay amount into collateral units,
// inflated by the protection fee.
func (p *Protection) collateralToSpend(ctx context.Context, debtAsset, collAsset string, repay *uint256.Int) (*uint256.Int, error) {
	repayUSD, err := p.valuation.USDValue(ctx, debtAsset, repay)
	if err != nil {
		return nil, fmt.Errorf("%w: value %s: %v", ErrProtectionFailed, debtAsset, err)
	}
	spendUSD, err := fpmath.AddBps(repayUSD, p.cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	spend, err := p.valuation.AmountFromUSD(ctx, collAsset, spendUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: convert to %s: %v", ErrProtectionFailed, collAsset, err)
	}
	return spend, nil
}

func (p *Protection) refreshHealth(ctx context.Context, account ledger.Account) {
	pos := p.ledger.Get(account)
	hf, err := p.health.Factor(ctx, pos, nil)
	if err != nil {
		p.log.Warn().Err(err).Str("account", string(account)).Msg("health refresh failed after protection")
		return
	}
	p.ledger.SetHealthFactor(account, hf)
}
