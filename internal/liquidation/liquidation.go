package liquidation

import (
	"context"
	"errors"
	"fmt"

	"DefiHub/internal/asset"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/lendingpool"
	"DefiHub/internal/pricing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrNotLiquidatable is returned when the borrower's health factor is
	// at or above the liquidation threshold.
	ErrNotLiquidatable = errors.New("position not liquidatable")

	// ErrInsufficientCollateral is returned when the borrower does not
	// hold enough of the named collateral to cover the seize amount.
	// Liquidation never caps silently.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrCoverExceedsDebt is returned when debtToCover is larger than the
	// borrower's recorded debt in the named asset.
	ErrCoverExceedsDebt = errors.New("debt to cover exceeds recorded debt")
)

// Liquidator executes manual liquidations: a third party repays part of an
// underwater borrower's debt and seizes collateral worth the repaid value
// plus the collateral asset's configured bonus.
type Liquidator struct {
	registry  *asset.Registry
	valuation *pricing.Valuation
	ledger    *ledger.PositionLedger
	health    *health.Engine
	pool      lendingpool.Pool
	log       zerolog.Logger
}

func NewLiquidator(
	registry *asset.Registry,
	valuation *pricing.Valuation,
	l *ledger.PositionLedger,
	h *health.Engine,
	pool lendingpool.Pool,
	log zerolog.Logger,
) *Liquidator {
	return &Liquidator{
		registry:  registry,
		valuation: valuation,
		ledger:    l,
		health:    h,
		pool:      pool,
		log:       log.With().Str("component", "liquidation").Logger(),
	}
}

// Liquidate repays debtToCover of the borrower's debt and seizes
// bonus-inflated collateral to the liquidator's position. The borrower must
// be strictly below 1.0 health; exactly 1.0 is not liquidatable. Returns
// the collateral amount seized.
func (q *Liquidator) Liquidate(
	ctx context.Context,
	liquidator, borrower ledger.Account,
	debtAsset, collateralAsset string,
	debtToCover *uint256.Int,
) (*uint256.Int, error) {
	pos := q.ledger.Get(borrower)
	hf, err := q.health.Factor(ctx, pos, nil)
	if err != nil {
		return nil, fmt.Errorf("liquidate %s: %w", borrower, err)
	}
	if !health.Liquidatable(hf) {
		return nil, fmt.Errorf("%w: %s health factor %s", ErrNotLiquidatable, borrower, hf)
	}

	debt := q.ledger.BorrowedBalance(borrower, debtAsset)
	if debt.IsZero() || debt.Lt(debtToCover) {
		return nil, fmt.Errorf("%w: cover %s, recorded %s %s", ErrCoverExceedsDebt, debtToCover, debt, debtAsset)
	}

	available := q.ledger.SuppliedBalance(borrower, collateralAsset)
	if available.IsZero() {
		return nil, fmt.Errorf("%w: %s holds no %s", ErrInsufficientCollateral, borrower, collateralAsset)
	}

	collCfg, ok := q.registry.Get(collateralAsset)
	if !ok {
		return nil, fmt.Errorf("liquidate: unknown collateral asset %s", collateralAsset)
	}

	seize, err := q.seizeAmount(ctx, debtAsset, collateralAsset, debtToCover, collCfg.LiqBonusBps)
	if err != nil {
		return nil, err
	}
	if available.Lt(seize) {
		return nil, fmt.Errorf("%w: need %s %s, borrower holds %s",
			ErrInsufficientCollateral, seize, collateralAsset, available)
	}

	if err := q.pool.Repay(ctx, debtAsset, debtToCover); err != nil {
		return nil, fmt.Errorf("liquidate: pool repay: %w", err)
	}
	q.ledger.DebitBorrowed(borrower, debtAsset, debtToCover)
	q.ledger.DebitSupplied(borrower, collateralAsset, seize)
	q.ledger.CreditSupplied(liquidator, collateralAsset, seize)

	q.refreshHealth(ctx, borrower)

	q.log.Info().
		Str("borrower", string(borrower)).
		Str("liquidator", string(liquidator)).
		Str("debt_asset", debtAsset).
		Str("collateral_asset", collateralAsset).
		Str("debt_covered", debtToCover.String()).
		Str("seized", seize.String()).
		Msg("liquidation executed")
	return seize, nil
}

// seizeAmount converts the covered debt into collateral units with the
// liquidation bonus applied.
func (q *Liquidator) seizeAmount(ctx context.Context, debtAsset, collateralAsset string, debtToCover *uint256.Int, bonusBps uint32) (*uint256.Int, error) {
	debtUSD, err := q.valuation.USDValue(ctx, debtAsset, debtToCover)
	if err != nil {
		return nil, fmt.Errorf("liquidate: value %s: %w", debtAsset, err)
	}
	seizeUSD, err := fpmath.AddBps(debtUSD, bonusBps)
	if err != nil {
		return nil, err
	}
	seize, err := q.valuation.AmountFromUSD(ctx, collateralAsset, seizeUSD)
	if err != nil {
		return nil, fmt.Errorf("liquidate: convert to %s: %w", collateralAsset, err)
	}
	return seize, nil
}

func (q *Liquidator) refreshHealth(ctx context.Context, account ledger.Account) {
	pos := q.ledger.Get(account)
	hf, err := q.health.Factor(ctx, pos, nil)
	if err != nil {
		q.log.Warn().Err(err).Str("account", string(account)).Msg("health refresh failed after liquidation")
		return
	}
	q.ledger.SetHealthFactor(account, hf)
}
