package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"DefiHub/internal/event"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/liquidation"

	"github.com/holiman/uint256"
)

// Supply deposits an asset into the pool and credits the account's supplied
// balance. Returns the pool receipt (bToken) identifier.
func (e *Engine) Supply(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (receipt string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("supply", start, err) }(e.now())

	if _, err = e.requireAsset(symbol); err != nil {
		return "", err
	}
	if err = positive(amount); err != nil {
		return "", err
	}
	status, serr := e.deps.Pool.Status(ctx, symbol)
	if serr != nil {
		return "", fmt.Errorf("supply %s: pool status: %w", symbol, serr)
	}
	if err = poolGate(status, false); err != nil {
		return "", err
	}

	if serr := e.deps.Pool.Supply(ctx, symbol, amount); serr != nil {
		err = fmt.Errorf("supply %s: %w", symbol, serr)
		return "", err
	}
	e.deps.Ledger.CreditSupplied(account, symbol, amount)
	e.refreshHealth(ctx, account)

	receipt = "b" + symbol
	e.emit(event.EventTypeSupplyExecuted, string(account), event.SupplyExecuted{
		Account: string(account),
		Asset:   symbol,
		Amount:  amount.String(),
		Receipt: receipt,
	})
	return receipt, nil
}

// Borrow draws debt against the account's collateral. The projected health
// factor including the new debt must be at or above MinBorrowHealth; hitting
// the boundary exactly still passes.
func (e *Engine) Borrow(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("borrow", start, err) }(e.now())

	if _, err = e.requireAsset(symbol); err != nil {
		return err
	}
	if err = positive(amount); err != nil {
		return err
	}
	status, serr := e.deps.Pool.Status(ctx, symbol)
	if serr != nil {
		return fmt.Errorf("borrow %s: pool status: %w", symbol, serr)
	}
	if err = poolGate(status, true); err != nil {
		return err
	}
	if _, perr := e.deps.Valuation.Price(ctx, symbol); perr != nil {
		err = e.mapPriceErr(perr)
		return err
	}

	pos := e.deps.Ledger.Get(account)
	projected, herr := e.deps.Health.Factor(ctx, pos, &health.BorrowDelta{Asset: symbol, Amount: amount})
	if herr != nil {
		err = e.mapPriceErr(herr)
		return err
	}
	if projected.Lt(e.cfg.MinBorrowHealth) {
		err = fmt.Errorf("%w: projected health %s below minimum %s",
			ErrUnhealthyPosition, projected, e.cfg.MinBorrowHealth)
		return err
	}

	if serr := e.deps.Pool.Borrow(ctx, symbol, amount); serr != nil {
		err = fmt.Errorf("%w: %v", ErrInsufficientBalance, serr)
		return err
	}
	e.deps.Ledger.CreditBorrowed(account, symbol, amount)
	hf := e.refreshHealth(ctx, account)

	e.emit(event.EventTypeBorrowExecuted, string(account), event.BorrowExecuted{
		Account:      string(account),
		Asset:        symbol,
		Amount:       amount.String(),
		HealthFactor: hf.String(),
	})
	e.maybeProtect(ctx, account, hf)
	return nil
}

// Repay settles debt. Repaying more than is owed settles the full debt and
// no more. Returns the amount actually repaid.
func (e *Engine) Repay(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (repaid *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("repay", start, err) }(e.now())

	if _, err = e.requireAsset(symbol); err != nil {
		return nil, err
	}
	if err = positive(amount); err != nil {
		return nil, err
	}

	debt := e.deps.Ledger.BorrowedBalance(account, symbol)
	settle := new(uint256.Int).Set(amount)
	if debt.Lt(settle) {
		settle.Set(debt)
	}
	if settle.IsZero() {
		err = fmt.Errorf("%w: no recorded %s debt", ErrInvalidAmount, symbol)
		return nil, err
	}

	if serr := e.deps.Pool.Repay(ctx, symbol, settle); serr != nil {
		err = fmt.Errorf("repay %s: %w", symbol, serr)
		return nil, err
	}
	repaid = e.deps.Ledger.DebitBorrowed(account, symbol, settle)
	e.refreshHealth(ctx, account)

	e.emit(event.EventTypeRepayExecuted, string(account), event.RepayExecuted{
		Account: string(account),
		Asset:   symbol,
		Amount:  repaid.String(),
	})
	return repaid, nil
}

// Withdraw removes supplied collateral. The post-withdraw position must not
// be liquidatable.
func (e *Engine) Withdraw(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("withdraw", start, err) }(e.now())

	if _, err = e.requireAsset(symbol); err != nil {
		return err
	}
	if err = positive(amount); err != nil {
		return err
	}
	balance := e.deps.Ledger.SuppliedBalance(account, symbol)
	if balance.Lt(amount) {
		err = fmt.Errorf("%w: withdraw %s %s, supplied %s", ErrInsufficientBalance, amount, symbol, balance)
		return err
	}

	// Project the withdrawal on a copy of the position.
	pos := e.deps.Ledger.Get(account)
	remaining := fpmath.SaturatingSub(pos.Supplied[symbol], amount)
	if remaining.IsZero() {
		delete(pos.Supplied, symbol)
	} else {
		pos.Supplied[symbol] = remaining
	}
	projected, herr := e.deps.Health.Factor(ctx, pos, nil)
	if herr != nil {
		err = e.mapPriceErr(herr)
		return err
	}
	if health.Liquidatable(projected) {
		err = fmt.Errorf("%w: withdrawal would drop health to %s", ErrUnhealthyPosition, projected)
		return err
	}

	if serr := e.deps.Pool.WithdrawCollateral(ctx, symbol, amount); serr != nil {
		err = fmt.Errorf("%w: %v", ErrInsufficientBalance, serr)
		return err
	}
	e.deps.Ledger.DebitSupplied(account, symbol, amount)
	hf := e.refreshHealth(ctx, account)

	e.emit(event.EventTypeWithdrawExecuted, string(account), event.WithdrawExecuted{
		Account:      string(account),
		Asset:        symbol,
		Amount:       amount.String(),
		HealthFactor: hf.String(),
	})
	return nil
}

// Swap trades one supplied asset for another through the venue, charging
// the protocol fee off the input. The deadline is a hard precondition
// compared against current time, not a scheduling control.
func (e *Engine) Swap(ctx context.Context, account ledger.Account, assetIn, assetOut string, amountIn, minAmountOut *uint256.Int, deadline time.Time) (amountOut *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("swap", start, err) }(e.now())

	if !deadline.IsZero() && e.now().After(deadline) {
		err = fmt.Errorf("%w: deadline %s", ErrDeadlineExceeded, deadline.Format(time.RFC3339))
		return nil, err
	}
	if _, err = e.requireAsset(assetIn); err != nil {
		return nil, err
	}
	if _, err = e.requireAsset(assetOut); err != nil {
		return nil, err
	}
	if err = positive(amountIn); err != nil {
		return nil, err
	}
	balance := e.deps.Ledger.SuppliedBalance(account, assetIn)
	if balance.Lt(amountIn) {
		err = fmt.Errorf("%w: swap %s %s, supplied %s", ErrInsufficientBalance, amountIn, assetIn, balance)
		return nil, err
	}

	fee, ferr := fpmath.ApplyBps(amountIn, e.cfg.SwapFeeBps)
	if ferr != nil {
		return nil, ferr
	}
	swapIn := fpmath.SaturatingSub(amountIn, fee)

	amountOut, serr := e.deps.Venue.Swap(ctx, assetIn, assetOut, swapIn, minAmountOut)
	if serr != nil {
		err = fmt.Errorf("%w: %v", ErrSwapFailed, serr)
		return nil, err
	}

	e.deps.Ledger.DebitSupplied(account, assetIn, amountIn)
	e.deps.Ledger.CreditSupplied(account, assetOut, amountOut)
	e.deps.Fees.Add(assetIn, fee)
	hf := e.refreshHealth(ctx, account)

	if e.deps.Metrics != nil {
		e.deps.Metrics.SwapVolume.WithLabelValues(assetIn, assetOut).Add(toFloat(amountIn))
		e.deps.Metrics.SwapFees.WithLabelValues(assetIn).Add(toFloat(fee))
	}
	e.emit(event.EventTypeSwapExecuted, string(account), event.SwapExecuted{
		Account:   string(account),
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		AmountIn:  amountIn.String(),
		AmountOut: amountOut.String(),
		Fee:       fee.String(),
	})
	e.maybeProtect(ctx, account, hf)
	return amountOut, nil
}

// Stake locks tokens into the asset's staking pool, settling pending
// rewards first so the new stake never earns retroactively.
func (e *Engine) Stake(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("stake", start, err) }(e.now())

	if err = positive(amount); err != nil {
		return err
	}
	if err = e.deps.Accruer.Settle(account, symbol); err != nil {
		return fmt.Errorf("stake %s: settle: %w", symbol, err)
	}
	e.deps.Ledger.CreditStaked(account, symbol, amount)
	if err = e.deps.Accruer.Staked(account, symbol, amount); err != nil {
		return fmt.Errorf("stake %s: %w", symbol, err)
	}

	e.emit(event.EventTypeStaked, string(account), event.Staked{
		Account: string(account),
		Asset:   symbol,
		Amount:  amount.String(),
	})
	return nil
}

// Unstake releases staked tokens and auto-claims accrued rewards. Returns
// the rewards paid out.
func (e *Engine) Unstake(ctx context.Context, account ledger.Account, symbol string, amount *uint256.Int) (rewards *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("unstake", start, err) }(e.now())

	if err = positive(amount); err != nil {
		return nil, err
	}
	staked := e.deps.Ledger.StakedBalance(account, symbol)
	if staked.Lt(amount) {
		err = fmt.Errorf("%w: unstake %s %s, staked %s", ErrInsufficientBalance, amount, symbol, staked)
		return nil, err
	}

	if err = e.deps.Accruer.Settle(account, symbol); err != nil {
		return nil, fmt.Errorf("unstake %s: settle: %w", symbol, err)
	}
	e.deps.Ledger.DebitStaked(account, symbol, amount)
	if err = e.deps.Accruer.Unstaked(account, symbol, amount); err != nil {
		return nil, fmt.Errorf("unstake %s: %w", symbol, err)
	}

	rewards = e.payRewards(account)
	e.emit(event.EventTypeUnstaked, string(account), event.Unstaked{
		Account: string(account),
		Asset:   symbol,
		Amount:  amount.String(),
		Rewards: rewards.String(),
	})
	return rewards, nil
}

// ClaimRewards settles all staking positions and pays out accrued rewards,
// capped at the protocol fee pool's balance. The unclaimed remainder stays
// on the position.
func (e *Engine) ClaimRewards(ctx context.Context, account ledger.Account) (claimed *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("claim_rewards", start, err) }(e.now())

	pos := e.deps.Ledger.Get(account)
	symbols := make([]string, 0, len(pos.Staked))
	for symbol := range pos.Staked {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		if serr := e.deps.Accruer.Settle(account, symbol); serr != nil {
			err = fmt.Errorf("claim: settle %s: %w", symbol, serr)
			return nil, err
		}
	}

	claimed = e.payRewards(account)
	e.emit(event.EventTypeRewardsClaimed, string(account), event.RewardsClaimed{
		Account: string(account),
		Asset:   e.cfg.RewardAsset,
		Amount:  claimed.String(),
	})
	return claimed, nil
}

// payRewards pays what the fee pool can cover, leaving the rest accrued.
func (e *Engine) payRewards(account ledger.Account) *uint256.Int {
	available := e.deps.Fees.Available(e.cfg.RewardAsset)
	paid := e.deps.Ledger.TakeRewards(account, available)
	e.deps.Fees.Take(e.cfg.RewardAsset, paid)
	if e.deps.Metrics != nil && !paid.IsZero() {
		e.deps.Metrics.RewardsClaimed.WithLabelValues(e.cfg.RewardAsset).Add(toFloat(paid))
	}
	return paid
}

// Liquidate lets a third party repay an underwater borrower's debt for
// bonus-inflated collateral. Returns the collateral seized.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower ledger.Account, debtAsset, collateralAsset string, debtToCover *uint256.Int) (seized *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("liquidate", start, err) }(e.now())

	if _, err = e.requireAsset(debtAsset); err != nil {
		return nil, err
	}
	if _, err = e.requireAsset(collateralAsset); err != nil {
		return nil, err
	}
	if err = positive(debtToCover); err != nil {
		return nil, err
	}

	seized, lerr := e.deps.Liquidator.Liquidate(ctx, liquidator, borrower, debtAsset, collateralAsset, debtToCover)
	if lerr != nil {
		err = mapLiquidationErr(lerr)
		return nil, err
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.LiquidationsExecuted.Inc()
		e.deps.Metrics.CollateralSeized.WithLabelValues(collateralAsset).Add(toFloat(seized))
	}
	e.emit(event.EventTypeLiquidationExecuted, string(borrower), event.LiquidationExecuted{
		Liquidator:       string(liquidator),
		Borrower:         string(borrower),
		DebtAsset:        debtAsset,
		CollateralAsset:  collateralAsset,
		DebtCovered:      debtToCover.String(),
		CollateralSeized: seized.String(),
	})
	return seized, nil
}

// TriggerLiquidationProtection manually runs the auto-protection path for
// an account whose health is at or below its trigger.
func (e *Engine) TriggerLiquidationProtection(ctx context.Context, account ledger.Account) (repaid *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(start time.Time) { e.observe("trigger_protection", start, err) }(e.now())

	pos := e.deps.Ledger.Get(account)
	hf, herr := e.deps.Health.Factor(ctx, pos, nil)
	if herr != nil {
		err = e.mapPriceErr(herr)
		return nil, err
	}
	if !e.deps.Protection.ShouldProtect(account, hf) {
		err = fmt.Errorf("%w: health %s above protection trigger", ErrProtectionFailed, hf)
		return nil, err
	}

	repaid, perr := e.deps.Protection.Protect(ctx, account)
	if perr != nil {
		err = fmt.Errorf("%w: %v", ErrProtectionFailed, perr)
		return nil, err
	}
	e.emit(event.EventTypeProtectionExecuted, string(account), event.ProtectionExecuted{
		Account: string(account),
		Repaid:  repaid.String(),
	})
	return repaid, nil
}

func mapLiquidationErr(err error) error {
	switch {
	case errors.Is(err, liquidation.ErrNotLiquidatable):
		return fmt.Errorf("%w: %v", ErrNotLiquidatable, err)
	case errors.Is(err, liquidation.ErrInsufficientCollateral):
		return fmt.Errorf("%w: %v", ErrInsufficientCollateral, err)
	case errors.Is(err, liquidation.ErrCoverExceedsDebt):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	default:
		return err
	}
}

// toFloat renders an amount for metrics. Precision loss is fine here.
func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
