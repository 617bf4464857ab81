package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"DefiHub/internal/asset"
	"DefiHub/internal/event"
	"DefiHub/internal/exchange"
	"DefiHub/internal/fpmath"
	"DefiHub/internal/health"
	"DefiHub/internal/ledger"
	"DefiHub/internal/lendingpool"
	"DefiHub/internal/liquidation"
	"DefiHub/internal/observability"
	"DefiHub/internal/pricing"
	"DefiHub/internal/reward"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Sink receives emitted events as a side channel. Emission failures never
// affect the operation that produced the event.
type Sink interface {
	Emit(env *event.Envelope)
}

// Config carries the deployment policy: who administers the engine and the
// risk/fee parameters every operation enforces.
type Config struct {
	// Admin is the only account allowed to call admin operations.
	Admin ledger.Account

	// SwapFeeBps is the protocol fee taken off every swap input.
	SwapFeeBps uint32

	// MinBorrowHealth gates new borrows: the projected health factor must
	// be at or above it. 1e6 scale.
	MinBorrowHealth *uint256.Int

	// RewardAsset denominates reward payouts from the fee pool.
	RewardAsset string
}

func DefaultConfig(admin ledger.Account) Config {
	return Config{
		Admin:           admin,
		SwapFeeBps:      50,
		MinBorrowHealth: uint256.NewInt(1_200_000),
		RewardAsset:     "USDC",
	}
}

// Deps are the engine's collaborators. Pool, Venue and the oracle behind
// Valuation are external capabilities; everything else is owned state.
type Deps struct {
	Registry   *asset.Registry
	Valuation  *pricing.Valuation
	Ledger     *ledger.PositionLedger
	Health     *health.Engine
	Pool       lendingpool.Pool
	Venue      exchange.Exchange
	Accruer    reward.Accruer
	Fees       *reward.FeePool
	Liquidator *liquidation.Liquidator
	Protection *liquidation.Protection

	// Rates is the fixed-rate table behind Venue when the deployment uses
	// one; nil for oracle-priced deployments, where UpdateExchangeRate is
	// rejected.
	Rates *exchange.FixedRate

	Sink    Sink
	Metrics *observability.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

// Engine is the position and risk core. Every public method is one atomic
// transition: all preconditions are checked before any external effect, and
// a collaborator failure aborts with no ledger mutation. A single mutex
// serializes state-changing calls, mirroring a fully serialized execution
// model.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	deps     Deps
	sequence int64
	statuses map[ledger.Account]health.Status
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Admin == "" {
		return nil, fmt.Errorf("%w: no admin account", ErrNotInitialized)
	}
	if cfg.MinBorrowHealth == nil || cfg.MinBorrowHealth.Lt(fpmath.HealthOne) {
		return nil, fmt.Errorf("%w: min borrow health below 1.0", ErrNotInitialized)
	}
	if deps.Registry == nil || deps.Valuation == nil || deps.Ledger == nil ||
		deps.Health == nil || deps.Pool == nil || deps.Venue == nil ||
		deps.Accruer == nil || deps.Fees == nil ||
		deps.Liquidator == nil || deps.Protection == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrNotInitialized)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		statuses: make(map[ledger.Account]health.Status),
		log:      deps.Log.With().Str("component", "engine").Logger(),
		now:      now,
	}, nil
}

// --- queries ---

// GetPosition returns a copy of the account's position.
func (e *Engine) GetPosition(account ledger.Account) *ledger.Position {
	return e.deps.Ledger.Get(account)
}

// GetHealthStatus computes the current health factor and its status bucket.
func (e *Engine) GetHealthStatus(ctx context.Context, account ledger.Account) (*uint256.Int, health.Status, error) {
	pos := e.deps.Ledger.Get(account)
	hf, err := e.deps.Health.Factor(ctx, pos, nil)
	if err != nil {
		return nil, "", e.mapPriceErr(err)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.HealthChecks.Inc()
	}
	return hf, e.deps.Health.Classify(hf), nil
}

// GetAssetPrice returns the current 8-decimal price for a supported asset.
func (e *Engine) GetAssetPrice(ctx context.Context, symbol string) (*uint256.Int, error) {
	if _, ok := e.deps.Registry.Get(symbol); !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotSupported, symbol)
	}
	price, err := e.deps.Valuation.Price(ctx, symbol)
	if err != nil {
		return nil, e.mapPriceErr(err)
	}
	return price, nil
}

// GetStakingPool returns the staking pool snapshot for an asset.
func (e *Engine) GetStakingPool(asset string) reward.StakingPool {
	return e.deps.Accruer.Pool(asset)
}

// GetSupportedAssets lists active asset configs sorted by symbol.
func (e *Engine) GetSupportedAssets() []asset.Config {
	return e.deps.Registry.List()
}

// --- admin operations ---

func (e *Engine) AddAsset(ctx context.Context, admin ledger.Account, cfg asset.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if err := e.deps.Registry.Add(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	e.emit(event.EventTypeAssetAdded, "", event.AssetAdded{
		Symbol:   cfg.Symbol,
		Contract: cfg.Contract,
		LTVBps:   cfg.LTVBps,
	})
	e.log.Info().Str("asset", cfg.Symbol).Msg("asset added")
	return nil
}

func (e *Engine) RemoveAsset(ctx context.Context, admin ledger.Account, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if err := e.deps.Registry.Remove(symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrAssetNotSupported, err)
	}
	e.emit(event.EventTypeAssetRemoved, "", event.AssetRemoved{Symbol: symbol})
	e.log.Info().Str("asset", symbol).Msg("asset removed")
	return nil
}

// UpdateExchangeRate replaces one direction of a fixed-rate pair. Rejected
// on oracle-priced deployments, which have no rate table.
func (e *Engine) UpdateExchangeRate(ctx context.Context, admin ledger.Account, assetIn, assetOut string, rate *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if e.deps.Rates == nil {
		return fmt.Errorf("%w: deployment uses oracle-priced swaps", ErrSwapFailed)
	}
	if rate == nil || rate.IsZero() {
		return fmt.Errorf("%w: zero rate", ErrInvalidAmount)
	}
	e.deps.Rates.SetRate(assetIn, assetOut, rate)
	e.emit(event.EventTypeExchangeRateUpdated, "", event.ExchangeRateUpdated{
		AssetIn:  assetIn,
		AssetOut: assetOut,
		Rate:     rate.String(),
	})
	return nil
}

func (e *Engine) UpdateRewardRate(ctx context.Context, admin ledger.Account, asset string, rate *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if rate == nil {
		return fmt.Errorf("%w: nil rate", ErrInvalidAmount)
	}
	if err := e.deps.Accruer.SetRate(asset, rate); err != nil {
		return err
	}
	e.emit(event.EventTypeRewardRateUpdated, "", event.RewardRateUpdated{
		Asset: asset,
		Rate:  rate.String(),
	})
	return nil
}

// SetLiquidationProtection installs a per-account protection trigger.
func (e *Engine) SetLiquidationProtection(ctx context.Context, admin, account ledger.Account, trigger *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if err := e.deps.Protection.SetTrigger(account, trigger); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return nil
}

// EmergencyWithdraw pulls liquidity straight out of the pool, bypassing the
// per-account ledger. Admin only.
func (e *Engine) EmergencyWithdraw(ctx context.Context, admin ledger.Account, symbol string, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(admin); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if err := e.deps.Pool.WithdrawCollateral(ctx, symbol, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	e.emit(event.EventTypeEmergencyWithdraw, string(admin), event.EmergencyWithdraw{
		Admin:  string(admin),
		Asset:  symbol,
		Amount: amount.String(),
	})
	e.log.Warn().Str("asset", symbol).Str("amount", amount.String()).Msg("emergency withdrawal")
	return nil
}

// --- helpers ---

func (e *Engine) requireAdmin(account ledger.Account) error {
	if account != e.cfg.Admin {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, account)
	}
	return nil
}

func (e *Engine) requireAsset(symbol string) (asset.Config, error) {
	cfg, ok := e.deps.Registry.Get(symbol)
	if !ok {
		return asset.Config{}, fmt.Errorf("%w: %s", ErrAssetNotSupported, symbol)
	}
	return cfg, nil
}

func positive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}

// mapPriceErr rewraps pricing failures into the engine taxonomy.
func (e *Engine) mapPriceErr(err error) error {
	switch {
	case errors.Is(err, pricing.ErrPriceStale):
		return fmt.Errorf("%w: %v", ErrPriceStale, err)
	case errors.Is(err, pricing.ErrPriceUnavailable):
		return fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	default:
		return err
	}
}

// poolGate maps the pool status to the matching precondition error for the
// attempted action.
func poolGate(status lendingpool.Status, borrowing bool) error {
	switch status {
	case lendingpool.StatusFrozen:
		return ErrPoolFrozen
	case lendingpool.StatusBorrowDisabled:
		if borrowing {
			return ErrBorrowingDisabled
		}
	case lendingpool.StatusSupplyDisabled:
		if !borrowing {
			return ErrSupplyDisabled
		}
	}
	return nil
}

// refreshHealth recomputes and persists the account's health factor,
// returning it. Failures leave the cached value untouched.
func (e *Engine) refreshHealth(ctx context.Context, account ledger.Account) *uint256.Int {
	pos := e.deps.Ledger.Get(account)
	hf, err := e.deps.Health.Factor(ctx, pos, nil)
	if err != nil {
		e.log.Warn().Err(err).Str("account", string(account)).Msg("health refresh failed")
		return pos.HealthFactor
	}
	e.deps.Ledger.SetHealthFactor(account, hf)
	e.trackStatus(account, e.deps.Health.Classify(hf))
	return hf
}

// trackStatus keeps the positions-by-status gauge in step with each
// account's latest classified bucket. Caller holds e.mu.
func (e *Engine) trackStatus(account ledger.Account, status health.Status) {
	if e.deps.Metrics == nil {
		return
	}
	prev, seen := e.statuses[account]
	if seen && prev == status {
		return
	}
	if seen {
		e.deps.Metrics.HealthStatus.WithLabelValues(string(prev)).Dec()
	}
	e.deps.Metrics.HealthStatus.WithLabelValues(string(status)).Inc()
	e.statuses[account] = status
}

// maybeProtect runs auto-protection after a health-worsening action when
// the new health factor is at or below the account's trigger. Best effort:
// failure is logged and never fails the triggering operation.
func (e *Engine) maybeProtect(ctx context.Context, account ledger.Account, hf *uint256.Int) {
	if !e.deps.Protection.ShouldProtect(account, hf) {
		return
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ProtectionsTriggered.Inc()
	}
	repaid, err := e.deps.Protection.Protect(ctx, account)
	if err != nil {
		if e.deps.Metrics != nil {
			e.deps.Metrics.ProtectionsFailed.Inc()
		}
		e.log.Warn().Err(err).Str("account", string(account)).Msg("auto protection did not execute")
		return
	}
	e.emit(event.EventTypeProtectionExecuted, string(account), event.ProtectionExecuted{
		Account: string(account),
		Repaid:  repaid.String(),
	})
}

// emit publishes an event to the sink. Never fails the caller.
func (e *Engine) emit(et event.EventType, account string, payload interface{}) {
	if e.deps.Sink == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Str("event_type", et.String()).Msg("event payload marshal failed")
		return
	}
	e.sequence++
	e.deps.Sink.Emit(event.NewEnvelope(e.sequence, et, account, e.now(), data))
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.OpDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())
	if err != nil {
		e.deps.Metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		return
	}
	e.deps.Metrics.OpsExecuted.WithLabelValues(op).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAssetNotSupported), errors.Is(err, ErrInvalidAsset):
		return "asset"
	case errors.Is(err, ErrInvalidAmount):
		return "amount"
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientCollateral):
		return "balance"
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, ErrPriceStale):
		return "price"
	case errors.Is(err, ErrUnhealthyPosition):
		return "health"
	case errors.Is(err, ErrPoolFrozen), errors.Is(err, ErrBorrowingDisabled), errors.Is(err, ErrSupplyDisabled):
		return "pool_status"
	case errors.Is(err, ErrSwapFailed):
		return "swap"
	case errors.Is(err, ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ErrProtectionFailed):
		return "protection"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline"
	default:
		return "other"
	}
}
