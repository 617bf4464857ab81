package reward

import (
	"sync"
	"time"

	"DefiHub/internal/fpmath"
	"DefiHub/internal/ledger"

	"github.com/holiman/uint256"
)

// rateScale divides the flat per-day rate: a rate of 1_000_000 pays the
// staked amount itself out once per day.
var rateScale = uint256.NewInt(1_000_000)

// FlatRateAccrual earns rewards at a flat time rate against the staked
// balance: staked * rate / 1e6 per day, prorated by seconds since the
// position's last reward checkpoint. One rate applies across all staking
// assets; per-asset totals are still tracked for pool queries.
type FlatRateAccrual struct {
	mu     sync.Mutex
	ledger *ledger.PositionLedger
	rate   *uint256.Int
	totals map[string]*uint256.Int
	last   map[string]time.Time
	paid   map[string]*uint256.Int
	now    func() time.Time
}

func NewFlatRateAccrual(l *ledger.PositionLedger, rate *uint256.Int, now func() time.Time) *FlatRateAccrual {
	if now == nil {
		now = time.Now
	}
	if rate == nil {
		rate = uint256.NewInt(0)
	}
	return &FlatRateAccrual{
		ledger: l,
		rate:   new(uint256.Int).Set(rate),
		totals: make(map[string]*uint256.Int),
		last:   make(map[string]time.Time),
		paid:   make(map[string]*uint256.Int),
		now:    now,
	}
}

func (a *FlatRateAccrual) Settle(account ledger.Account, asset string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staked := a.ledger.StakedBalance(account, asset)
	if staked.IsZero() {
		return nil
	}

	now := a.now()
	pos := a.ledger.Get(account)
	elapsed := now.Sub(pos.LastRewardUpdate)
	if elapsed <= 0 {
		return nil
	}
	// Only whole seconds are settled; the sub-second remainder stays on
	// the checkpoint clock instead of being discarded.
	whole := elapsed.Truncate(time.Second)
	if whole == 0 {
		return nil
	}

	daily, err := fpmath.MulDiv(staked, a.rate, rateScale)
	if err != nil {
		return err
	}
	earned, err := fpmath.MulDiv(daily, uint256.NewInt(uint64(whole/time.Second)), uint256.NewInt(fpmath.SecondsPerDay))
	if err != nil {
		return err
	}

	// Checkpoint advances even when the prorated amount rounds to zero.
	a.ledger.AddRewards(account, earned, pos.LastRewardUpdate.Add(whole))
	if !earned.IsZero() {
		a.distributed(asset).Add(a.distributed(asset), earned)
	}
	return nil
}

func (a *FlatRateAccrual) Staked(account ledger.Account, asset string, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Stamp the checkpoint on the first stake so pre-stake idle time never
	// accrues. Later stakes keep the checkpoint Settle left behind.
	pos := a.ledger.Get(account)
	if s := pos.Staked[asset]; len(pos.Staked) == 1 && s != nil && s.Eq(amount) {
		a.ledger.AddRewards(account, uint256.NewInt(0), a.now())
	}
	a.total(asset).Add(a.total(asset), amount)
	a.last[asset] = a.now()
	return nil
}

func (a *FlatRateAccrual) Unstaked(account ledger.Account, asset string, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totals[asset] = fpmath.SaturatingSub(a.total(asset), amount)
	a.last[asset] = a.now()
	return nil
}

func (a *FlatRateAccrual) SetRate(_ string, rate *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rate.Set(rate)
	return nil
}

func (a *FlatRateAccrual) Pool(asset string) StakingPool {
	a.mu.Lock()
	defer a.mu.Unlock()

	last, ok := a.last[asset]
	if !ok {
		last = a.now()
	}
	return StakingPool{
		Asset:                asset,
		TotalStaked:          new(uint256.Int).Set(a.total(asset)),
		RewardRate:           new(uint256.Int).Set(a.rate),
		LastUpdate:           last,
		RewardPerTokenStored: uint256.NewInt(0),
		TotalDistributed:     new(uint256.Int).Set(a.distributed(asset)),
	}
}

func (a *FlatRateAccrual) total(asset string) *uint256.Int {
	t := a.totals[asset]
	if t == nil {
		t = uint256.NewInt(0)
		a.totals[asset] = t
	}
	return t
}

func (a *FlatRateAccrual) distributed(asset string) *uint256.Int {
	d := a.paid[asset]
	if d == nil {
		d = uint256.NewInt(0)
		a.paid[asset] = d
	}
	return d
}
