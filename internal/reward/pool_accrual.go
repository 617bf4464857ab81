package reward

import (
	"sync"
	"time"

	"DefiHub/internal/fpmath"
	"DefiHub/internal/ledger"

	"github.com/holiman/uint256"
)

// PoolAccrual implements the checkpoint-accumulator staking pattern: each
// stake/unstake advances a pool-level reward-per-token counter, and every
// staker earns pro rata against the counter delta since their last
// checkpoint. The counter carries an extra 1e18 scale so small per-second
// rates do not truncate to zero.
type PoolAccrual struct {
	mu     sync.Mutex
	ledger *ledger.PositionLedger
	pools  map[string]*poolState
	paid   map[ledger.Account]map[string]*uint256.Int
	rate   *uint256.Int // default rate for pools created on first touch
	now    func() time.Time
}

type poolState struct {
	totalStaked          *uint256.Int
	rewardRate           *uint256.Int
	lastUpdate           time.Time
	rewardPerTokenStored *uint256.Int
	totalDistributed     *uint256.Int
}

func NewPoolAccrual(l *ledger.PositionLedger, defaultRate *uint256.Int, now func() time.Time) *PoolAccrual {
	if now == nil {
		now = time.Now
	}
	if defaultRate == nil {
		defaultRate = uint256.NewInt(0)
	}
	return &PoolAccrual{
		ledger: l,
		pools:  make(map[string]*poolState),
		paid:   make(map[ledger.Account]map[string]*uint256.Int),
		rate:   new(uint256.Int).Set(defaultRate),
		now:    now,
	}
}

func (a *PoolAccrual) pool(asset string) *poolState {
	p := a.pools[asset]
	if p == nil {
		p = &poolState{
			totalStaked:          uint256.NewInt(0),
			rewardRate:           new(uint256.Int).Set(a.rate),
			lastUpdate:           a.now(),
			rewardPerTokenStored: uint256.NewInt(0),
			totalDistributed:     uint256.NewInt(0),
		}
		a.pools[asset] = p
	}
	return p
}

// checkpoint advances rewardPerTokenStored. Skipped while nothing is
// staked: emissions with no stakers are not banked. Only whole seconds are
// consumed off the clock; the sub-second remainder stays pending for the
// next call.
func (a *PoolAccrual) checkpoint(p *poolState) error {
	now := a.now()
	elapsed := now.Sub(p.lastUpdate)
	if elapsed <= 0 {
		return nil
	}
	if p.totalStaked.IsZero() || p.rewardRate.IsZero() {
		p.lastUpdate = now
		return nil
	}

	whole := elapsed.Truncate(time.Second)
	if whole == 0 {
		return nil
	}
	p.lastUpdate = p.lastUpdate.Add(whole)

	emitted := new(uint256.Int).Mul(p.rewardRate, uint256.NewInt(uint64(whole/time.Second)))
	increment, err := fpmath.MulDiv(emitted, fpmath.Wad, p.totalStaked)
	if err != nil {
		return err
	}
	p.rewardPerTokenStored.Add(p.rewardPerTokenStored, increment)
	return nil
}

func (a *PoolAccrual) paidFor(account ledger.Account, asset string) *uint256.Int {
	byAsset := a.paid[account]
	if byAsset == nil {
		byAsset = make(map[string]*uint256.Int)
		a.paid[account] = byAsset
	}
	mark := byAsset[asset]
	if mark == nil {
		mark = uint256.NewInt(0)
		byAsset[asset] = mark
	}
	return mark
}

func (a *PoolAccrual) Settle(account ledger.Account, asset string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pool(asset)
	if err := a.checkpoint(p); err != nil {
		return err
	}

	mark := a.paidFor(account, asset)
	delta := new(uint256.Int).Sub(p.rewardPerTokenStored, mark)
	staked := a.ledger.StakedBalance(account, asset)

	if !delta.IsZero() && !staked.IsZero() {
		earned, err := fpmath.MulDiv(staked, delta, fpmath.Wad)
		if err != nil {
			return err
		}
		if !earned.IsZero() {
			a.ledger.AddRewards(account, earned, a.now())
			p.totalDistributed.Add(p.totalDistributed, earned)
		}
	}
	mark.Set(p.rewardPerTokenStored)
	return nil
}

func (a *PoolAccrual) Staked(account ledger.Account, asset string, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pool(asset)
	if err := a.checkpoint(p); err != nil {
		return err
	}
	p.totalStaked.Add(p.totalStaked, amount)
	return nil
}

func (a *PoolAccrual) Unstaked(account ledger.Account, asset string, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pool(asset)
	if err := a.checkpoint(p); err != nil {
		return err
	}
	p.totalStaked = fpmath.SaturatingSub(p.totalStaked, amount)
	return nil
}

func (a *PoolAccrual) SetRate(asset string, rate *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pool(asset)
	// Bank emissions at the old rate before switching.
	if err := a.checkpoint(p); err != nil {
		return err
	}
	p.rewardRate.Set(rate)
	return nil
}

func (a *PoolAccrual) Pool(asset string) StakingPool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pool(asset)
	return StakingPool{
		Asset:                asset,
		TotalStaked:          new(uint256.Int).Set(p.totalStaked),
		RewardRate:           new(uint256.Int).Set(p.rewardRate),
		LastUpdate:           p.lastUpdate,
		RewardPerTokenStored: new(uint256.Int).Set(p.rewardPerTokenStored),
		TotalDistributed:     new(uint256.Int).Set(p.totalDistributed),
	}
}
