package reward

import (
	"sync"
	"time"

	"DefiHub/internal/ledger"

	"github.com/holiman/uint256"
)

// Accruer settles staking rewards onto ledger positions. Implementations
// must be called in a fixed order around stake changes: Settle before the
// ledger balance moves, then Staked/Unstaked after it has.
type Accruer interface {
	// Settle accrues the account's pending rewards for one staking asset
	// up to now and advances its checkpoint.
	Settle(account ledger.Account, asset string) error

	// Staked records a stake increase after the ledger credit.
	Staked(account ledger.Account, asset string, amount *uint256.Int) error

	// Unstaked records a stake decrease after the ledger debit.
	Unstaked(account ledger.Account, asset string, amount *uint256.Int) error

	// SetRate replaces the emission rate for an asset's pool.
	SetRate(asset string, rate *uint256.Int) error

	// Pool returns a snapshot of the asset's staking pool state.
	Pool(asset string) StakingPool
}

// StakingPool is a point-in-time snapshot of one asset's staking pool.
type StakingPool struct {
	Asset                string
	TotalStaked          *uint256.Int
	RewardRate           *uint256.Int
	LastUpdate           time.Time
	RewardPerTokenStored *uint256.Int
	TotalDistributed     *uint256.Int
}

// FeePool holds protocol fees collected from swaps, denominated per asset.
// Reward claims are paid out of it and are capped at what it holds.
type FeePool struct {
	mu       sync.Mutex
	balances map[string]*uint256.Int
}

func NewFeePool() *FeePool {
	return &FeePool{balances: make(map[string]*uint256.Int)}
}

// Add credits collected fees to the pool.
func (p *FeePool) Add(asset string, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.balances[asset]
	if current == nil {
		p.balances[asset] = new(uint256.Int).Set(amount)
		return
	}
	current.Add(current, amount)
}

// Available returns the pool's current balance for an asset.
func (p *FeePool) Available(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bal := p.balances[asset]; bal != nil {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Take withdraws up to `amount` from the pool and returns what was actually
// taken. A request beyond the balance drains the pool rather than failing.
func (p *FeePool) Take(asset string, amount *uint256.Int) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.balances[asset]
	if current == nil {
		return uint256.NewInt(0)
	}

	taken := new(uint256.Int).Set(amount)
	if current.Lt(taken) {
		taken.Set(current)
	}
	current.Sub(current, taken)
	if current.IsZero() {
		delete(p.balances, asset)
	}
	return taken
}
