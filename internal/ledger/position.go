package ledger

import (
	"time"

	"DefiHub/internal/fpmath"

	"github.com/holiman/uint256"
)

// Account identifies a user by address.
type Account string

// Position is the per-account aggregate of supplied, borrowed and staked
// balances plus reward accrual state. Amounts are native-precision token
// units. A balance entry that reaches zero is removed, never retained.
type Position struct {
	Supplied map[string]*uint256.Int // asset symbol -> amount
	Borrowed map[string]*uint256.Int
	Staked   map[string]*uint256.Int

	RewardsEarned    *uint256.Int
	LastRewardUpdate time.Time

	// HealthFactor is the cached factor from the last recompute, in the
	// 1e6 health scale.
	HealthFactor *uint256.Int
}

// NewPosition returns the default (empty, maximally healthy) position.
func NewPosition(now time.Time) *Position {
	return &Position{
		Supplied:         make(map[string]*uint256.Int),
		Borrowed:         make(map[string]*uint256.Int),
		Staked:           make(map[string]*uint256.Int),
		RewardsEarned:    uint256.NewInt(0),
		LastRewardUpdate: now,
		HealthFactor:     new(uint256.Int).Set(fpmath.MaxHealthFactor),
	}
}

// IsEmpty reports whether the position has decayed back to the default
// state (no balances, no unclaimed rewards).
func (p *Position) IsEmpty() bool {
	return len(p.Supplied) == 0 &&
		len(p.Borrowed) == 0 &&
		len(p.Staked) == 0 &&
		p.RewardsEarned.IsZero()
}

// Clone returns a deep copy safe to hand outside the ledger lock.
func (p *Position) Clone() *Position {
	return &Position{
		Supplied:         cloneBalances(p.Supplied),
		Borrowed:         cloneBalances(p.Borrowed),
		Staked:           cloneBalances(p.Staked),
		RewardsEarned:    new(uint256.Int).Set(p.RewardsEarned),
		LastRewardUpdate: p.LastRewardUpdate,
		HealthFactor:     new(uint256.Int).Set(p.HealthFactor),
	}
}

func cloneBalances(m map[string]*uint256.Int) map[string]*uint256.Int {
	out := make(map[string]*uint256.Int, len(m))
	for k, v := range m {
		out[k] = new(uint256.Int).Set(v)
	}
	return out
}
