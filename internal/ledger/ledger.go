package ledger

import (
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// PositionLedger is the authoritative per-account record. All balance
// mutations funnel through its accessors; related engines never mutate a
// Position directly. The ledger carries its own lock so read-only queries
// can run against a consistent view while the engine serializes writers.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[Account]*Position
	now       func() time.Time
}

func NewPositionLedger(now func() time.Time) *PositionLedger {
	if now == nil {
		now = time.Now
	}
	return &PositionLedger{
		positions: make(map[Account]*Position),
		now:       now,
	}
}

// Get returns a deep copy of the account's position, or the default
// position on first access. Nothing is persisted until the first mutation.
func (l *PositionLedger) Get(account Account) *Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos := l.positions[account]
	if pos == nil {
		return NewPosition(l.now())
	}
	return pos.Clone()
}

// getOrCreate returns the live position under the write lock.
func (l *PositionLedger) getOrCreate(account Account) *Position {
	pos := l.positions[account]
	if pos == nil {
		pos = NewPosition(l.now())
		l.positions[account] = pos
	}
	return pos
}

// reap drops the entry once the position has decayed to the default state,
// so an all-zero position is indistinguishable from a never-seen account.
func (l *PositionLedger) reap(account Account) {
	if pos := l.positions[account]; pos != nil && pos.IsEmpty() {
		delete(l.positions, account)
	}
}

func credit(balances map[string]*uint256.Int, asset string, amount *uint256.Int) {
	current := balances[asset]
	if current == nil {
		balances[asset] = new(uint256.Int).Set(amount)
		return
	}
	current.Add(current, amount)
}

// debit reduces a balance entry, saturating at zero and removing the entry
// when it reaches zero. Returns the amount actually debited.
func debit(balances map[string]*uint256.Int, asset string, amount *uint256.Int) *uint256.Int {
	current := balances[asset]
	if current == nil {
		return uint256.NewInt(0)
	}

	if current.Lt(amount) || current.Eq(amount) {
		debited := new(uint256.Int).Set(current)
		delete(balances, asset)
		return debited
	}

	current.Sub(current, amount)
	return new(uint256.Int).Set(amount)
}

func (l *PositionLedger) CreditSupplied(account Account, asset string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	credit(l.getOrCreate(account).Supplied, asset, amount)
}

func (l *PositionLedger) DebitSupplied(account Account, asset string, amount *uint256.Int) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.getOrCreate(account)
	debited := debit(pos.Supplied, asset, amount)
	l.reap(account)
	return debited
}

func (l *PositionLedger) CreditBorrowed(account Account, asset string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	credit(l.getOrCreate(account).Borrowed, asset, amount)
}

func (l *PositionLedger) DebitBorrowed(account Account, asset string, amount *uint256.Int) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.getOrCreate(account)
	debited := debit(pos.Borrowed, asset, amount)
	l.reap(account)
	return debited
}

func (l *PositionLedger) CreditStaked(account Account, asset string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	credit(l.getOrCreate(account).Staked, asset, amount)
}

func (l *PositionLedger) DebitStaked(account Account, asset string, amount *uint256.Int) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.getOrCreate(account)
	debited := debit(pos.Staked, asset, amount)
	l.reap(account)
	return debited
}

// SuppliedBalance returns the supplied amount for one asset (zero if none).
func (l *PositionLedger) SuppliedBalance(account Account, asset string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return balanceOf(l.positions[account], func(p *Position) map[string]*uint256.Int { return p.Supplied }, asset)
}

func (l *PositionLedger) BorrowedBalance(account Account, asset string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return balanceOf(l.positions[account], func(p *Position) map[string]*uint256.Int { return p.Borrowed }, asset)
}

func (l *PositionLedger) StakedBalance(account Account, asset string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return balanceOf(l.positions[account], func(p *Position) map[string]*uint256.Int { return p.Staked }, asset)
}

func balanceOf(pos *Position, sel func(*Position) map[string]*uint256.Int, asset string) *uint256.Int {
	if pos == nil {
		return uint256.NewInt(0)
	}
	if bal := sel(pos)[asset]; bal != nil {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// AddRewards accrues earned-but-unclaimed rewards onto the position and
// advances its reward checkpoint.
func (l *PositionLedger) AddRewards(account Account, amount *uint256.Int, checkpoint time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.getOrCreate(account)
	pos.RewardsEarned.Add(pos.RewardsEarned, amount)
	pos.LastRewardUpdate = checkpoint
}

// TakeRewards removes up to `limit` from the accrued reward counter and
// returns the amount taken. The unclaimed remainder stays on the position.
func (l *PositionLedger) TakeRewards(account Account, limit *uint256.Int) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.positions[account]
	if pos == nil {
		return uint256.NewInt(0)
	}

	taken := new(uint256.Int).Set(pos.RewardsEarned)
	if limit != nil && taken.Gt(limit) {
		taken.Set(limit)
	}
	pos.RewardsEarned.Sub(pos.RewardsEarned, taken)
	l.reap(account)
	return taken
}

// SetHealthFactor persists the cached health factor after a recompute.
func (l *PositionLedger) SetHealthFactor(account Account, hf *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.positions[account]
	if pos == nil {
		// Empty positions keep the default sentinel; nothing to cache.
		return
	}
	pos.HealthFactor.Set(hf)
}

// Accounts returns all accounts with live positions.
func (l *PositionLedger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Account, 0, len(l.positions))
	for acct := range l.positions {
		out = append(out, acct)
	}
	return out
}
