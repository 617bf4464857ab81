package lendingpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Status reports what the underlying pool currently allows.
type Status int

const (
	StatusActive Status = iota
	StatusBorrowDisabled
	StatusSupplyDisabled
	StatusFrozen
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusBorrowDisabled:
		return "BORROW_DISABLED"
	case StatusSupplyDisabled:
		return "SUPPLY_DISABLED"
	case StatusFrozen:
		return "FROZEN"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

var ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

// Pool is the lending-pool capability: the venue that custodies deposits
// and issues debt. The engine only needs these narrow calls; everything
// else about the pool is out of scope.
type Pool interface {
	Supply(ctx context.Context, asset string, amount *uint256.Int) error
	Borrow(ctx context.Context, asset string, amount *uint256.Int) error
	Repay(ctx context.Context, asset string, amount *uint256.Int) error
	WithdrawCollateral(ctx context.Context, asset string, amount *uint256.Int) error
	Status(ctx context.Context, asset string) (Status, error)
}

// Memory is an in-process pool that tracks per-asset supplied liquidity
// and outstanding debt. It backs local deployments and tests; production
// deployments adapt a real venue behind the same interface.
type Memory struct {
	mu       sync.Mutex
	supplied map[string]*uint256.Int
	borrowed map[string]*uint256.Int
	status   map[string]Status
}

func NewMemory() *Memory {
	return &Memory{
		supplied: make(map[string]*uint256.Int),
		borrowed: make(map[string]*uint256.Int),
		status:   make(map[string]Status),
	}
}

// SetStatus overrides the pool status for one asset.
func (p *Memory) SetStatus(asset string, s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[asset] = s
}

func (p *Memory) Supply(_ context.Context, asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	add(p.supplied, asset, amount)
	return nil
}

func (p *Memory) Borrow(_ context.Context, asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := new(uint256.Int).Set(balance(p.supplied, asset))
	free = free.Sub(free, min256(free, balance(p.borrowed, asset)))
	if free.Lt(amount) {
		return fmt.Errorf("%w: borrow %s of %s, %s free", ErrInsufficientLiquidity, amount, asset, free)
	}
	add(p.borrowed, asset, amount)
	return nil
}

func (p *Memory) Repay(_ context.Context, asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	debt := balance(p.borrowed, asset)
	repaid := min256(debt, amount)
	debt.Sub(debt, repaid)
	return nil
}

func (p *Memory) WithdrawCollateral(_ context.Context, asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bal := balance(p.supplied, asset)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: withdraw %s of %s, %s supplied", ErrInsufficientLiquidity, amount, asset, bal)
	}
	bal.Sub(bal, amount)
	return nil
}

func (p *Memory) Status(_ context.Context, asset string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status[asset], nil
}

// SuppliedLiquidity returns the pool's current supplied balance for an asset.
func (p *Memory) SuppliedLiquidity(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(balance(p.supplied, asset))
}

func add(m map[string]*uint256.Int, asset string, amount *uint256.Int) {
	if cur := m[asset]; cur != nil {
		cur.Add(cur, amount)
		return
	}
	m[asset] = new(uint256.Int).Set(amount)
}

func balance(m map[string]*uint256.Int, asset string) *uint256.Int {
	if cur := m[asset]; cur != nil {
		return cur
	}
	zero := uint256.NewInt(0)
	m[asset] = zero
	return zero
}

func min256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}
