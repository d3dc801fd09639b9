package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendbook/internal/wad"
)

// requiredCollateral sums the base-asset value of a user's debt across all
// live positions, converting each at its pool's limit price rounded up.
// Pools are accrued and positions caught up on the way, so the figure is
// current as of now.
func (b *Book) requiredCollateral(addr common.Address) *big.Int {
	required := big.NewInt(0)
	u, ok := b.users[addr]
	if !ok {
		return required
	}
	for _, id := range u.Positions {
		pos := b.positions[id]
		if !pos.live() {
			continue
		}
		p, err := b.pool(pos.PoolID)
		if err != nil {
			continue
		}
		b.accrue(p)
		b.applyToPosition(p, pos)
		required.Add(required, wad.DivUp(pos.BorrowedAssets, p.LimitPrice))
	}
	return required
}

// collateralDeposits sums the user's live sell-side (base) order quantities,
// interest applied.
func (b *Book) collateralDeposits(addr common.Address) *big.Int {
	total := big.NewInt(0)
	u, ok := b.users[addr]
	if !ok {
		return total
	}
	for _, id := range u.Orders {
		o := b.orders[id]
		if !o.live() || o.IsBuyOrder {
			continue
		}
		p, err := b.pool(o.PoolID)
		if err != nil {
			continue
		}
		b.accrue(p)
		b.applyToOrder(p, o)
		total.Add(total, o.Quantity)
	}
	return total
}

// excessCollateral is maxLTV-scaled collateral minus required collateral
// minus extraDemand, in base units. Negative means undercollateralized.
// extraDemand lets borrow and withdraw probe the post-operation state.
func (b *Book) excessCollateral(addr common.Address, extraDemand *big.Int) *big.Int {
	capacity := wad.MulDown(b.cfg.MaxLTV, b.collateralDeposits(addr))
	out := new(big.Int).Sub(capacity, b.requiredCollateral(addr))
	if extraDemand != nil {
		out.Sub(out, extraDemand)
	}
	return out
}

// ExcessCollateral exposes the solvency figure for callers and tests.
func (b *Book) ExcessCollateral(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.excessCollateral(addr, nil)
}
