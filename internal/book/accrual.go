package book

import (
	"math/big"

	"go.uber.org/zap"

	"lendbook/internal/wad"
)

var (
	halfWad = new(big.Int).Rsh(wad.One, 1)
	yearSec = big.NewInt(SecondsPerYear)
)

// utilization is borrows/deposits clamped to [0,1]. A pool with no deposits
// reports the neutral 0.5 so a borrow-first pool never divides by zero.
func utilization(p *Pool) *big.Int {
	if p.Deposits.Sign() == 0 {
		return new(big.Int).Set(halfWad)
	}
	if p.Borrows.Cmp(p.Deposits) >= 0 {
		return new(big.Int).Set(wad.One)
	}
	return wad.DivDown(p.Borrows, p.Deposits)
}

// accrue brings a pool's accumulators current. Aggregate borrows compound
// upward and aggregate deposits compound downward over the elapsed window,
// so the pool keeps a non-negative spread by construction. Calling twice in
// the same second is a no-op.
func (b *Book) accrue(p *Pool) {
	now := b.now()
	elapsed := now - p.LastAccrual
	if elapsed <= 0 {
		return
	}

	ur := utilization(p)

	// instantRate = baseRate + slope*UR, prorated over elapsed seconds.
	yearly := new(big.Int).Add(b.cfg.BaseRate, wad.MulDown(b.cfg.RateSlope, ur))
	borrowRate := new(big.Int).Mul(yearly, big.NewInt(elapsed))
	borrowRate.Quo(borrowRate, yearSec)

	p.BorrowAccumulator.Add(p.BorrowAccumulator, borrowRate)
	borrowInterest := wad.MulUp(wad.CompoundUp(borrowRate), p.Borrows)
	p.Borrows.Add(p.Borrows, borrowInterest)

	depositRate := wad.MulDown(borrowRate, ur)
	p.DepositAccumulator.Add(p.DepositAccumulator, depositRate)
	depositInterest := wad.MulDown(wad.CompoundDown(depositRate), p.Deposits)
	p.Deposits.Add(p.Deposits, depositInterest)

	p.LastAccrual = now

	if borrowInterest.Sign() > 0 || depositInterest.Sign() > 0 {
		b.log.Debug("pool accrued",
			zap.Int64("pool", p.ID),
			zap.Int64("elapsed", elapsed),
			zap.String("utilization", ur.String()),
			zap.String("borrow_interest", borrowInterest.String()),
			zap.String("deposit_interest", depositInterest.String()),
		)
	}
}

// applyToOrder catches an order up with its pool's deposit accumulator and
// rebases the snapshot. Idempotent; safe to call redundantly.
func (b *Book) applyToOrder(p *Pool, o *Order) {
	delta := new(big.Int).Sub(p.DepositAccumulator, o.AccSnapshot)
	if delta.Sign() > 0 && o.Quantity.Sign() > 0 {
		interest := wad.MulDown(wad.CompoundDown(delta), o.Quantity)
		o.Quantity.Add(o.Quantity, interest)
	}
	o.AccSnapshot = new(big.Int).Set(p.DepositAccumulator)
}

// applyToPosition catches a position up with its pool's borrow accumulator,
// rounding owed interest up, and rebases the snapshot.
func (b *Book) applyToPosition(p *Pool, pos *Position) {
	delta := new(big.Int).Sub(p.BorrowAccumulator, pos.AccSnapshot)
	if delta.Sign() > 0 && pos.BorrowedAssets.Sign() > 0 {
		interest := wad.MulUp(wad.CompoundUp(delta), pos.BorrowedAssets)
		pos.BorrowedAssets.Add(pos.BorrowedAssets, interest)
	}
	pos.AccSnapshot = new(big.Int).Set(p.BorrowAccumulator)
}

// availableAssets is the pool liquidity not currently lent out.
func availableAssets(p *Pool) *big.Int {
	out := new(big.Int).Sub(p.Deposits, p.Borrows)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
