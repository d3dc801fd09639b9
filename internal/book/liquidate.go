package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lendbook/internal/wad"
)

// Liquidate closes one undercollateralized position. The caller repays the
// full debt in quote and receives the debt plus the liquidation fee worth of
// the borrower's collateral, converted at the oracle price. This is the
// interest-driven recourse: when the pool itself is profitable to take, the
// call is rejected in favor of Take, which liquidates comprehensively
// instead of cherry-picking. Returns the base actually seized, which may be
// short when the borrower's orders cannot cover it.
func (b *Book) Liquidate(caller common.Address, positionID uint64) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.positions[positionID]
	if pos == nil || !pos.live() {
		return nil, ErrUnknownPosition
	}
	p, err := b.pool(pos.PoolID)
	if err != nil {
		return nil, err
	}
	b.accrue(p)

	// Positions only exist against buy-side pools, so profitable means the
	// oracle has dropped through the limit.
	price := b.oracle.CurrentPrice()
	if price.Cmp(p.LimitPrice) < 0 {
		return nil, ErrPoolTakeable
	}
	if b.excessCollateral(pos.Borrower, nil).Sign() > 0 {
		return nil, ErrNotLiquidatable
	}

	b.applyToPosition(p, pos)
	debt := new(big.Int).Set(pos.BorrowedAssets)

	if err := b.quote.Pull(caller, debt); err != nil {
		return nil, err
	}

	markup := wad.MulUp(debt, new(big.Int).Add(wad.One, b.cfg.LiquidationFee))
	want := wad.DivUp(markup, price)
	seized := b.seizeCollateral(pos.Borrower, want)

	pos.BorrowedAssets.SetInt64(0)
	b.subSaturating(p.Borrows, debt, "liquidate-pool-borrows")

	if seized.Sign() > 0 {
		if err := b.base.Push(caller, seized); err != nil {
			b.log.Error("liquidator payout failed", zap.Error(err), zap.Uint64("position", positionID))
			return nil, err
		}
	}

	b.log.Info("position liquidated directly",
		zap.String("caller", caller.Hex()),
		zap.String("borrower", pos.Borrower.Hex()),
		zap.Uint64("position", positionID),
		zap.String("debt", wad.Format(debt)),
		zap.String("seized", wad.Format(seized)),
	)
	b.record(Event{Op: "liquidate", Actor: caller.Hex(), PoolID: pos.PoolID, PositionID: positionID, Quantity: debt.String()})
	return seized, nil
}
