package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lendbook/internal/wad"
)

// Deposit places quantity behind a limit order at poolID, reposting to
// pairedPoolID when taken. The first deposit at a (pool, paired, side)
// triple creates the order and must clear the per-asset minimum; repeat
// deposits top the order up with no minimum. Returns the order id.
func (b *Book) Deposit(maker common.Address, poolID int64, quantity *big.Int, pairedPoolID int64, isBuyOrder bool) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if quantity == nil || quantity.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	if !b.poolInRange(poolID) || !b.poolInRange(pairedPoolID) {
		return 0, ErrPoolOutOfRange
	}
	if !b.pricesOrdered(poolID, pairedPoolID, isBuyOrder) {
		return 0, ErrPriceOrdering
	}

	p, err := b.ensurePool(poolID)
	if err != nil {
		return 0, err
	}
	if s := b.side(p); s != SideNone && (s == SideBuy) != isBuyOrder {
		return 0, ErrPoolSideMismatch
	}
	b.accrue(p)

	existing := b.findUserOrder(maker, poolID, pairedPoolID, isBuyOrder)

	var ids []uint64
	idx := -1
	if existing == nil {
		minDeposit := b.cfg.MinDepositBase
		if isBuyOrder {
			minDeposit = b.cfg.MinDepositQuote
		}
		if quantity.Cmp(minDeposit) < 0 {
			return 0, ErrBelowMinDeposit
		}
		u := b.user(maker)
		ids, idx = freeSlot(u.Orders, b.cfg.MaxOrdersPerUser, func(id uint64) bool {
			return !b.orders[id].live()
		})
		if idx < 0 {
			return 0, ErrTooManyOrders
		}
	}

	if err := b.ledgerFor(isBuyOrder).Pull(maker, quantity); err != nil {
		return 0, err
	}

	var orderID uint64
	if existing != nil {
		b.applyToOrder(p, existing)
		existing.Quantity.Add(existing.Quantity, quantity)
		orderID = existing.ID
	} else {
		orderID = b.nextOrderID
		b.nextOrderID++
		o := &Order{
			ID:           orderID,
			PoolID:       poolID,
			PairedPoolID: pairedPoolID,
			Maker:        maker,
			Quantity:     new(big.Int).Set(quantity),
			IsBuyOrder:   isBuyOrder,
			AccSnapshot:  new(big.Int).Set(p.DepositAccumulator),
		}
		b.orders[orderID] = o
		ids[idx] = orderID
		b.users[maker].Orders = ids
		p.orders.push(orderID)
	}

	p.Deposits.Add(p.Deposits, quantity)

	b.log.Info("deposit",
		zap.String("maker", maker.Hex()),
		zap.Int64("pool", poolID),
		zap.Uint64("order", orderID),
		zap.Bool("buy", isBuyOrder),
		zap.String("quantity", wad.Format(quantity)),
	)
	b.record(Event{Op: "deposit", Actor: maker.Hex(), PoolID: poolID, OrderID: orderID, Quantity: quantity.String()})
	return orderID, nil
}

// Withdraw removes quantity from the caller's order. Quote withdrawals are
// bounded by the pool's unborrowed liquidity; base withdrawals must leave
// the caller's positions collateralized.
func (b *Book) Withdraw(maker common.Address, orderID uint64, quantity *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	o := b.orders[orderID]
	if o == nil || !o.live() {
		return ErrUnknownOrder
	}
	if o.Maker != maker {
		return ErrNotOwner
	}
	p, err := b.pool(o.PoolID)
	if err != nil {
		return err
	}

	b.accrue(p)
	b.applyToOrder(p, o)

	if quantity.Cmp(o.Quantity) > 0 {
		return ErrWithdrawTooMuch
	}
	if o.IsBuyOrder {
		if quantity.Cmp(availableAssets(p)) > 0 {
			return ErrWithdrawNonAvailable
		}
	} else {
		// Gate on the collateral remaining after this withdrawal. Scaling
		// the remainder keeps the capacity rounding aligned with the
		// requirement, so a debt-free maker can always exit in full.
		rest := new(big.Int).Sub(b.collateralDeposits(maker), quantity)
		capacity := wad.MulDown(b.cfg.MaxLTV, rest)
		if capacity.Cmp(b.requiredCollateral(maker)) < 0 {
			return ErrInsufficientCollateral
		}
	}

	if err := subChecked(o.Quantity, quantity, ErrWithdrawTooMuch); err != nil {
		return err
	}
	b.subSaturating(p.Deposits, quantity, "withdraw-pool-deposits")

	if err := b.ledgerFor(o.IsBuyOrder).Push(maker, quantity); err != nil {
		return err
	}

	b.log.Info("withdraw",
		zap.String("maker", maker.Hex()),
		zap.Uint64("order", orderID),
		zap.String("quantity", wad.Format(quantity)),
	)
	b.record(Event{Op: "withdraw", Actor: maker.Hex(), PoolID: o.PoolID, OrderID: orderID, Quantity: quantity.String()})
	return nil
}

// Borrow draws quantity from a buy-side pool against the caller's base
// collateral. Returns the position id.
func (b *Book) Borrow(borrower common.Address, poolID int64, quantity *big.Int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if quantity == nil || quantity.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	p, err := b.pool(poolID)
	if err != nil {
		return 0, err
	}
	if b.side(p) != SideBuy {
		return 0, ErrNotBorrowable
	}
	b.accrue(p)

	if quantity.Cmp(availableAssets(p)) > 0 {
		return 0, ErrBorrowTooMuch
	}
	extra := wad.DivUp(quantity, p.LimitPrice)
	if b.excessCollateral(borrower, extra).Sign() < 0 {
		return 0, ErrInsufficientCollateral
	}

	existing := b.findUserPosition(borrower, poolID)

	var positionID uint64
	if existing != nil {
		b.applyToPosition(p, existing)
		existing.BorrowedAssets.Add(existing.BorrowedAssets, quantity)
		positionID = existing.ID
	} else {
		u := b.user(borrower)
		ids, idx := freeSlot(u.Positions, b.cfg.MaxPositionsPerUser, func(id uint64) bool {
			return !b.positions[id].live()
		})
		if idx < 0 {
			return 0, ErrTooManyPositions
		}
		positionID = b.nextPositionID
		b.nextPositionID++
		pos := &Position{
			ID:             positionID,
			PoolID:         poolID,
			Borrower:       borrower,
			BorrowedAssets: new(big.Int).Set(quantity),
			AccSnapshot:    new(big.Int).Set(p.BorrowAccumulator),
		}
		b.positions[positionID] = pos
		ids[idx] = positionID
		u.Positions = ids
		p.positions.push(positionID)
	}

	p.Borrows.Add(p.Borrows, quantity)

	if err := b.quote.Push(borrower, quantity); err != nil {
		return 0, err
	}

	b.log.Info("borrow",
		zap.String("borrower", borrower.Hex()),
		zap.Int64("pool", poolID),
		zap.Uint64("position", positionID),
		zap.String("quantity", wad.Format(quantity)),
	)
	b.record(Event{Op: "borrow", Actor: borrower.Hex(), PoolID: poolID, PositionID: positionID, Quantity: quantity.String()})
	return positionID, nil
}

// Repay pays quantity of the caller's debt back into the source pool.
func (b *Book) Repay(borrower common.Address, positionID uint64, quantity *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	pos := b.positions[positionID]
	if pos == nil || !pos.live() {
		return ErrUnknownPosition
	}
	if pos.Borrower != borrower {
		return ErrNotOwner
	}
	p, err := b.pool(pos.PoolID)
	if err != nil {
		return err
	}

	b.accrue(p)
	b.applyToPosition(p, pos)

	if quantity.Cmp(pos.BorrowedAssets) > 0 {
		return ErrRepayTooMuch
	}

	if err := b.quote.Pull(borrower, quantity); err != nil {
		return err
	}

	if err := subChecked(pos.BorrowedAssets, quantity, ErrRepayTooMuch); err != nil {
		return err
	}
	b.subSaturating(p.Borrows, quantity, "repay-pool-borrows")

	b.log.Info("repay",
		zap.String("borrower", borrower.Hex()),
		zap.Uint64("position", positionID),
		zap.String("quantity", wad.Format(quantity)),
	)
	b.record(Event{Op: "repay", Actor: borrower.Hex(), PoolID: pos.PoolID, PositionID: positionID, Quantity: quantity.String()})
	return nil
}

// ChangeLimitPrice moves a live order to a new tick, merging into an
// existing order of the caller with the same (pool, paired, side) triple
// when one exists. Quote liquidity locked behind borrows cannot move.
func (b *Book) ChangeLimitPrice(maker common.Address, orderID uint64, newPoolID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.orders[orderID]
	if o == nil || !o.live() {
		return ErrUnknownOrder
	}
	if o.Maker != maker {
		return ErrNotOwner
	}
	if newPoolID == o.PoolID {
		return nil
	}
	if !b.poolInRange(newPoolID) {
		return ErrPoolOutOfRange
	}
	if !b.pricesOrdered(newPoolID, o.PairedPoolID, o.IsBuyOrder) {
		return ErrPriceOrdering
	}

	old, err := b.pool(o.PoolID)
	if err != nil {
		return err
	}
	b.accrue(old)
	b.applyToOrder(old, o)

	if o.IsBuyOrder && o.Quantity.Cmp(availableAssets(old)) > 0 {
		return ErrWithdrawNonAvailable
	}

	next, err := b.ensurePool(newPoolID)
	if err != nil {
		return err
	}
	if s := b.side(next); s != SideNone && (s == SideBuy) != o.IsBuyOrder {
		return ErrPoolSideMismatch
	}
	b.accrue(next)

	moved := new(big.Int).Set(o.Quantity)
	b.subSaturating(old.Deposits, moved, "reprice-pool-deposits")
	next.Deposits.Add(next.Deposits, moved)

	if ex := b.findUserOrder(maker, newPoolID, o.PairedPoolID, o.IsBuyOrder); ex != nil && ex.ID != o.ID {
		b.applyToOrder(next, ex)
		ex.Quantity.Add(ex.Quantity, moved)
		o.Quantity.SetInt64(0)
	} else {
		o.PoolID = newPoolID
		o.AccSnapshot = new(big.Int).Set(next.DepositAccumulator)
		next.orders.push(o.ID)
	}

	b.record(Event{Op: "change_limit_price", Actor: maker.Hex(), PoolID: newPoolID, OrderID: orderID, Quantity: moved.String()})
	return nil
}

// ChangePairedPrice repoints where a taken order's residual liquidity will
// repost.
func (b *Book) ChangePairedPrice(maker common.Address, orderID uint64, newPairedPoolID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.orders[orderID]
	if o == nil || !o.live() {
		return ErrUnknownOrder
	}
	if o.Maker != maker {
		return ErrNotOwner
	}
	if !b.poolInRange(newPairedPoolID) {
		return ErrPoolOutOfRange
	}
	if !b.pricesOrdered(o.PoolID, newPairedPoolID, o.IsBuyOrder) {
		return ErrPriceOrdering
	}

	o.PairedPoolID = newPairedPoolID
	b.record(Event{Op: "change_paired_price", Actor: maker.Hex(), PoolID: o.PoolID, OrderID: orderID})
	return nil
}

func (b *Book) findUserOrder(maker common.Address, poolID, pairedPoolID int64, isBuy bool) *Order {
	u, ok := b.users[maker]
	if !ok {
		return nil
	}
	for _, id := range u.Orders {
		o := b.orders[id]
		if o.live() && o.PoolID == poolID && o.PairedPoolID == pairedPoolID && o.IsBuyOrder == isBuy {
			return o
		}
	}
	return nil
}

func (b *Book) findUserPosition(borrower common.Address, poolID int64) *Position {
	u, ok := b.users[borrower]
	if !ok {
		return nil
	}
	for _, id := range u.Positions {
		pos := b.positions[id]
		if pos.live() && pos.PoolID == poolID {
			return pos
		}
	}
	return nil
}
