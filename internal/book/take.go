package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lendbook/internal/wad"
)

// Take executes quantity against a pool whose limit price the oracle has
// crossed. Taking a quote pool forces settlement of the borrowing positions
// that depend on the taken liquidity; redeemed deposits flip to the other
// side of the book on each maker's paired tick. A zero quantity is legal and
// runs only the liquidation pass.
func (b *Book) Take(taker common.Address, poolID int64, quantity *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if quantity == nil || quantity.Sign() < 0 {
		return ErrInvalidQuantity
	}
	p, err := b.pool(poolID)
	if err != nil {
		return err
	}
	s := b.side(p)
	if s == SideNone {
		if quantity.Sign() == 0 {
			return nil
		}
		return ErrTakeTooMuch
	}

	b.accrue(p)

	price := b.oracle.CurrentPrice()
	profitable := false
	if s == SideBuy {
		profitable = price.Cmp(p.LimitPrice) < 0
	} else {
		profitable = price.Cmp(p.LimitPrice) > 0
	}
	if !profitable {
		return ErrNotProfitable
	}

	if s == SideBuy {
		err = b.takeQuote(taker, p, quantity)
	} else {
		err = b.takeBase(taker, p, quantity)
	}
	if err != nil {
		return err
	}

	b.record(Event{Op: "take", Actor: taker.Hex(), PoolID: poolID, Quantity: quantity.String()})
	return nil
}

// takeQuote settles a buy-side pool: liquidate enough positions to keep the
// redemption solvent, then redeem orders against the canceled debt and the
// taker's demand, reposting proceeds as sell orders.
func (b *Book) takeQuote(taker common.Address, p *Pool, quantity *big.Int) error {
	ur := utilization(p)
	if quantity.Sign() > 0 && ur.Cmp(wad.One) >= 0 {
		return ErrNoFreeLiquidity
	}
	if quantity.Cmp(availableAssets(p)) > 0 {
		return ErrTakeTooMuch
	}

	// Redeeming X from depositors stays solvent only if X*UR/(1-UR) of debt
	// unwinds alongside it; higher utilization forces proportionally more
	// liquidation per unit taken.
	minCanceled := big.NewInt(0)
	if quantity.Sign() > 0 && ur.Sign() > 0 {
		oneMinus := new(big.Int).Sub(wad.One, ur)
		minCanceled = wad.DivUp(wad.MulUp(quantity, ur), oneMinus)
	}

	baseIn := wad.DivUp(quantity, p.LimitPrice)
	if quantity.Sign() > 0 {
		if err := b.base.Pull(taker, baseIn); err != nil {
			return err
		}
	}

	canceled := b.liquidationPass(p, minCanceled)
	b.redeemQuoteOrders(p, canceled, quantity)

	if quantity.Sign() > 0 {
		if err := b.quote.Push(taker, quantity); err != nil {
			b.log.Error("taker payout failed", zap.Error(err), zap.Int64("pool", p.ID))
			return err
		}
	}

	b.log.Info("take",
		zap.String("taker", taker.Hex()),
		zap.Int64("pool", p.ID),
		zap.String("quantity", wad.Format(quantity)),
		zap.String("canceled_debt", wad.Format(canceled)),
	)
	return nil
}

// liquidationPass scans positions from the pool's bottom cursor, fully
// closing each (liquidation is total per position, never partial) until the
// canceled volume covers minCanceled and at least MinLiquidationRounds have
// run, or the scan bound trips. Returns the total debt canceled.
func (b *Book) liquidationPass(p *Pool, minCanceled *big.Int) *big.Int {
	canceled := big.NewInt(0)
	rounds := 0
	ops := 0

	for slot := p.positions.bottom; slot < p.positions.top; slot++ {
		if ops >= b.cfg.MaxLiquidationOps {
			break
		}
		id, ok := p.positions.entries[slot]
		var pos *Position
		if ok {
			pos = b.livePositionInPool(p, id)
		}
		if pos == nil {
			if slot == p.positions.bottom {
				p.positions.bottom++
			}
			continue
		}
		if canceled.Cmp(minCanceled) >= 0 && rounds >= b.cfg.MinLiquidationRounds {
			break
		}
		ops++

		b.applyToPosition(p, pos)
		debt := new(big.Int).Set(pos.BorrowedAssets)
		want := wad.DivUp(debt, p.LimitPrice)
		seized := b.seizeCollateral(pos.Borrower, want)

		pos.BorrowedAssets.SetInt64(0)
		b.subSaturating(p.Borrows, debt, "liquidation-pool-borrows")
		canceled.Add(canceled, debt)
		rounds++
		if slot == p.positions.bottom {
			p.positions.bottom++
		}

		b.log.Info("position liquidated",
			zap.Uint64("position", pos.ID),
			zap.String("borrower", pos.Borrower.Hex()),
			zap.String("debt", wad.Format(debt)),
			zap.String("collateral_wanted", wad.Format(want)),
			zap.String("collateral_seized", wad.Format(seized)),
		)
	}
	return canceled
}

// seizeCollateral drains up to amount of base from the borrower's sell
// orders, across as many orders as needed. Partial seizure is accepted; the
// caller learns how much was actually taken.
func (b *Book) seizeCollateral(borrower common.Address, amount *big.Int) *big.Int {
	seized := big.NewInt(0)
	remaining := new(big.Int).Set(amount)
	u, ok := b.users[borrower]
	if !ok {
		return seized
	}
	for _, id := range u.Orders {
		if remaining.Sign() == 0 {
			break
		}
		o := b.orders[id]
		if !o.live() || o.IsBuyOrder {
			continue
		}
		op, err := b.pool(o.PoolID)
		if err != nil {
			continue
		}
		b.accrue(op)
		b.applyToOrder(op, o)

		grab := new(big.Int).Set(minBig(remaining, o.Quantity))
		o.Quantity.Sub(o.Quantity, grab)
		b.subSaturating(op.Deposits, grab, "seize-pool-deposits")
		seized.Add(seized, grab)
		remaining.Sub(remaining, grab)
	}
	return seized
}

// redeemQuoteOrders draws down orders from the bottom cursor, first against
// the debt just canceled, then against the taker's demand. Every redeemed
// unit converts to base at the pool's limit price and reposts on the order's
// paired tick for its maker.
func (b *Book) redeemQuoteOrders(p *Pool, canceled, demand *big.Int) {
	quotaDebt := new(big.Int).Set(canceled)
	quotaTake := new(big.Int).Set(demand)

	for slot := p.orders.bottom; slot < p.orders.top; slot++ {
		if quotaDebt.Sign() == 0 && quotaTake.Sign() == 0 {
			break
		}
		id, ok := p.orders.entries[slot]
		var o *Order
		if ok {
			o = b.liveOrderInPool(p, id)
		}
		if o == nil {
			if slot == p.orders.bottom {
				p.orders.bottom++
			}
			continue
		}
		b.applyToOrder(p, o)

		reduce := big.NewInt(0)

		forDebt := new(big.Int).Set(minBig(o.Quantity, quotaDebt))
		o.Quantity.Sub(o.Quantity, forDebt)
		quotaDebt.Sub(quotaDebt, forDebt)
		reduce.Add(reduce, forDebt)

		forTake := new(big.Int).Set(minBig(o.Quantity, quotaTake))
		o.Quantity.Sub(o.Quantity, forTake)
		quotaTake.Sub(quotaTake, forTake)
		reduce.Add(reduce, forTake)

		if reduce.Sign() == 0 {
			continue
		}
		b.subSaturating(p.Deposits, reduce, "redeem-pool-deposits")

		baseOut := wad.DivDown(reduce, p.LimitPrice)
		b.repost(o.Maker, o.PairedPoolID, o.PoolID, false, baseOut)

		if !o.live() && slot == p.orders.bottom {
			p.orders.bottom++
		}
	}
}

// takeBase settles a sell-side pool. Base pools are non-borrowable so there
// is no liquidation pass, but redeemed proceeds first pay down the maker's
// own borrowing positions before any residue reposts as a buy order.
func (b *Book) takeBase(taker common.Address, p *Pool, quantity *big.Int) error {
	if quantity.Cmp(availableAssets(p)) > 0 {
		return ErrTakeTooMuch
	}

	quoteIn := wad.MulUp(quantity, p.LimitPrice)
	if quantity.Sign() > 0 {
		if err := b.quote.Pull(taker, quoteIn); err != nil {
			return err
		}
	}

	remaining := new(big.Int).Set(quantity)
	for slot := p.orders.bottom; slot < p.orders.top; slot++ {
		if remaining.Sign() == 0 {
			break
		}
		id, ok := p.orders.entries[slot]
		var o *Order
		if ok {
			o = b.liveOrderInPool(p, id)
		}
		if o == nil {
			if slot == p.orders.bottom {
				p.orders.bottom++
			}
			continue
		}
		b.applyToOrder(p, o)

		grab := new(big.Int).Set(minBig(remaining, o.Quantity))
		o.Quantity.Sub(o.Quantity, grab)
		b.subSaturating(p.Deposits, grab, "take-pool-deposits")
		remaining.Sub(remaining, grab)

		proceeds := wad.MulDown(grab, p.LimitPrice)
		leftover := b.deleverage(o.Maker, proceeds)
		b.repost(o.Maker, o.PairedPoolID, o.PoolID, true, leftover)

		if !o.live() && slot == p.orders.bottom {
			p.orders.bottom++
		}
	}

	if quantity.Sign() > 0 {
		if err := b.base.Push(taker, quantity); err != nil {
			b.log.Error("taker payout failed", zap.Error(err), zap.Int64("pool", p.ID))
			return err
		}
	}

	b.log.Info("take",
		zap.String("taker", taker.Hex()),
		zap.Int64("pool", p.ID),
		zap.String("quantity", wad.Format(quantity)),
	)
	return nil
}

// deleverage repays the maker's own positions out of redemption proceeds,
// oldest position slot first, and returns the unspent residue.
func (b *Book) deleverage(maker common.Address, proceeds *big.Int) *big.Int {
	remaining := new(big.Int).Set(proceeds)
	u, ok := b.users[maker]
	if !ok {
		return remaining
	}
	for _, id := range u.Positions {
		if remaining.Sign() == 0 {
			break
		}
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

		pay := new(big.Int).Set(minBig(remaining, pos.BorrowedAssets))
		pos.BorrowedAssets.Sub(pos.BorrowedAssets, pay)
		b.subSaturating(p.Borrows, pay, "deleverage-pool-borrows")
		remaining.Sub(remaining, pay)
	}
	return remaining
}

// repost merges redeemed liquidity into the maker's replacement order on
// the paired tick, creating one when needed. A take must never fail on a
// third party's account shape: when the maker's order slots are full or the
// paired tick was colonized by the opposite side, the proceeds are pushed to
// the maker's wallet instead.
func (b *Book) repost(maker common.Address, poolID, pairedPoolID int64, isBuy bool, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	fallback := func() {
		if err := b.ledgerFor(isBuy).Push(maker, amount); err != nil {
			b.log.Error("repost fallback payout failed",
				zap.Error(err),
				zap.String("maker", maker.Hex()),
				zap.String("amount", wad.Format(amount)),
			)
		}
	}

	np, err := b.ensurePool(poolID)
	if err != nil {
		fallback()
		return
	}
	if s := b.side(np); s != SideNone && (s == SideBuy) != isBuy {
		fallback()
		return
	}
	b.accrue(np)

	if ex := b.findUserOrder(maker, poolID, pairedPoolID, isBuy); ex != nil {
		b.applyToOrder(np, ex)
		ex.Quantity.Add(ex.Quantity, amount)
	} else {
		u := b.user(maker)
		ids, idx := freeSlot(u.Orders, b.cfg.MaxOrdersPerUser, func(id uint64) bool {
			return !b.orders[id].live()
		})
		if idx < 0 {
			fallback()
			return
		}
		orderID := b.nextOrderID
		b.nextOrderID++
		o := &Order{
			ID:           orderID,
			PoolID:       poolID,
			PairedPoolID: pairedPoolID,
			Maker:        maker,
			Quantity:     new(big.Int).Set(amount),
			IsBuyOrder:   isBuy,
			AccSnapshot:  new(big.Int).Set(np.DepositAccumulator),
		}
		b.orders[orderID] = o
		ids[idx] = orderID
		u.Orders = ids
		np.orders.push(orderID)
	}
	np.Deposits.Add(np.Deposits, amount)
}
