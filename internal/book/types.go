package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side classifies a pool by the asset its live orders deposit.
type Side int

const (
	// SideNone marks a pool with no live orders; its asset side is not yet
	// determined.
	SideNone Side = iota
	// SideBuy pools hold quote-denominated buy orders and are borrowable.
	SideBuy
	// SideSell pools hold base-denominated sell orders and serve as
	// collateral only.
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// slotTable is an append-only index-addressed table. Slots are written at
// top and never reused; bottom advances lazily past rows whose referenced
// entry has died. External ids may still point at vacated rows, so indexes
// are never compacted mid-scan.
type slotTable struct {
	entries map[uint64]uint64
	top     uint64
	bottom  uint64
}

func newSlotTable() slotTable {
	return slotTable{entries: make(map[uint64]uint64)}
}

func (t *slotTable) push(id uint64) uint64 {
	slot := t.top
	t.entries[slot] = id
	t.top++
	return slot
}

// Pool aggregates the liquidity resting at one price tick.
type Pool struct {
	ID         int64
	LimitPrice *big.Int

	// Deposits and Borrows are pool-wide aggregates in the pool's native
	// asset, inflated in lockstep by accrual.
	Deposits *big.Int
	Borrows  *big.Int

	// LastAccrual is the unix second the accumulators were last advanced to.
	LastAccrual int64
	// BorrowAccumulator is time-weighted and applied to positions.
	BorrowAccumulator *big.Int
	// DepositAccumulator is time- and utilization-weighted and applied to
	// orders.
	DepositAccumulator *big.Int

	orders    slotTable
	positions slotTable
}

// Order is one maker's resting limit deposit.
type Order struct {
	ID           uint64
	PoolID       int64
	PairedPoolID int64
	Maker        common.Address
	Quantity     *big.Int
	IsBuyOrder   bool
	// AccSnapshot is the pool's deposit accumulator at the order's last
	// touch; interest since then is still unapplied.
	AccSnapshot *big.Int
}

func (o *Order) live() bool {
	return o != nil && o.Quantity != nil && o.Quantity.Sign() > 0
}

// Position is one borrower's draw against a pool's liquidity.
type Position struct {
	ID             uint64
	PoolID         int64
	Borrower       common.Address
	BorrowedAssets *big.Int
	// AccSnapshot is the pool's borrow accumulator at the position's last
	// touch.
	AccSnapshot *big.Int
}

func (p *Position) live() bool {
	return p != nil && p.BorrowedAssets != nil && p.BorrowedAssets.Sign() > 0
}

// User indexes the orders and positions one address owns. Slots are bounded
// by configuration, reused when dead, never compacted.
type User struct {
	Orders    []uint64
	Positions []uint64
}
