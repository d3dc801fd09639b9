package book

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// PoolView is a copy of a pool's accounting state for the API and the
// snapshot store. Amounts are WAD decimal strings.
type PoolView struct {
	ID                 int64  `json:"id"`
	Side               string `json:"side"`
	LimitPrice         string `json:"limit_price"`
	Deposits           string `json:"deposits"`
	Borrows            string `json:"borrows"`
	BorrowAccumulator  string `json:"borrow_accumulator"`
	DepositAccumulator string `json:"deposit_accumulator"`
	LastAccrual        int64  `json:"last_accrual"`
}

type OrderView struct {
	ID           uint64 `json:"id"`
	PoolID       int64  `json:"pool_id"`
	PairedPoolID int64  `json:"paired_pool_id"`
	Maker        string `json:"maker"`
	Quantity     string `json:"quantity"`
	IsBuyOrder   bool   `json:"is_buy_order"`
}

type PositionView struct {
	ID             uint64 `json:"id"`
	PoolID         int64  `json:"pool_id"`
	Borrower       string `json:"borrower"`
	BorrowedAssets string `json:"borrowed_assets"`
}

type UserView struct {
	Address          string   `json:"address"`
	Orders           []uint64 `json:"orders"`
	Positions        []uint64 `json:"positions"`
	ExcessCollateral string   `json:"excess_collateral"`
}

// Pool returns a snapshot of one pool as of its last accrual.
func (b *Book) Pool(id int64) (PoolView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pool(id)
	if err != nil {
		return PoolView{}, err
	}
	return b.poolView(p), nil
}

// Pools returns snapshots of every materialized pool, ordered by tick.
func (b *Book) Pools() []PoolView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PoolView, 0, len(b.pools))
	for _, p := range b.pools {
		out = append(out, b.poolView(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Book) poolView(p *Pool) PoolView {
	return PoolView{
		ID:                 p.ID,
		Side:               b.side(p).String(),
		LimitPrice:         p.LimitPrice.String(),
		Deposits:           p.Deposits.String(),
		Borrows:            p.Borrows.String(),
		BorrowAccumulator:  p.BorrowAccumulator.String(),
		DepositAccumulator: p.DepositAccumulator.String(),
		LastAccrual:        p.LastAccrual,
	}
}

// Orders returns every live order, id-ordered. Snapshot store use.
func (b *Book) Orders() []OrderView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OrderView, 0, len(b.orders))
	for _, o := range b.orders {
		if !o.live() {
			continue
		}
		out = append(out, OrderView{
			ID:           o.ID,
			PoolID:       o.PoolID,
			PairedPoolID: o.PairedPoolID,
			Maker:        o.Maker.Hex(),
			Quantity:     o.Quantity.String(),
			IsBuyOrder:   o.IsBuyOrder,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Positions returns every live position, id-ordered. Snapshot store use.
func (b *Book) Positions() []PositionView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PositionView, 0, len(b.positions))
	for _, pos := range b.positions {
		if !pos.live() {
			continue
		}
		out = append(out, PositionView{
			ID:             pos.ID,
			PoolID:         pos.PoolID,
			Borrower:       pos.Borrower.Hex(),
			BorrowedAssets: pos.BorrowedAssets.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Order returns a snapshot of one order.
func (b *Book) Order(id uint64) (OrderView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return OrderView{}, ErrUnknownOrder
	}
	return OrderView{
		ID:           o.ID,
		PoolID:       o.PoolID,
		PairedPoolID: o.PairedPoolID,
		Maker:        o.Maker.Hex(),
		Quantity:     o.Quantity.String(),
		IsBuyOrder:   o.IsBuyOrder,
	}, nil
}

// Position returns a snapshot of one position.
func (b *Book) Position(id uint64) (PositionView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[id]
	if !ok {
		return PositionView{}, ErrUnknownPosition
	}
	return PositionView{
		ID:             pos.ID,
		PoolID:         pos.PoolID,
		Borrower:       pos.Borrower.Hex(),
		BorrowedAssets: pos.BorrowedAssets.String(),
	}, nil
}

// User returns the caller's index together with its solvency figure. The
// solvency scan accrues the pools it touches, so the figure is current.
func (b *Book) User(addr common.Address) UserView {
	b.mu.Lock()
	defer b.mu.Unlock()
	view := UserView{Address: addr.Hex(), Orders: []uint64{}, Positions: []uint64{}}
	if u, ok := b.users[addr]; ok {
		for _, id := range u.Orders {
			if b.orders[id].live() {
				view.Orders = append(view.Orders, id)
			}
		}
		for _, id := range u.Positions {
			if b.positions[id].live() {
				view.Positions = append(view.Positions, id)
			}
		}
	}
	view.ExcessCollateral = b.excessCollateral(addr, nil).String()
	return view
}
