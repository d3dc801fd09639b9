// Package book implements the unified limit-order-book and lending ledger:
// price-tick pools, maker orders doubling as lendable liquidity, borrowing
// positions collateralized by the opposite side of the book, lazy interest
// accrual, and the take/liquidate settlement paths.
package book

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lendbook/internal/oracle"
	"lendbook/internal/token"
	"lendbook/internal/wad"
)

// Event is the journal record emitted after every successful mutating call.
type Event struct {
	Op         string `json:"op"`
	Actor      string `json:"actor"`
	PoolID     int64  `json:"pool_id,omitempty"`
	OrderID    uint64 `json:"order_id,omitempty"`
	PositionID uint64 `json:"position_id,omitempty"`
	Quantity   string `json:"quantity,omitempty"`
	Timestamp  int64  `json:"ts"`
}

// Recorder receives events; failures are the recorder's problem, not the
// ledger's.
type Recorder interface {
	Record(Event)
}

// Book owns every ledger. All public operations serialize behind one mutex:
// a take scans and mutates an entire pool's slot tables as a single logical
// unit, so finer locking buys nothing but risk.
type Book struct {
	mu sync.Mutex

	cfg    Params
	quote  token.Ledger
	base   token.Ledger
	oracle oracle.PriceSource
	log    *zap.Logger
	now    func() int64

	pools     map[int64]*Pool
	orders    map[uint64]*Order
	positions map[uint64]*Position
	users     map[common.Address]*User

	nextOrderID    uint64
	nextPositionID uint64

	recorder Recorder
}

// New wires a Book to its two token ledgers and the price feed.
func New(cfg Params, quote, base token.Ledger, feed oracle.PriceSource, log *zap.Logger) (*Book, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{
		cfg:            cfg,
		quote:          quote,
		base:           base,
		oracle:         feed,
		log:            log,
		now:            func() int64 { return time.Now().Unix() },
		pools:          make(map[int64]*Pool),
		orders:         make(map[uint64]*Order),
		positions:      make(map[uint64]*Position),
		users:          make(map[common.Address]*User),
		nextOrderID:    1,
		nextPositionID: 1,
	}, nil
}

// SetClock replaces the time source. Test hook.
func (b *Book) SetClock(now func() int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetRecorder attaches an event sink.
func (b *Book) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// Params returns the protocol constants the book runs with.
func (b *Book) Params() Params { return b.cfg }

func (b *Book) record(ev Event) {
	if b.recorder == nil {
		return
	}
	ev.Timestamp = b.now()
	b.recorder.Record(ev)
}

func (b *Book) poolInRange(id int64) bool {
	return id >= b.cfg.MinPoolID && id <= b.cfg.MaxPoolID
}

// ensurePool returns the pool at a tick, creating it on first use.
func (b *Book) ensurePool(id int64) (*Pool, error) {
	if !b.poolInRange(id) {
		return nil, ErrPoolOutOfRange
	}
	if p, ok := b.pools[id]; ok {
		return p, nil
	}
	p := &Pool{
		ID:                 id,
		LimitPrice:         wad.PriceAt(b.cfg.InitialPrice, b.cfg.PriceStep, id),
		Deposits:           big.NewInt(0),
		Borrows:            big.NewInt(0),
		LastAccrual:        b.now(),
		BorrowAccumulator:  big.NewInt(0),
		DepositAccumulator: big.NewInt(0),
		orders:             newSlotTable(),
		positions:          newSlotTable(),
	}
	b.pools[id] = p
	return p, nil
}

func (b *Book) pool(id int64) (*Pool, error) {
	p, ok := b.pools[id]
	if !ok {
		return nil, ErrUnknownPool
	}
	return p, nil
}

// limitPrice reads a tick's price without materializing the pool.
func (b *Book) limitPrice(id int64) *big.Int {
	if p, ok := b.pools[id]; ok {
		return p.LimitPrice
	}
	return wad.PriceAt(b.cfg.InitialPrice, b.cfg.PriceStep, id)
}

// pricesOrdered checks the side-dependent ordering between an order's limit
// tick and its paired tick: buy orders repost above their limit, sell orders
// below.
func (b *Book) pricesOrdered(poolID, pairedID int64, isBuy bool) bool {
	limit := b.limitPrice(poolID)
	paired := b.limitPrice(pairedID)
	if limit.Sign() == 0 || paired.Sign() == 0 {
		return false
	}
	if isBuy {
		return limit.Cmp(paired) < 0
	}
	return limit.Cmp(paired) > 0
}

// liveOrderInPool reports whether a slot entry still belongs to the pool.
// Orders moved to another tick keep their id, so the pool check matters.
func (b *Book) liveOrderInPool(p *Pool, id uint64) *Order {
	o := b.orders[id]
	if o.live() && o.PoolID == p.ID {
		return o
	}
	return nil
}

func (b *Book) livePositionInPool(p *Pool, id uint64) *Position {
	pos := b.positions[id]
	if pos.live() && pos.PoolID == p.ID {
		return pos
	}
	return nil
}

// side determines a pool's asset side by scanning from bottom for the first
// live order, advancing bottom past dead rows on the way.
func (b *Book) side(p *Pool) Side {
	for slot := p.orders.bottom; slot < p.orders.top; slot++ {
		id, ok := p.orders.entries[slot]
		if !ok {
			if slot == p.orders.bottom {
				p.orders.bottom++
			}
			continue
		}
		o := b.liveOrderInPool(p, id)
		if o == nil {
			if slot == p.orders.bottom {
				p.orders.bottom++
			}
			continue
		}
		if o.IsBuyOrder {
			return SideBuy
		}
		return SideSell
	}
	return SideNone
}

// user returns the caller's index, creating it on first touch.
func (b *Book) user(addr common.Address) *User {
	u, ok := b.users[addr]
	if !ok {
		u = &User{}
		b.users[addr] = u
	}
	return u
}

// freeSlot finds a reusable dead slot or appends under the cap; a negative
// return means the cap tripped.
func freeSlot(ids []uint64, limit int, dead func(uint64) bool) ([]uint64, int) {
	for i, id := range ids {
		if id == 0 || dead(id) {
			return ids, i
		}
	}
	if len(ids) < limit {
		return append(ids, 0), len(ids)
	}
	return ids, -1
}

// subChecked subtracts amount from target in place. Failing the bound is a
// genuine logic or input violation, so the caller's error is returned and
// target is left untouched.
func subChecked(target, amount *big.Int, violation error) error {
	if target.Cmp(amount) < 0 {
		return violation
	}
	target.Sub(target, amount)
	return nil
}

// subSaturating subtracts amount from target, clamping at zero. Used only
// where independent interest-accrual paths are allowed to drift by rounding
// slack; the diagnostic code identifies the call site.
func (b *Book) subSaturating(target, amount *big.Int, code string) {
	if target.Cmp(amount) < 0 {
		b.log.Debug("saturating subtraction",
			zap.String("code", code),
			zap.String("target", target.String()),
			zap.String("amount", amount.String()),
		)
		target.SetInt64(0)
		return
	}
	target.Sub(target, amount)
}

// ledgerFor maps an order side to the asset ledger it deposits.
func (b *Book) ledgerFor(isBuy bool) token.Ledger {
	if isBuy {
		return b.quote
	}
	return b.base
}

func minBig(a, x *big.Int) *big.Int {
	if a.Cmp(x) < 0 {
		return a
	}
	return x
}
