package book

import (
	"errors"
	"math/big"
	"testing"
)

// TestTakeQuoteWithForcedLiquidation walks the full settlement: Carol takes
// 500 quote from the tick-0 pool after the oracle drops to 95. Utilization is
// 0.5, so at least 500 of debt must unwind; liquidation is total per
// position, so Bob's whole 1000 goes. Bob loses 10 base of collateral at the
// pool price, Alice's order shrinks by the canceled debt plus Carol's demand,
// and the redeemed value flips to a sell order on Alice's paired tick.
func TestTakeQuoteWithForcedLiquidation(t *testing.T) {
	f, aliceOrder, bobOrder, bobPosition := standardBook(t)
	f.fund(carol, 0, 10)
	f.feed.Set(wadFromInt(95))

	if err := f.book.Take(carol, 0, wadFromInt(500)); err != nil {
		t.Fatalf("take: %v", err)
	}

	pos, err := f.book.Position(bobPosition)
	if err != nil {
		t.Fatalf("position view: %v", err)
	}
	if pos.BorrowedAssets != "0" {
		t.Fatalf("bob debt after take = %s, want 0", pos.BorrowedAssets)
	}

	o, err := f.book.Order(aliceOrder)
	if err != nil {
		t.Fatalf("alice order view: %v", err)
	}
	if o.Quantity != wadFromInt(500).String() {
		t.Fatalf("alice order = %s, want 500 WAD (2000 - 1000 debt - 500 take)", o.Quantity)
	}

	bo, err := f.book.Order(bobOrder)
	if err != nil {
		t.Fatalf("bob order view: %v", err)
	}
	if bo.Quantity != wadFromInt(20).String() {
		t.Fatalf("bob collateral order = %s, want 20 WAD after 10 seized", bo.Quantity)
	}

	// Alice's 1500 of redeemed quote converts to 15 base on her paired tick.
	view := f.book.User(alice)
	if len(view.Orders) != 2 {
		t.Fatalf("alice live orders = %d, want 2", len(view.Orders))
	}
	var repost OrderView
	for _, id := range view.Orders {
		if id == aliceOrder {
			continue
		}
		repost, err = f.book.Order(id)
		if err != nil {
			t.Fatalf("repost view: %v", err)
		}
	}
	if repost.IsBuyOrder || repost.PoolID != 1 {
		t.Fatalf("repost = %+v, want sell order at tick 1", repost)
	}
	if repost.Quantity != wadFromInt(15).String() {
		t.Fatalf("repost quantity = %s, want 15 WAD", repost.Quantity)
	}

	pool0, err := f.book.Pool(0)
	if err != nil {
		t.Fatalf("pool 0 view: %v", err)
	}
	if pool0.Deposits != wadFromInt(500).String() || pool0.Borrows != "0" {
		t.Fatalf("pool 0 = deposits %s borrows %s, want 500 / 0", pool0.Deposits, pool0.Borrows)
	}
	pool1, err := f.book.Pool(1)
	if err != nil {
		t.Fatalf("pool 1 view: %v", err)
	}
	if pool1.Deposits != wadFromInt(35).String() {
		t.Fatalf("pool 1 deposits = %s, want 35 WAD (30 - 10 seized + 15 repost)", pool1.Deposits)
	}

	// Carol paid 5 base for 500 quote at the pool price of 100.
	if got := f.base.BalanceOf(carol); got.Cmp(wadFromInt(5)) != 0 {
		t.Fatalf("carol base = %s, want 5 WAD", got)
	}
	if got := f.quote.BalanceOf(carol); got.Cmp(wadFromInt(500)) != 0 {
		t.Fatalf("carol quote = %s, want 500 WAD", got)
	}

	// Per-asset conservation: engine holdings match live book totals.
	if got := f.quote.Held(); got.Cmp(wadFromInt(500)) != 0 {
		t.Fatalf("quote held = %s, want 500 WAD", got)
	}
	if got := f.base.Held(); got.Cmp(wadFromInt(35)) != 0 {
		t.Fatalf("base held = %s, want 35 WAD", got)
	}
}

func TestTakeZeroQuantityRunsLiquidation(t *testing.T) {
	f, aliceOrder, bobOrder, bobPosition := standardBook(t)
	f.feed.Set(wadFromInt(95))

	if err := f.book.Take(carol, 0, big.NewInt(0)); err != nil {
		t.Fatalf("zero take: %v", err)
	}

	// No transfer for the taker, but the underwater position is gone and the
	// canceled debt was worked off against Alice's order.
	if got := f.quote.BalanceOf(carol); got.Sign() != 0 {
		t.Fatalf("carol quote = %s, want 0", got)
	}
	pos, err := f.book.Position(bobPosition)
	if err != nil {
		t.Fatalf("position view: %v", err)
	}
	if pos.BorrowedAssets != "0" {
		t.Fatalf("bob debt = %s, want 0", pos.BorrowedAssets)
	}
	o, err := f.book.Order(aliceOrder)
	if err != nil {
		t.Fatalf("alice order view: %v", err)
	}
	if o.Quantity != wadFromInt(1000).String() {
		t.Fatalf("alice order = %s, want 1000 WAD", o.Quantity)
	}
	bo, err := f.book.Order(bobOrder)
	if err != nil {
		t.Fatalf("bob order view: %v", err)
	}
	if bo.Quantity != wadFromInt(20).String() {
		t.Fatalf("bob collateral order = %s, want 20 WAD", bo.Quantity)
	}
	pool1, err := f.book.Pool(1)
	if err != nil {
		t.Fatalf("pool 1 view: %v", err)
	}
	if pool1.Deposits != wadFromInt(30).String() {
		t.Fatalf("pool 1 deposits = %s, want 30 WAD (10 seized, 10 reposted)", pool1.Deposits)
	}
}

func TestTakeBaseDeleveragesMaker(t *testing.T) {
	f, _, bobOrder, bobPosition := standardBook(t)
	f.fund(carol, 2000, 0)
	f.feed.Set(wadFromInt(120))

	if err := f.book.Take(carol, 1, wadFromInt(10)); err != nil {
		t.Fatalf("take base: %v", err)
	}

	// Carol got her 10 base; the quote she paid first repaid Bob's debt.
	if got := f.base.BalanceOf(carol); got.Cmp(wadFromInt(10)) != 0 {
		t.Fatalf("carol base = %s, want 10 WAD", got)
	}
	pos, err := f.book.Position(bobPosition)
	if err != nil {
		t.Fatalf("position view: %v", err)
	}
	if pos.BorrowedAssets != "0" {
		t.Fatalf("bob debt = %s, want 0", pos.BorrowedAssets)
	}
	bo, err := f.book.Order(bobOrder)
	if err != nil {
		t.Fatalf("bob order view: %v", err)
	}
	if bo.Quantity != wadFromInt(20).String() {
		t.Fatalf("bob sell order = %s, want 20 WAD", bo.Quantity)
	}

	// The residue above Bob's 1000 debt reposts as a buy order on his paired
	// tick. 10 base at ~110 is ~1100 quote, so about 100 remains.
	view := f.book.User(bob)
	var repost *OrderView
	for _, id := range view.Orders {
		o, err := f.book.Order(id)
		if err != nil {
			t.Fatalf("order view: %v", err)
		}
		if o.IsBuyOrder {
			repost = &o
		}
	}
	if repost == nil {
		t.Fatalf("no buy repost for bob, orders: %v", view.Orders)
	}
	if repost.PoolID != 0 {
		t.Fatalf("repost pool = %d, want 0", repost.PoolID)
	}
	rq, ok := new(big.Int).SetString(repost.Quantity, 10)
	if !ok {
		t.Fatalf("bad repost quantity %q", repost.Quantity)
	}
	between(t, "bob repost", rq, 99.99, 100.01)

	pool0, err := f.book.Pool(0)
	if err != nil {
		t.Fatalf("pool 0 view: %v", err)
	}
	if pool0.Borrows != "0" {
		t.Fatalf("pool 0 borrows = %s, want 0", pool0.Borrows)
	}
	// Engine quote holdings still cover every live deposit.
	deposits0, _ := new(big.Int).SetString(pool0.Deposits, 10)
	if f.quote.Held().Cmp(deposits0) < 0 {
		t.Fatalf("quote held %s below pool deposits %s", f.quote.Held(), pool0.Deposits)
	}
	if got := f.base.Held(); got.Cmp(wadFromInt(20)) != 0 {
		t.Fatalf("base held = %s, want 20 WAD", got)
	}
}

func TestTakeNotProfitable(t *testing.T) {
	f, _, _, _ := standardBook(t)
	f.fund(carol, 0, 10)

	// Oracle sits exactly on the limit price; the crossing must be strict.
	if err := f.book.Take(carol, 0, wadFromInt(100)); !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("take at par: %v", err)
	}
	if err := f.book.Take(carol, 1, wadFromInt(5)); !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("take sell pool below limit: %v", err)
	}
}

func TestTakeBounds(t *testing.T) {
	f, _, _, _ := standardBook(t)
	f.fund(carol, 0, 50)
	f.feed.Set(wadFromInt(95))

	if err := f.book.Take(carol, 99, wadFromInt(10)); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("unknown pool: %v", err)
	}
	if err := f.book.Take(carol, 0, big.NewInt(-1)); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("negative quantity: %v", err)
	}
	// Only 1000 of the 2000 pool is unborrowed.
	if err := f.book.Take(carol, 0, wadFromInt(1500)); !errors.Is(err, ErrTakeTooMuch) {
		t.Fatalf("take over available: %v", err)
	}
}

func TestTakeFullyUtilizedPool(t *testing.T) {
	f, _, _, _ := standardBook(t)
	f.fund(carol, 0, 50)

	// Bob drains the rest of the pool; utilization hits 1.
	f.borrow(bob, 0, 1000)
	f.feed.Set(wadFromInt(95))

	if err := f.book.Take(carol, 0, wadFromInt(100)); !errors.Is(err, ErrNoFreeLiquidity) {
		t.Fatalf("take at full utilization: %v", err)
	}
	// The liquidation-only form still goes through.
	if err := f.book.Take(carol, 0, big.NewInt(0)); err != nil {
		t.Fatalf("zero take at full utilization: %v", err)
	}
}

func TestTakeEmptyPool(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.fund(alice, 2000, 0)
	orderID := f.deposit(alice, 0, 1, 2000, true)
	if err := f.book.Withdraw(alice, orderID, wadFromInt(2000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if err := f.book.Take(carol, 0, big.NewInt(0)); err != nil {
		t.Fatalf("zero take on empty pool: %v", err)
	}
	if err := f.book.Take(carol, 0, wadFromInt(1)); !errors.Is(err, ErrTakeTooMuch) {
		t.Fatalf("take on empty pool: %v", err)
	}
}
