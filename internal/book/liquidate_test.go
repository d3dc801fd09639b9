package book

import (
	"errors"
	"math/big"
	"testing"
)

// thinCollateralBook sets up a position that interest alone will tip under
// water: Bob backs a 1000 quote borrow with just 11 base, leaving less than
// 1 base of headroom at maxLTV 0.99.
func thinCollateralBook(t *testing.T) (*fixture, uint64) {
	f := newFixture(t, DefaultParams())
	f.fund(alice, 5000, 0)
	f.fund(bob, 0, 11)
	f.deposit(alice, 0, 1, 2000, true)
	f.deposit(bob, 1, 0, 11, false)
	position := f.borrow(bob, 0, 1000)
	return f, position
}

func TestLiquidateRequiresShortfall(t *testing.T) {
	f, position := thinCollateralBook(t)
	f.fund(carol, 2000, 0)

	// Solvent position, oracle at par: nothing to liquidate.
	if _, err := f.book.Liquidate(carol, position); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("solvent liquidate: %v", err)
	}
	if got := f.book.ExcessCollateral(bob); got.Sign() <= 0 {
		t.Fatalf("excess collateral = %s, want > 0", got)
	}
}

func TestLiquidateAfterInterestShortfall(t *testing.T) {
	f, position := thinCollateralBook(t)
	f.fund(carol, 2000, 0)

	// Two years at ~6% lifts the debt past what 11 base at 0.99 LTV covers.
	f.advance(2 * SecondsPerYear)
	if got := f.book.ExcessCollateral(bob); got.Sign() >= 0 {
		t.Fatalf("excess collateral = %s, want < 0 after accrual", got)
	}

	seized, err := f.book.Liquidate(carol, position)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// The fee-marked claim exceeds Bob's 11 base, so seizure is partial and
	// takes everything he has.
	if seized.Cmp(wadFromInt(11)) != 0 {
		t.Fatalf("seized = %s, want all 11 WAD", seized)
	}
	if got := f.base.BalanceOf(carol); got.Cmp(wadFromInt(11)) != 0 {
		t.Fatalf("carol base = %s, want 11 WAD", got)
	}
	// Carol repaid the accrued debt, a bit over the 1000 principal.
	paid := new(big.Int).Sub(wadFromInt(2000), f.quote.BalanceOf(carol))
	between(t, "repaid debt", paid, 1127.0, 1128.0)

	pos, viewErr := f.book.Position(position)
	if viewErr != nil {
		t.Fatalf("position view: %v", viewErr)
	}
	if pos.BorrowedAssets != "0" {
		t.Fatalf("debt after liquidation = %s, want 0", pos.BorrowedAssets)
	}
	pool, viewErr := f.book.Pool(0)
	if viewErr != nil {
		t.Fatalf("pool view: %v", viewErr)
	}
	if pool.Borrows != "0" {
		t.Fatalf("pool borrows = %s, want 0", pool.Borrows)
	}

	// A closed position cannot be liquidated again.
	if _, err := f.book.Liquidate(carol, position); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("double liquidate: %v", err)
	}
}

func TestLiquidateRoutesToTakeWhenPoolProfitable(t *testing.T) {
	f, position := thinCollateralBook(t)
	f.fund(carol, 2000, 0)
	f.advance(2 * SecondsPerYear)

	// Oracle below the pool's limit price: the pool is takeable, and direct
	// liquidation steps aside even though the position is under water.
	f.feed.Set(wadFromInt(95))
	if _, err := f.book.Liquidate(carol, position); !errors.Is(err, ErrPoolTakeable) {
		t.Fatalf("liquidate on takeable pool: %v", err)
	}

	f.feed.Set(wadFromInt(100))
	if _, err := f.book.Liquidate(carol, position); err != nil {
		t.Fatalf("liquidate once oracle recovers: %v", err)
	}
}

func TestLiquidateUnknownPosition(t *testing.T) {
	f := newFixture(t, DefaultParams())
	if _, err := f.book.Liquidate(carol, 42); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("unknown position: %v", err)
	}
}
