package book

import "errors"

// One sentinel per distinct check so callers can tell which constraint
// rejected a call.
var (
	ErrInvalidQuantity        = errors.New("book: quantity must be positive")
	ErrUnknownPool            = errors.New("book: pool does not exist")
	ErrPoolOutOfRange         = errors.New("book: pool id outside configured tick range")
	ErrUnknownOrder           = errors.New("book: order does not exist or is closed")
	ErrUnknownPosition        = errors.New("book: position does not exist or is closed")
	ErrNotOwner               = errors.New("book: caller does not own this entry")
	ErrBelowMinDeposit        = errors.New("book: deposit below minimum for a new order")
	ErrTooManyOrders          = errors.New("book: order slots exhausted for user")
	ErrTooManyPositions       = errors.New("book: position slots exhausted for user")
	ErrPriceOrdering          = errors.New("book: limit and paired prices are not ordered for this side")
	ErrPoolSideMismatch       = errors.New("book: pool already holds orders of the opposite side")
	ErrNotBorrowable          = errors.New("book: pool is not on the borrowable side")
	ErrInsufficientCollateral = errors.New("book: insufficient excess collateral")
	ErrWithdrawTooMuch        = errors.New("book: withdraw exceeds order quantity")
	ErrWithdrawNonAvailable   = errors.New("book: withdraw exceeds pool's unborrowed liquidity")
	ErrBorrowTooMuch          = errors.New("book: borrow exceeds pool's unborrowed liquidity")
	ErrRepayTooMuch           = errors.New("book: repay exceeds outstanding debt")
	ErrTakeTooMuch            = errors.New("book: take exceeds pool's unborrowed liquidity")
	ErrNoFreeLiquidity        = errors.New("book: pool is fully utilized, nothing can be taken")
	ErrNotProfitable          = errors.New("book: oracle price has not crossed the pool's limit price")
	ErrPoolTakeable           = errors.New("book: pool is profitable to take, liquidate through take")
	ErrNotLiquidatable        = errors.New("book: borrower still has positive excess collateral")
)
