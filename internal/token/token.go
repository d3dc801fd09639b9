// Package token models the engine's view of a fungible token: pull funds
// from a user into the engine, push funds from the engine back out. The real
// transfer mechanism is an external collaborator; the in-memory Bank here
// implements the same surface with balances and allowances so the engine and
// its tests can account for every unit that crosses the boundary.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Ledger is the transfer surface the engine consumes.
type Ledger interface {
	// Pull debits amount from the holder's balance and allowance into the
	// engine's holdings.
	Pull(from common.Address, amount *big.Int) error
	// Push credits amount from the engine's holdings to the recipient.
	Push(to common.Address, amount *big.Int) error
}

// Bank is an in-memory Ledger for one asset.
type Bank struct {
	mu         sync.Mutex
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	held       *big.Int
}

func NewBank(symbol string) *Bank {
	return &Bank{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		held:       big.NewInt(0),
	}
}

// Symbol reports the asset symbol the bank was created with.
func (b *Bank) Symbol() string { return b.symbol }

// Mint credits a holder out of thin air. Test and faucet use only.
func (b *Bank) Mint(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[holder] = new(big.Int).Add(b.balance(holder), amount)
	return nil
}

// Approve grants the engine spending rights over the holder's balance.
func (b *Bank) Approve(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[holder] = new(big.Int).Set(amount)
	return nil
}

func (b *Bank) Pull(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	balance := b.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	allowance := b.allowance(from)
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	b.balances[from] = new(big.Int).Sub(balance, amount)
	b.allowances[from] = new(big.Int).Sub(allowance, amount)
	b.held = new(big.Int).Add(b.held, amount)
	return nil
}

func (b *Bank) Push(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.held.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.held = new(big.Int).Sub(b.held, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

// BalanceOf reports a holder's free balance.
func (b *Bank) BalanceOf(holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(holder))
}

// Allowance reports the engine's remaining spending rights for a holder.
func (b *Bank) Allowance(holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowance(holder))
}

// Held reports the engine's current holdings of this asset.
func (b *Bank) Held() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.held)
}

func (b *Bank) balance(holder common.Address) *big.Int {
	if v, ok := b.balances[holder]; ok {
		return v
	}
	return big.NewInt(0)
}

func (b *Bank) allowance(holder common.Address) *big.Int {
	if v, ok := b.allowances[holder]; ok {
		return v
	}
	return big.NewInt(0)
}
