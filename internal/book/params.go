package book

import (
	"fmt"
	"math/big"

	"lendbook/internal/wad"
)

// SecondsPerYear converts yearly WAD rates to per-second accrual deltas.
const SecondsPerYear = 31_536_000

// Params groups the protocol constants. Rates, ratios and prices are
// WAD-scaled; quantities derived from them stay WAD end to end.
type Params struct {
	// BaseRate is the yearly borrow rate floor.
	BaseRate *big.Int
	// RateSlope scales the utilization-responsive part of the borrow rate.
	RateSlope *big.Int
	// MaxLTV caps borrowed value against posted collateral.
	MaxLTV *big.Int
	// LiquidationFee is the markup seized on top of canceled debt in the
	// maker-triggered liquidation path.
	LiquidationFee *big.Int
	// InitialPrice is the limit price at tick zero.
	InitialPrice *big.Int
	// PriceStep is the geometric ratio between adjacent ticks, > 1.
	PriceStep *big.Int
	// MinPoolID and MaxPoolID bound the tick grid.
	MinPoolID int64
	MaxPoolID int64
	// MinDepositQuote and MinDepositBase gate brand-new orders only;
	// top-ups of live orders are exempt.
	MinDepositQuote *big.Int
	MinDepositBase  *big.Int
	// MaxOrdersPerUser and MaxPositionsPerUser bound the per-user index
	// scans used for collateral computation.
	MaxOrdersPerUser    int
	MaxPositionsPerUser int
	// MinLiquidationRounds keeps a take from stopping after one oversized
	// position when smaller eligible ones remain.
	MinLiquidationRounds int
	// MaxLiquidationOps bounds one take's scan over a pool's position slots.
	MaxLiquidationOps int
}

// DefaultParams mirrors the reference deployment: 2% base rate, utilization
// slope up to 10%, 99% max LTV, 2% liquidation fee, 10% tick spacing.
func DefaultParams() Params {
	return Params{
		BaseRate:             wadFromFloat(0.02),
		RateSlope:            wadFromFloat(0.08),
		MaxLTV:               wadFromFloat(0.99),
		LiquidationFee:       wadFromFloat(0.02),
		InitialPrice:         wadFromInt(100),
		PriceStep:            wadFromFloat(1.1),
		MinPoolID:            -50,
		MaxPoolID:            50,
		MinDepositQuote:      wadFromInt(100),
		MinDepositBase:       wadFromInt(2),
		MaxOrdersPerUser:     8,
		MaxPositionsPerUser:  5,
		MinLiquidationRounds: 3,
		MaxLiquidationOps:    64,
	}
}

// Validate rejects parameter sets the engine cannot operate on.
func (p Params) Validate() error {
	switch {
	case p.BaseRate == nil || p.BaseRate.Sign() < 0:
		return fmt.Errorf("base rate must be non-negative")
	case p.RateSlope == nil || p.RateSlope.Sign() < 0:
		return fmt.Errorf("rate slope must be non-negative")
	case p.MaxLTV == nil || p.MaxLTV.Sign() <= 0 || p.MaxLTV.Cmp(wad.One) > 0:
		return fmt.Errorf("max ltv must be in (0, 1]")
	case p.LiquidationFee == nil || p.LiquidationFee.Sign() < 0:
		return fmt.Errorf("liquidation fee must be non-negative")
	case p.InitialPrice == nil || p.InitialPrice.Sign() <= 0:
		return fmt.Errorf("initial price must be positive")
	case p.PriceStep == nil || p.PriceStep.Cmp(wad.One) <= 0:
		return fmt.Errorf("price step must exceed 1")
	case p.MinPoolID > p.MaxPoolID:
		return fmt.Errorf("pool id range is inverted")
	case p.MaxOrdersPerUser <= 0 || p.MaxPositionsPerUser <= 0:
		return fmt.Errorf("per-user caps must be positive")
	case p.MinLiquidationRounds < 0 || p.MaxLiquidationOps <= 0:
		return fmt.Errorf("liquidation scan bounds are invalid")
	}
	return nil
}

func wadFromInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), wad.One)
}

func wadFromFloat(v float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), new(big.Float).SetInt(wad.One))
	out, _ := scaled.Int(nil)
	return out
}
