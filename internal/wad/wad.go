// Package wad implements fixed-point arithmetic on 1e18-scaled integers with
// explicit rounding direction. All rate and ratio math in the engine goes
// through this package so rounding bias is always protocol-favorable.
package wad

import "math/big"

// One is the WAD unit, 1e18.
var One = big.NewInt(1_000_000_000_000_000_000)

var (
	two = big.NewInt(2)
	six = big.NewInt(6)
)

// MulDown returns a*b/1e18 rounded toward zero.
func MulDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, One)
}

// MulUp returns a*b/1e18 rounded away from zero.
func MulUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return ceilQuo(out, One)
}

// DivDown returns a*1e18/b rounded toward zero.
func DivDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, One)
	return out.Quo(out, b)
}

// DivUp returns a*1e18/b rounded away from zero.
func DivUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, One)
	return ceilQuo(out, b)
}

func ceilQuo(num, den *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// CompoundUp approximates e^x - 1 for a WAD-scaled x using the third-order
// Taylor expansion x + x^2/2 + x^3/6, rounding every division up. Used for
// borrower-owed interest so debt is never under-charged.
func CompoundUp(x *big.Int) *big.Int {
	return compound(x, true)
}

// CompoundDown is CompoundUp with every division rounded down. Used for
// depositor-earned interest so the pool never over-pays lenders.
func CompoundDown(x *big.Int) *big.Int {
	return compound(x, false)
}

func compound(x *big.Int, up bool) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	mul := MulDown
	quo := func(a, b *big.Int) *big.Int { return new(big.Int).Quo(a, b) }
	if up {
		mul = MulUp
		quo = ceilQuo
	}
	sq := mul(x, x)
	cu := mul(sq, x)
	out := new(big.Int).Set(x)
	out.Add(out, quo(sq, two))
	out.Add(out, quo(cu, six))
	return out
}

// PriceAt maps a signed tick index onto a geometric price grid:
// initial * step^tick, WAD-scaled. Negative ticks divide. Intermediate
// rounding is downward; tick magnitudes are bounded by configuration so the
// drift stays below one unit of the smallest representable price.
func PriceAt(initial, step *big.Int, tick int64) *big.Int {
	if initial == nil || initial.Sign() <= 0 || step == nil || step.Sign() <= 0 {
		return big.NewInt(0)
	}
	price := new(big.Int).Set(initial)
	n := tick
	if n < 0 {
		n = -n
	}
	for i := int64(0); i < n; i++ {
		if tick > 0 {
			price = MulDown(price, step)
		} else {
			price = DivDown(price, step)
		}
		if price.Sign() == 0 {
			return big.NewInt(0)
		}
	}
	return price
}

// Format renders a WAD value as a fixed 18-decimal string.
func Format(value *big.Int) string {
	if value == nil {
		return "0"
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, One)
	text := rat.FloatString(18)
	if sign < 0 {
		return "-" + text
	}
	return text
}
