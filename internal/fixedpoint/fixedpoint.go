// Package fixedpoint implements WAD (1e18) and RAY (1e27) scaled integer
// arithmetic on math/big values. All helpers return fresh values and never
// mutate their arguments.
package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	WadDecimals = 18
	RayDecimals = 27

	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)
	ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(RayDecimals), nil)
)

// WAD returns 1e18.
func WAD() *big.Int { return new(big.Int).Set(wad) }

// RAY returns 1e27.
func RAY() *big.Int { return new(big.Int).Set(ray) }

// Zero returns a new zero value.
func Zero() *big.Int { return new(big.Int) }

// Clone copies x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool { return x == nil || x.Sign() == 0 }

// IsPositive reports whether x is strictly greater than zero.
func IsPositive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

// MulDiv returns floor(a*b/d). A zero divisor yields zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	if IsZero(d) {
		return new(big.Int)
	}
	n := new(big.Int).Mul(a, b)
	return n.Quo(n, d)
}

// MulDivUp returns ceil(a*b/d) for non-negative operands.
func MulDivUp(a, b, d *big.Int) *big.Int {
	if IsZero(d) {
		return new(big.Int)
	}
	n := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulWad returns a*b/1e18.
func MulWad(a, b *big.Int) *big.Int { return MulDiv(a, b, wad) }

// DivWad returns a*1e18/b.
func DivWad(a, b *big.Int) *big.Int { return MulDiv(a, wad, b) }

// DivWadUp returns ceil(a*1e18/b).
func DivWadUp(a, b *big.Int) *big.Int { return MulDivUp(a, wad, b) }

// MulRay returns a*b/1e27.
func MulRay(a, b *big.Int) *big.Int { return MulDiv(a, b, ray) }

// DivRay returns a*1e27/b.
func DivRay(a, b *big.Int) *big.Int { return MulDiv(a, ray, b) }

// ApplyFraction scales amount by a WAD fraction. It is used to derive
// minimum acceptable outputs from slippage tolerances.
func ApplyFraction(amount, fraction *big.Int) *big.Int {
	return MulWad(amount, fraction)
}

// Sub returns a-b floored at zero.
func Sub(a, b *big.Int) *big.Int {
	r := new(big.Int).Sub(a, b)
	if r.Sign() < 0 {
		return r.SetInt64(0)
	}
	return r
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// InUnitRange reports whether a WAD fraction lies in (0, 1].
func InUnitRange(f *big.Int) bool {
	return IsPositive(f) && f.Cmp(wad) <= 0
}

// FromDecimal converts a human decimal (0.75) to a WAD integer.
func FromDecimal(d decimal.Decimal) *big.Int {
	return d.Shift(WadDecimals).BigInt()
}

// ToDecimal converts a WAD integer back to a human decimal.
func ToDecimal(x *big.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -WadDecimals)
}

// RayToDecimal converts a RAY integer to a human decimal.
func RayToDecimal(x *big.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -RayDecimals)
}

// Units converts a whole-token decimal amount to base units for a token
// with the given decimals.
func Units(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}

// FromUnits converts base units to a decimal for display.
func FromUnits(x *big.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -decimals)
}

// Pow10 returns 10^n.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MustWad parses a decimal string into a WAD. It panics on malformed input
// and is intended for constants and tests.
func MustWad(s string) *big.Int {
	return FromDecimal(decimal.RequireFromString(s))
}
