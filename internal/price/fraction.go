package price

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Fraction is an exact non-negative value numerator / denominator. Both
// components are limited to 128 bits so cross products fit in 256 bits.
type Fraction struct {
	Numerator   uint256.Int
	Denominator uint256.Int
}

// NewFraction builds a fraction from 64-bit components.
func NewFraction(numerator, denominator uint64) Fraction {
	var f Fraction
	f.Numerator.SetUint64(numerator)
	f.Denominator.SetUint64(denominator)
	return f
}

// FractionFromBig builds a fraction from arbitrary precision components.
func FractionFromBig(numerator, denominator *big.Int) (Fraction, error) {
	var f Fraction
	for _, c := range []struct {
		src *big.Int
		dst *uint256.Int
	}{{numerator, &f.Numerator}, {denominator, &f.Denominator}} {
		if c.src == nil || c.src.Sign() < 0 {
			return Fraction{}, fmt.Errorf("%w: negative fraction component", ErrOutOfRange)
		}
		if overflow := c.dst.SetFromBig(c.src); overflow || c.dst.BitLen() > 128 {
			return Fraction{}, fmt.Errorf("%w: fraction component exceeds 128 bits", ErrOutOfRange)
		}
	}
	return f, f.Validate()
}

// Validate rejects a zero denominator and oversized components.
func (f Fraction) Validate() error {
	if f.Denominator.IsZero() {
		return fmt.Errorf("%w: zero denominator", ErrOutOfRange)
	}
	if f.Numerator.BitLen() > 128 || f.Denominator.BitLen() > 128 {
		return fmt.Errorf("%w: fraction component exceeds 128 bits", ErrOutOfRange)
	}
	return nil
}

// Cmp orders fractions by cross multiplication in 256-bit arithmetic. There is
// no saturation: with 128-bit components the products are exact. Cmp panics
// on fractions that fail Validate with oversized components.
func (f Fraction) Cmp(other Fraction) int {
	var left, right uint256.Int
	_, overflowLeft := left.MulOverflow(&f.Numerator, &other.Denominator)
	_, overflowRight := right.MulOverflow(&other.Numerator, &f.Denominator)
	if overflowLeft || overflowRight {
		panic(fmt.Sprintf("price: comparing oversized fractions %s and %s", f, other))
	}
	return left.Cmp(&right)
}

// Equal reports whether both fractions denote the same value.
func (f Fraction) Equal(other Fraction) bool {
	return f.Cmp(other) == 0
}

// Price truncates the fraction to the given number of decimals.
func (f Fraction) Price(decimals uint8) (Price, error) {
	if err := f.Validate(); err != nil {
		return Price{}, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	n := new(big.Int).Mul(f.Numerator.ToBig(), scale)
	n.Quo(n, f.Denominator.ToBig())
	return FromBig(n, decimals)
}

// String renders the fraction as "numerator/denominator".
func (f Fraction) String() string {
	return f.Numerator.Dec() + "/" + f.Denominator.Dec()
}
