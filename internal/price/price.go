// Package price implements exact, overflow-checked price values. A Price denotes
// multiplier × 10^(-decimals) and a Fraction denotes numerator / denominator;
// both keep every component within 128 bits and order values by the rational
// number they denote, not by their representation.
package price

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// MaxValidDecimals is the largest accepted decimal exponent.
	MaxValidDecimals uint8 = 77
	// maxU128Decimals is the number of decimal digits a 128-bit integer can scale by.
	maxU128Decimals uint8 = 38
)

var (
	maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	pow10   = func() [maxU128Decimals + 1]uint256.Int {
		var table [maxU128Decimals + 1]uint256.Int
		table[0].SetOne()
		ten := uint256.NewInt(10)
		for i := 1; i < len(table); i++ {
			table[i].Mul(&table[i-1], ten)
		}
		return table
	}()
)

// Price is an exact non-negative value multiplier × 10^(-decimals).
//
// Prices are immutable values. Compare them with Cmp or Equal: two prices with
// different representations of the same number are equal, which == does not see.
type Price struct {
	Multiplier uint256.Int
	Decimals   uint8
}

// New builds a price from a 64-bit multiplier.
func New(multiplier uint64, decimals uint8) Price {
	var p Price
	p.Multiplier.SetUint64(multiplier)
	p.Decimals = decimals
	return p
}

// FromBig builds a price from an arbitrary precision multiplier. The multiplier
// must be non-negative and fit in 128 bits.
func FromBig(multiplier *big.Int, decimals uint8) (Price, error) {
	if multiplier == nil || multiplier.Sign() < 0 {
		return Price{}, fmt.Errorf("%w: negative multiplier", ErrOutOfRange)
	}
	var p Price
	if overflow := p.Multiplier.SetFromBig(multiplier); overflow || p.Multiplier.BitLen() > 128 {
		return Price{}, fmt.Errorf("%w: multiplier exceeds 128 bits", ErrOutOfRange)
	}
	p.Decimals = decimals
	return p, nil
}

// Parse builds a price from a base-10 multiplier string.
func Parse(multiplier string, decimals uint8) (Price, error) {
	m, ok := new(big.Int).SetString(multiplier, 10)
	if !ok {
		return Price{}, fmt.Errorf("%w: multiplier %q", ErrMalformed, multiplier)
	}
	return FromBig(m, decimals)
}

// FromDecimal encodes d with the given number of decimals, rounding half away
// from zero at the last kept digit.
func FromDecimal(d decimal.Decimal, decimals uint8) (Price, error) {
	if d.IsNegative() {
		return Price{}, fmt.Errorf("%w: negative value %s", ErrOutOfRange, d.String())
	}
	scaled := d.Shift(int32(decimals)).Round(0)
	return FromBig(scaled.BigInt(), decimals)
}

// Validate reports whether the price may be accepted from a reporter.
func (p Price) Validate() error {
	if p.Decimals > MaxValidDecimals {
		return fmt.Errorf("%w: decimals %d above %d", ErrOutOfRange, p.Decimals, MaxValidDecimals)
	}
	if p.Multiplier.BitLen() > 128 {
		return fmt.Errorf("%w: multiplier exceeds 128 bits", ErrOutOfRange)
	}
	return nil
}

// Cmp returns -1, 0 or +1 as p is less than, equal to or greater than other.
//
// Both values are brought to the larger exponent by scaling the other
// multiplier by 10^Δ. When that scaling leaves the 128-bit range the value with
// more decimals is ordered strictly below: it is negligibly small next to the
// scaled one. A zero multiplier never saturates, so zero stays the minimum at
// every scale.
func (p Price) Cmp(other Price) int {
	if p.Decimals < other.Decimals {
		return -other.Cmp(p)
	}
	if other.Multiplier.IsZero() {
		if p.Multiplier.IsZero() {
			return 0
		}
		return 1
	}
	diff := p.Decimals - other.Decimals
	if diff > maxU128Decimals {
		return -1
	}
	scaled, overflow := new(uint256.Int).MulOverflow(&other.Multiplier, &pow10[diff])
	if overflow || scaled.BitLen() > 128 {
		return -1
	}
	return p.Multiplier.Cmp(scaled)
}

// Equal reports whether both prices denote the same value.
func (p Price) Equal(other Price) bool {
	return p.Cmp(other) == 0
}

// Less reports whether p orders before other.
func (p Price) Less(other Price) bool {
	return p.Cmp(other) < 0
}

// IsZero reports whether the multiplier is zero.
func (p Price) IsZero() bool {
	return p.Multiplier.IsZero()
}

// Decimal renders the price as an arbitrary precision decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(p.Multiplier.ToBig(), -int32(p.Decimals))
}

// MultiplierFloat64 returns the multiplier as the nearest float64.
func (p Price) MultiplierFloat64() float64 {
	f, _ := new(big.Float).SetInt(p.Multiplier.ToBig()).Float64()
	return f
}

// FromFloat rounds a float multiplier to the nearest integer and encodes it with
// the given decimals. Negative and NaN inputs become zero; values beyond the
// 128-bit range saturate.
func FromFloat(multiplier float64, decimals uint8) Price {
	p := Price{Decimals: decimals}
	switch {
	case math.IsNaN(multiplier) || multiplier <= 0:
		return p
	case math.IsInf(multiplier, 1):
		p.Multiplier.Set(maxU128)
		return p
	}
	rounded, _ := new(big.Float).SetFloat64(math.Round(multiplier)).Int(nil)
	if overflow := p.Multiplier.SetFromBig(rounded); overflow || p.Multiplier.BitLen() > 128 {
		p.Multiplier.Set(maxU128)
	}
	return p
}

// String renders the price in plain decimal notation.
func (p Price) String() string {
	return p.Decimal().String()
}

type priceJSON struct {
	Multiplier string `json:"multiplier"`
	Decimals   uint8  `json:"decimals"`
}

// MarshalJSON encodes the multiplier as a base-10 string.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceJSON{Multiplier: p.Multiplier.Dec(), Decimals: p.Decimals})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (p *Price) UnmarshalJSON(data []byte) error {
	var raw priceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Multiplier, raw.Decimals)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Compare is Cmp in function form for slices.SortFunc and friends.
func Compare(a, b Price) int {
	return a.Cmp(b)
}
