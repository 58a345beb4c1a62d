package price

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFractionCmp(t *testing.T) {
	assert.Equal(t, 0, NewFraction(1, 2).Cmp(NewFraction(2, 4)))
	assert.Equal(t, -1, NewFraction(1, 3).Cmp(NewFraction(1, 2)))
	assert.Equal(t, 1, NewFraction(3, 2).Cmp(NewFraction(1, 1)))
	assert.True(t, NewFraction(0, 5).Equal(NewFraction(0, 7)))
}

func TestFractionCmpWide(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var a, b Fraction
		a.Numerator = uint256.Int{rapid.Uint64().Draw(t, "an0"), rapid.Uint64().Draw(t, "an1"), 0, 0}
		a.Denominator = uint256.Int{rapid.Uint64Min(1).Draw(t, "ad0"), rapid.Uint64().Draw(t, "ad1"), 0, 0}
		b.Numerator = uint256.Int{rapid.Uint64().Draw(t, "bn0"), rapid.Uint64().Draw(t, "bn1"), 0, 0}
		b.Denominator = uint256.Int{rapid.Uint64Min(1).Draw(t, "bd0"), rapid.Uint64().Draw(t, "bd1"), 0, 0}

		ra := new(big.Rat).SetFrac(a.Numerator.ToBig(), a.Denominator.ToBig())
		rb := new(big.Rat).SetFrac(b.Numerator.ToBig(), b.Denominator.ToBig())
		if got, want := a.Cmp(b), ra.Cmp(rb); got != want {
			t.Fatalf("Cmp(%s, %s) = %d, want %d", a, b, got, want)
		}
	})
}

func TestFractionCmpPanicsOnOversizedComponents(t *testing.T) {
	var huge Fraction
	huge.Numerator = uint256.Int{0, 0, 0, 1}
	huge.Denominator.SetOne()
	require.Error(t, huge.Validate())

	wide := Fraction{Numerator: uint256.Int{1, 0, 0, 0}, Denominator: uint256.Int{0, 0, 1, 0}}
	assert.Panics(t, func() { huge.Cmp(wide) })
	assert.NotPanics(t, func() { NewFraction(1, 2).Cmp(NewFraction(3, 4)) })
}

func TestFractionValidate(t *testing.T) {
	require.NoError(t, NewFraction(1, 1).Validate())
	assert.ErrorIs(t, NewFraction(1, 0).Validate(), ErrOutOfRange)

	_, err := FractionFromBig(big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = FractionFromBig(big.NewInt(-1), big.NewInt(3))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFractionPrice(t *testing.T) {
	p, err := NewFraction(2, 3).Price(4)
	require.NoError(t, err)
	assert.Equal(t, "6666", p.Multiplier.Dec())
	assert.Equal(t, uint8(4), p.Decimals)

	_, err = NewFraction(2, 0).Price(4)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
