package price

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genPrice() *rapid.Generator[Price] {
	return rapid.Custom(func(t *rapid.T) Price {
		var p Price
		lo := rapid.Uint64().Draw(t, "lo")
		hi := uint64(0)
		if rapid.Bool().Draw(t, "wide") {
			hi = rapid.Uint64().Draw(t, "hi")
		}
		p.Multiplier = uint256.Int{lo, hi, 0, 0}
		p.Decimals = rapid.Uint8Range(0, MaxValidDecimals).Draw(t, "decimals")
		return p
	})
}

func toRat(p Price) *big.Rat {
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)
	return new(big.Rat).SetFrac(p.Multiplier.ToBig(), den)
}

func TestCmpRescaledRepresentations(t *testing.T) {
	cases := []struct {
		name string
		a, b Price
		want int
	}{
		{"same scale", New(100, 2), New(100, 2), 0},
		{"rescaled equal", New(100, 2), New(1000, 3), 0},
		{"rescaled equal reversed", New(1000, 3), New(100, 2), 0},
		{"tenth", New(1, 2), New(10, 3), 0},
		{"less across scales", New(99, 2), New(1000, 3), -1},
		{"greater across scales", New(101, 2), New(1000, 3), 1},
		{"zero vs zero far apart", New(0, 0), New(0, 77), 0},
		{"zero below tiny", New(0, 0), New(1, 77), -1},
		{"huge exponent gap", New(1, 77), New(1, 0), -1},
		{"oracle sample", New(106000, 28), New(1060000000, 32), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Cmp(tc.b))
			assert.Equal(t, -tc.want, tc.b.Cmp(tc.a))
		})
	}
}

func TestCmpSaturatesOnOverflow(t *testing.T) {
	big128, err := Parse("340282366920938463463374607431768211455", 0)
	require.NoError(t, err)
	small := New(1, 38)

	// 2^128-1 scaled by 10^38 leaves 128 bits: the 38-decimal value is the smaller one.
	assert.Equal(t, -1, small.Cmp(big128))
	assert.Equal(t, 1, big128.Cmp(small))
}

func TestCmpMatchesRationalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genPrice().Draw(t, "a")
		b := genPrice().Draw(t, "b")
		if got, want := a.Cmp(b), toRat(a).Cmp(toRat(b)); got != want {
			t.Fatalf("Cmp(%s, %s) = %d, want %d", a, b, got, want)
		}
	})
}

func TestCmpTotalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genPrice().Draw(t, "a")
		b := genPrice().Draw(t, "b")
		c := genPrice().Draw(t, "c")

		if a.Cmp(b) != -b.Cmp(a) {
			t.Fatalf("antisymmetry violated for %s, %s", a, b)
		}
		if a.Cmp(a) != 0 {
			t.Fatalf("reflexivity violated for %s", a)
		}
		if a.Cmp(b) <= 0 && b.Cmp(c) <= 0 && a.Cmp(c) > 0 {
			t.Fatalf("transitivity violated for %s <= %s <= %s", a, b, c)
		}
	})
}

func TestEqualRescaled(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := rapid.Uint64().Draw(t, "m")
		d := rapid.Uint8Range(0, 60).Draw(t, "d")
		shift := rapid.Uint8Range(0, 17).Draw(t, "shift")

		a := New(m, d)
		var b Price
		b.Multiplier.Mul(&a.Multiplier, &pow10[shift])
		b.Decimals = d + shift
		if !a.Equal(b) {
			t.Fatalf("%v and its rescaled form %v differ", a, b)
		}
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, New(1, MaxValidDecimals).Validate())

	err := New(1, MaxValidDecimals+1).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	var wide Price
	wide.Multiplier = uint256.Int{0, 0, 1, 0}
	assert.ErrorIs(t, wide.Validate(), ErrOutOfRange)
}

func TestFromDecimal(t *testing.T) {
	p, err := FromDecimal(decimal.RequireFromString("10.6"), 28)
	require.NoError(t, err)
	assert.True(t, p.Equal(New(106, 1)))
	assert.Equal(t, uint8(28), p.Decimals)
	assert.Equal(t, "10.6", p.Decimal().String())

	_, err = FromDecimal(decimal.NewFromInt(-1), 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParse(t *testing.T) {
	p, err := Parse("1061311356", 32)
	require.NoError(t, err)
	assert.Equal(t, "1061311356", p.Multiplier.Dec())

	_, err = Parse("12x", 2)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse("340282366920938463463374607431768211456", 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFromFloat(t *testing.T) {
	f := FromFloat(1061311355.6, 32)
	assert.Equal(t, "1061311356", f.Multiplier.Dec())
	assert.True(t, FromFloat(-3, 2).IsZero())

	saturated := FromFloat(1e40, 0)
	assert.Equal(t, 128, saturated.Multiplier.BitLen())
}

func TestJSONRoundTrip(t *testing.T) {
	in := New(106000, 28)
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"multiplier":"106000","decimals":28}`, string(raw))

	var out Price
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
