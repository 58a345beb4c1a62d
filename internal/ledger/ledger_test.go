package ledger

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"price-oracle/internal/clock"
	"price-oracle/internal/price"
)

func ts(sec uint32) clock.Timestamp {
	return clock.Timestamp(clock.ToNano(clock.DurationSec(1_600_000_000 + sec)))
}

func TestMedianOfThree(t *testing.T) {
	var l Ledger
	l.Upsert("a", ts(0), price.New(100000, 28))
	l.Upsert("b", ts(0), price.New(110000, 28))
	l.Upsert("c", ts(0), price.New(106000, 28))

	got, ok := l.Median(ts(0).Cutoff(90), Quorum(3))
	require.True(t, ok)
	assert.Equal(t, price.New(106000, 28), got)
}

func TestMedianEvenCountTakesUpperMiddle(t *testing.T) {
	var l Ledger
	for i, m := range []uint64{40, 10, 30, 20} {
		l.Upsert(fmt.Sprintf("r%d", i), ts(0), price.New(m, 2))
	}
	got, ok := l.Median(0, 1)
	require.True(t, ok)
	assert.True(t, got.Equal(price.New(30, 2)))
}

func TestMedianQuorumBoundary(t *testing.T) {
	quorum := Quorum(5)
	require.Equal(t, 3, quorum)

	var l Ledger
	l.Upsert("a", ts(0), price.New(1, 0))
	l.Upsert("b", ts(0), price.New(2, 0))
	_, ok := l.Median(0, quorum)
	assert.False(t, ok, "quorum-1 fresh reports must not yield a median")

	l.Upsert("c", ts(0), price.New(3, 0))
	got, ok := l.Median(0, quorum)
	require.True(t, ok)
	assert.True(t, got.Equal(price.New(2, 0)))
}

func TestMedianIgnoresStaleReports(t *testing.T) {
	var l Ledger
	l.Upsert("a", ts(0), price.New(100000, 28))
	l.Upsert("b", ts(0), price.New(110000, 28))
	l.Upsert("c", ts(100), price.New(106000, 28))

	now := ts(120)
	_, ok := l.Median(now.Cutoff(90), 2)
	assert.False(t, ok)

	got, ok := l.Median(now.Cutoff(90), 1)
	require.True(t, ok)
	assert.True(t, got.Equal(price.New(106000, 28)))

	// The cutoff itself is still fresh.
	got, ok = l.Median(ts(0), 3)
	require.True(t, ok)
	assert.True(t, got.Equal(price.New(106000, 28)))
}

func TestUpsertKeepsLatestPerReporter(t *testing.T) {
	var l Ledger
	l.Upsert("a", ts(0), price.New(1, 0))
	l.Upsert("b", ts(0), price.New(5, 0))
	l.Upsert("a", ts(60), price.New(2, 0))

	require.Len(t, l, 2)
	rp, ok := l.Find("a")
	require.True(t, ok)
	assert.Equal(t, ts(60), rp.Timestamp)
	assert.True(t, rp.Price.Equal(price.New(2, 0)))
}

func TestRemove(t *testing.T) {
	var l Ledger
	l.Upsert("a", ts(0), price.New(1, 0))
	l.Upsert("b", ts(0), price.New(2, 0))

	assert.True(t, l.Remove("a"))
	assert.False(t, l.Remove("a"))
	assert.False(t, l.Remove("zzz"))
	require.Len(t, l, 1)
	assert.Equal(t, "b", l[0].OracleID)
}

func TestQuorum(t *testing.T) {
	for registered, want := range map[int]int{0: 1, 1: 1, 2: 1, 3: 2, 4: 2, 5: 3, 10: 5} {
		assert.Equal(t, want, Quorum(registered), "registered=%d", registered)
	}
}

func TestMedianIsOrderAndIdentityIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")
		values := make([]price.Price, n)
		for i := range values {
			values[i] = price.New(
				rapid.Uint64Range(0, 1000).Draw(t, "m"),
				rapid.Uint8Range(0, 6).Draw(t, "d"),
			)
		}
		perm := rapid.Permutation(values).Draw(t, "perm")

		var a, b Ledger
		for i, v := range values {
			a.Upsert(fmt.Sprintf("oracle-%d", i), ts(0), v)
		}
		for i, v := range perm {
			b.Upsert(fmt.Sprintf("other-%d", n-i), ts(0), v)
		}

		ma, okA := a.Median(0, 1)
		mb, okB := b.Median(0, 1)
		if !okA || !okB {
			t.Fatalf("median unavailable with %d fresh reports", n)
		}
		if !ma.Equal(mb) {
			t.Fatalf("median depends on order: %s vs %s", ma, mb)
		}

		sorted := slices.Clone(values)
		slices.SortFunc(sorted, price.Compare)
		if !ma.Equal(sorted[n/2]) {
			t.Fatalf("median %s, sorted rank %d is %s", ma, n/2, sorted[n/2])
		}
	})
}

func TestSelectMatchesSort(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Uint64Range(0, 50), 1, 64).Draw(t, "values")
		prices := make([]price.Price, len(raw))
		for i, m := range raw {
			prices[i] = price.New(m, 0)
		}
		k := rapid.IntRange(0, len(prices)-1).Draw(t, "k")

		sorted := slices.Clone(prices)
		slices.SortFunc(sorted, price.Compare)
		if got := Select(prices, k); !got.Equal(sorted[k]) {
			t.Fatalf("Select(%d) = %s, want %s", k, got, sorted[k])
		}
	})
}
