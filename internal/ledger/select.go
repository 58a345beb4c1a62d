package ledger

import "price-oracle/internal/price"

// Select returns the k-th smallest price (0-based) by price ordering. It
// reorders prices in place and runs in expected linear time.
func Select(prices []price.Price, k int) price.Price {
	if k < 0 || k >= len(prices) {
		panic("ledger: selection index out of range")
	}
	lo, hi := 0, len(prices)-1
	for lo < hi {
		pivot := medianOfThree(prices, lo, lo+(hi-lo)/2, hi)
		lt, gt := partition(prices, lo, hi, pivot)
		switch {
		case k < lt:
			hi = lt - 1
		case k > gt:
			lo = gt + 1
		default:
			return prices[k]
		}
	}
	return prices[k]
}

// partition arranges prices[lo..hi] into <pivot, ==pivot, >pivot and returns
// the bounds of the middle band.
func partition(prices []price.Price, lo, hi int, pivot price.Price) (int, int) {
	lt, i, gt := lo, lo, hi
	for i <= gt {
		switch c := prices[i].Cmp(pivot); {
		case c < 0:
			prices[lt], prices[i] = prices[i], prices[lt]
			lt++
			i++
		case c > 0:
			prices[i], prices[gt] = prices[gt], prices[i]
			gt--
		default:
			i++
		}
	}
	return lt, gt
}

func medianOfThree(prices []price.Price, a, b, c int) price.Price {
	x, y, z := prices[a], prices[b], prices[c]
	if x.Less(y) {
		switch {
		case y.Less(z):
			return y
		case x.Less(z):
			return z
		default:
			return x
		}
	}
	switch {
	case x.Less(z):
		return x
	case y.Less(z):
		return z
	default:
		return y
	}
}
