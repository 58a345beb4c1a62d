// Package ema maintains time-weighted exponential moving averages of an asset's
// median price.
package ema

import (
	"math"

	"price-oracle/internal/clock"
	"price-oracle/internal/price"
)

// extraDecimals is the precision kept beyond the median's scale while the
// smoothed multiplier stays below maxPreciseMultiplier.
const (
	extraDecimals        = 4
	maxPreciseMultiplier = 1e30
)

// Tracker smooths the median feed over one period. A tracker with a nil Price
// has not been fed yet.
type Tracker struct {
	PeriodSec clock.DurationSec `json:"period_sec"`
	Timestamp clock.Timestamp   `json:"timestamp,string"`
	Price     *price.Price      `json:"price"`
}

// New returns an unfed tracker for the period.
func New(period clock.DurationSec) Tracker {
	return Tracker{PeriodSec: period}
}

// Value returns the smoothed price, if the tracker has been fed.
func (t Tracker) Value() (price.Price, bool) {
	if t.Price == nil {
		return price.Price{}, false
	}
	return *t.Price, true
}

// Recompute folds a new median observed at ts into the average.
//
// The first call adopts the median as is. Later calls apply
// α = 1 - exp(-2·Δt/P) to the previous value rescaled to the median's decimals,
// and encode the result with four extra decimals, or at the median's own scale
// once the multiplier grows past 1e30. The timestamp always advances to ts.
func (t *Tracker) Recompute(median price.Price, ts clock.Timestamp) {
	defer func() { t.Timestamp = ts }()

	if t.Price == nil {
		p := median
		t.Price = &p
		return
	}

	var elapsed float64
	if ts > t.Timestamp {
		elapsed = float64(ts - t.Timestamp)
	}
	alpha := 1.0
	if t.PeriodSec > 0 {
		alpha = 1 - math.Exp(-2*elapsed/float64(clock.ToNano(t.PeriodSec)))
	}

	current := t.Price.MultiplierFloat64()
	current *= math.Pow(10, float64(int(median.Decimals)-int(t.Price.Decimals)))
	current += alpha * (median.MultiplierFloat64() - current)

	var next price.Price
	if current <= maxPreciseMultiplier {
		next = price.FromFloat(current*math.Pow(10, extraDecimals), median.Decimals+extraDecimals)
	} else {
		next = price.FromFloat(current, median.Decimals)
	}
	t.Price = &next
}

// Trackers is an asset's set of averages, at most one per period.
type Trackers []Tracker

// Find returns the index of the tracker with the period, or -1.
func (ts Trackers) Find(period clock.DurationSec) int {
	for i := range ts {
		if ts[i].PeriodSec == period {
			return i
		}
	}
	return -1
}

// Add attaches a new tracker and reports false if the period already exists.
func (ts *Trackers) Add(period clock.DurationSec) bool {
	if ts.Find(period) >= 0 {
		return false
	}
	*ts = append(*ts, New(period))
	return true
}

// Remove detaches the tracker with the period and reports whether it existed.
func (ts *Trackers) Remove(period clock.DurationSec) bool {
	i := ts.Find(period)
	if i < 0 {
		return false
	}
	*ts = append((*ts)[:i], (*ts)[i+1:]...)
	return true
}

// RecomputeAll feeds the median to every tracker.
func (ts Trackers) RecomputeAll(median price.Price, at clock.Timestamp) {
	for i := range ts {
		ts[i].Recompute(median, at)
	}
}
