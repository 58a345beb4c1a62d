// Package clock supplies the timestamps the oracle core runs on. The core never
// reads wall time itself; every entry point receives a Timestamp from a Clock.
package clock

import "time"

// Timestamp is a point in time expressed in nanoseconds since the Unix epoch.
type Timestamp uint64

// DurationSec is a duration in whole seconds, used for recency windows and EMA periods.
type DurationSec uint32

// Clock yields the current timestamp.
type Clock interface {
	Now() Timestamp
}

// ToNano converts whole seconds to nanoseconds.
func ToNano(sec DurationSec) uint64 {
	return uint64(sec) * uint64(time.Second)
}

// FromTime converts a time.Time into a Timestamp. Times before the epoch map to zero.
func FromTime(t time.Time) Timestamp {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return Timestamp(ns)
}

// Time converts the timestamp back to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Cutoff returns the oldest timestamp still inside a window of the given length
// ending at t. It saturates at zero.
func (t Timestamp) Cutoff(window DurationSec) Timestamp {
	w := ToNano(window)
	if uint64(t) < w {
		return 0
	}
	return Timestamp(uint64(t) - w)
}

// Add advances the timestamp by whole seconds.
func (t Timestamp) Add(sec DurationSec) Timestamp {
	return t + Timestamp(ToNano(sec))
}

// System reads the host clock.
type System struct{}

// Now implements Clock.
func (System) Now() Timestamp {
	return FromTime(time.Now())
}

// Fixed is a manually driven clock for replays and tests.
type Fixed struct {
	ts Timestamp
}

// NewFixed returns a clock frozen at ts.
func NewFixed(ts Timestamp) *Fixed {
	return &Fixed{ts: ts}
}

// Now implements Clock.
func (f *Fixed) Now() Timestamp {
	return f.ts
}

// Set moves the clock to ts.
func (f *Fixed) Set(ts Timestamp) {
	f.ts = ts
}

// Skip moves the clock forward by whole seconds.
func (f *Fixed) Skip(sec DurationSec) {
	f.ts = f.ts.Add(sec)
}

var (
	_ Clock = System{}
	_ Clock = (*Fixed)(nil)
)
