// Package ledger keeps the per-asset set of reporter observations and extracts
// a quorum-checked median from the fresh ones.
package ledger

import (
	"price-oracle/internal/clock"
	"price-oracle/internal/price"
)

// Report is one reporter's latest observation for an asset.
type Report struct {
	OracleID  string          `json:"oracle_id"`
	Timestamp clock.Timestamp `json:"timestamp,string"`
	Price     price.Price     `json:"price"`
}

// Ledger holds at most one report per reporter, in no particular order.
type Ledger []Report

// Upsert replaces the reporter's previous report, if any, with a new one.
func (l *Ledger) Upsert(oracleID string, ts clock.Timestamp, p price.Price) {
	l.Remove(oracleID)
	*l = append(*l, Report{OracleID: oracleID, Timestamp: ts, Price: p})
}

// Remove drops the reporter's report and reports whether one was present.
func (l *Ledger) Remove(oracleID string) bool {
	reports := *l
	kept := reports[:0]
	for _, rp := range reports {
		if rp.OracleID != oracleID {
			kept = append(kept, rp)
		}
	}
	removed := len(kept) != len(reports)
	clear(reports[len(kept):])
	*l = kept
	return removed
}

// Find returns the reporter's report.
func (l Ledger) Find(oracleID string) (Report, bool) {
	for _, rp := range l {
		if rp.OracleID == oracleID {
			return rp, true
		}
	}
	return Report{}, false
}

// Fresh returns the reports stamped at or after cutoff, in ledger order.
func (l Ledger) Fresh(cutoff clock.Timestamp) []Report {
	fresh := make([]Report, 0, len(l))
	for _, rp := range l {
		if rp.Timestamp >= cutoff {
			fresh = append(fresh, rp)
		}
	}
	return fresh
}

// Median returns the price ranked ⌊n/2⌋ among the n reports stamped at or
// after cutoff: the middle one for odd n, the upper middle for even n. It
// returns false when fewer than quorum reports are fresh.
func (l Ledger) Median(cutoff clock.Timestamp, quorum int) (price.Price, bool) {
	fresh := l.Fresh(cutoff)
	if len(fresh) == 0 || len(fresh) < quorum {
		return price.Price{}, false
	}
	prices := make([]price.Price, len(fresh))
	for i, rp := range fresh {
		prices[i] = rp.Price
	}
	return Select(prices, len(prices)/2), true
}

// Quorum is the number of fresh reports a median needs: a simple majority of
// the registered reporters, and never less than one.
func Quorum(registered int) int {
	return max(1, (registered+1)/2)
}
