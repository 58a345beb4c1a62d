package record

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/near/borsh-go"

	"price-oracle/internal/clock"
	"price-oracle/internal/ema"
	"price-oracle/internal/ledger"
	"price-oracle/internal/price"
)

// Records are Borsh encoded. The leading u8 is the variant index of the
// versioned enum, so every shape keeps the tag it was first written with.

type wirePrice struct {
	// u128, low word first.
	Multiplier [2]uint64
	Decimals   uint8
}

type wireReport struct {
	OracleID  string
	Timestamp uint64
	Price     wirePrice
}

type wireTracker struct {
	PeriodSec uint32
	Timestamp uint64
	Price     *wirePrice
}

type wireAssetV0 struct {
	Reports []wireReport
}

type wireAssetV1 struct {
	Reports []wireReport
	EMAs    []wireTracker
}

type wireAsset struct {
	Status  uint8
	Reports []wireReport
	EMAs    []wireTracker
}

type wireVersionedAsset struct {
	Enum    borsh.Enum `borsh_enum:"true"`
	V0      wireAssetV0
	V1      wireAssetV1
	Current wireAsset
}

type wireReporterV0 struct {
	LastReport  uint64
	ReportCount uint64
}

type wireReporter struct {
	LastReport      uint64
	ReportCount     uint64
	LastRewardClaim uint64
}

type wireVersionedReporter struct {
	Enum    borsh.Enum `borsh_enum:"true"`
	V0      wireReporterV0
	Current wireReporter
}

// encode serialises a wire value. The wire types only hold fields borsh
// supports, so a failure is a programming error.
func encode(v any) []byte {
	raw, err := borsh.Serialize(v)
	if err != nil {
		panic(fmt.Sprintf("record: encode %T: %v", v, err))
	}
	return raw
}

// decode reads one versioned record. Tags at or above variants are
// ErrUnknownVersion; anything borsh cannot read, or bytes left after the
// record, is ErrCorrupt.
func decode[T any](data []byte, variants uint8, kind string) (out T, err error) {
	if len(data) == 0 {
		return out, fmt.Errorf("%w: empty %s record", ErrCorrupt, kind)
	}
	if data[0] >= variants {
		return out, fmt.Errorf("%w: %s tag %d", ErrUnknownVersion, kind, data[0])
	}

	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, fmt.Errorf("%w: %s record: %v", ErrCorrupt, kind, r)
		}
	}()
	if err := borsh.Deserialize(&out, data); err != nil {
		return out, fmt.Errorf("%w: %s record: %v", ErrCorrupt, kind, err)
	}
	if n := len(encode(out)); n != len(data) {
		return out, fmt.Errorf("%w: %d trailing bytes after %s record", ErrCorrupt, len(data)-n, kind)
	}
	return out, nil
}

func toWirePrice(p price.Price) wirePrice {
	return wirePrice{Multiplier: [2]uint64{p.Multiplier[0], p.Multiplier[1]}, Decimals: p.Decimals}
}

func (w wirePrice) price() price.Price {
	return price.Price{Multiplier: uint256.Int{w.Multiplier[0], w.Multiplier[1], 0, 0}, Decimals: w.Decimals}
}

func toWireReports(reports ledger.Ledger) []wireReport {
	out := make([]wireReport, 0, len(reports))
	for _, rp := range reports {
		out = append(out, wireReport{OracleID: rp.OracleID, Timestamp: uint64(rp.Timestamp), Price: toWirePrice(rp.Price)})
	}
	return out
}

func fromWireReports(reports []wireReport) ledger.Ledger {
	out := make(ledger.Ledger, 0, len(reports))
	for _, rp := range reports {
		out = append(out, ledger.Report{OracleID: rp.OracleID, Timestamp: clock.Timestamp(rp.Timestamp), Price: rp.Price.price()})
	}
	return out
}

func toWireTrackers(trackers ema.Trackers) []wireTracker {
	out := make([]wireTracker, 0, len(trackers))
	for _, tr := range trackers {
		w := wireTracker{PeriodSec: uint32(tr.PeriodSec), Timestamp: uint64(tr.Timestamp)}
		if tr.Price != nil {
			p := toWirePrice(*tr.Price)
			w.Price = &p
		}
		out = append(out, w)
	}
	return out
}

func fromWireTrackers(trackers []wireTracker) ema.Trackers {
	out := make(ema.Trackers, 0, len(trackers))
	for _, w := range trackers {
		tr := ema.Tracker{PeriodSec: clock.DurationSec(w.PeriodSec), Timestamp: clock.Timestamp(w.Timestamp)}
		if w.Price != nil {
			p := w.Price.price()
			tr.Price = &p
		}
		out = append(out, tr)
	}
	return out
}
