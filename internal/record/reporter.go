package record

import (
	"github.com/near/borsh-go"

	"price-oracle/internal/clock"
)

// ReporterStats is the current stored shape of a registered reporter.
type ReporterStats struct {
	LastReport      clock.Timestamp `json:"last_report,string"`
	ReportCount     uint64          `json:"report_count"`
	LastRewardClaim clock.Timestamp `json:"last_reward_claim,string"`
}

// ReporterStatsV0 predates reward claims.
type ReporterStatsV0 struct {
	LastReport  clock.Timestamp
	ReportCount uint64
}

// VersionedReporterStats is the closed set of stored reporter shapes.
type VersionedReporterStats interface {
	// Upgrade converts the shape to the current ReporterStats.
	Upgrade() ReporterStats
	reporterTag() uint8
}

const (
	reporterTagV0 uint8 = iota
	reporterTagCurrent
)

// Upgrade sets LastRewardClaim to zero: the reporter has never claimed.
func (v ReporterStatsV0) Upgrade() ReporterStats {
	return ReporterStats{LastReport: v.LastReport, ReportCount: v.ReportCount}
}

// Upgrade returns the stats unchanged.
func (s ReporterStats) Upgrade() ReporterStats {
	return s
}

func (ReporterStatsV0) reporterTag() uint8 { return reporterTagV0 }
func (ReporterStats) reporterTag() uint8   { return reporterTagCurrent }

// EncodeReporterStats serialises the stats under the current tag.
func EncodeReporterStats(s ReporterStats) []byte {
	return encodeVersionedReporterStats(s)
}

func encodeVersionedReporterStats(v VersionedReporterStats) []byte {
	w := wireVersionedReporter{Enum: borsh.Enum(v.reporterTag())}
	switch s := v.(type) {
	case ReporterStatsV0:
		w.V0 = wireReporterV0{LastReport: uint64(s.LastReport), ReportCount: s.ReportCount}
	case ReporterStats:
		w.Current = wireReporter{LastReport: uint64(s.LastReport), ReportCount: s.ReportCount, LastRewardClaim: uint64(s.LastRewardClaim)}
	}
	return encode(w)
}

// DecodeVersionedReporterStats reads stored bytes into the shape their tag names.
func DecodeVersionedReporterStats(data []byte) (VersionedReporterStats, error) {
	w, err := decode[wireVersionedReporter](data, reporterTagCurrent+1, "reporter")
	if err != nil {
		return nil, err
	}

	if uint8(w.Enum) == reporterTagV0 {
		return ReporterStatsV0{LastReport: clock.Timestamp(w.V0.LastReport), ReportCount: w.V0.ReportCount}, nil
	}
	return ReporterStats{
		LastReport:      clock.Timestamp(w.Current.LastReport),
		ReportCount:     w.Current.ReportCount,
		LastRewardClaim: clock.Timestamp(w.Current.LastRewardClaim),
	}, nil
}

// DecodeReporterStats reads stored bytes of any reporter version as the current shape.
func DecodeReporterStats(data []byte) (ReporterStats, error) {
	v, err := DecodeVersionedReporterStats(data)
	if err != nil {
		return ReporterStats{}, err
	}
	return v.Upgrade(), nil
}
