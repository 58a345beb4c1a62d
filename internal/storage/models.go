package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample statuses.
const (
	SampleStatusOK          = "ok"
	SampleStatusUnavailable = "unavailable"
	SampleStatusErrored     = "errored"
)

// PriceSample is one served value of a price id (an asset or asset#period)
// captured at a scheduler bucket.
type PriceSample struct {
	Bucket     time.Time
	AssetID    string
	Multiplier *string
	Decimals   *int16
	Price      decimal.NullDecimal
	Status     string
	Error      *string
	CreatedAt  time.Time
}

// AlertRecord captures an emitted divergence alert for de-duplication/auditing.
type AlertRecord struct {
	ID           int64
	SampleTS     time.Time
	AssetID      string
	PeriodSec    int64
	MedianPrice  decimal.Decimal
	EMAPrice     decimal.Decimal
	DeviationPct decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
