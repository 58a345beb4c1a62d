package oracle

import (
	"price-oracle/internal/clock"
	"price-oracle/internal/price"
	"price-oracle/internal/record"
)

// AssetPrice is one entry of a report batch.
type AssetPrice struct {
	AssetID string      `json:"asset_id"`
	Price   price.Price `json:"price"`
}

// ReportOutcome tells whether one batch entry reached the ledger.
type ReportOutcome struct {
	AssetID  string `json:"asset_id"`
	Accepted bool   `json:"accepted"`
	Err      error  `json:"-"`
}

// AssetOptionalPrice is a price id with its value, or nil when unavailable.
type AssetOptionalPrice struct {
	AssetID string       `json:"asset_id"`
	Price   *price.Price `json:"price"`
}

// PriceData is a point-in-time answer for a set of price ids.
type PriceData struct {
	Timestamp          clock.Timestamp      `json:"timestamp,string"`
	RecencyDurationSec clock.DurationSec    `json:"recency_duration_sec"`
	Prices             []AssetOptionalPrice `json:"prices"`
}

// ReporterPrice is one reporter's own report on an asset. Price and
// Timestamp are nil when the reporter has no fresh report there.
type ReporterPrice struct {
	AssetID   string           `json:"asset_id"`
	Price     *price.Price     `json:"price"`
	Timestamp *clock.Timestamp `json:"timestamp,string"`
}

// ReporterPriceData is a point-in-time view of one reporter's reports.
type ReporterPriceData struct {
	Timestamp          clock.Timestamp   `json:"timestamp,string"`
	RecencyDurationSec clock.DurationSec `json:"recency_duration_sec"`
	Prices             []ReporterPrice   `json:"prices"`
}

// AssetEntry pairs a stored asset with its id.
type AssetEntry struct {
	ID    string       `json:"asset_id"`
	Asset record.Asset `json:"asset"`
}

// OracleEntry pairs a registered reporter with its id.
type OracleEntry struct {
	ID    string               `json:"oracle_id"`
	Stats record.ReporterStats `json:"stats"`
}
