package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"price-oracle/internal/clock"
)

// PeriodSeparator joins an asset id and an EMA period in a price id.
const PeriodSeparator = "#"

// PriceID addresses either an asset's median (Period == 0) or one of its EMAs.
type PriceID struct {
	AssetID string
	Period  clock.DurationSec
}

// HasPeriod reports whether the id addresses an EMA.
func (id PriceID) HasPeriod() bool {
	return id.Period != 0
}

func (id PriceID) String() string {
	if !id.HasPeriod() {
		return id.AssetID
	}
	return id.AssetID + PeriodSeparator + strconv.FormatUint(uint64(id.Period), 10)
}

// ParsePriceID splits "asset" or "asset#period".
func ParsePriceID(raw string) (PriceID, error) {
	base, suffix, found := strings.Cut(raw, PeriodSeparator)
	if err := validateAssetID(base); err != nil {
		return PriceID{}, fmt.Errorf("%w: %q", ErrInvalidAssetID, raw)
	}
	if !found {
		return PriceID{AssetID: base}, nil
	}
	period, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil || period == 0 {
		return PriceID{}, fmt.Errorf("%w: bad period in %q", ErrInvalidAssetID, raw)
	}
	return PriceID{AssetID: base, Period: clock.DurationSec(period)}, nil
}

func validateAssetID(id string) error {
	if id == "" || strings.Contains(id, PeriodSeparator) {
		return ErrInvalidAssetID
	}
	return nil
}
