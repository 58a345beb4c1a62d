package fetcher

import (
	"context"
	"errors"

	"price-oracle/internal/price"
)

// ErrNotConfigured is returned when a source lacks required settings.
var ErrNotConfigured = errors.New("fetcher: source not configured")

// PriceFetcher retrieves one asset price from an external source.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (price.Price, error)
}

// Source binds a fetcher to the asset id it reports for.
type Source struct {
	AssetID string
	Fetcher PriceFetcher
}
