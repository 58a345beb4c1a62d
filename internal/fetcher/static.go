package fetcher

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"price-oracle/internal/price"
)

// Static always returns the same price, for pegged assets and dry runs.
type Static struct {
	price price.Price
}

// NewStatic encodes value with the given decimals.
func NewStatic(value string, decimals uint8) (*Static, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse static value %q: %w", value, err)
	}
	p, err := price.FromDecimal(d, decimals)
	if err != nil {
		return nil, fmt.Errorf("encode static value %q: %w", value, err)
	}
	return &Static{price: p}, nil
}

// FetchPrice implements PriceFetcher.
func (s *Static) FetchPrice(context.Context) (price.Price, error) {
	return s.price, nil
}

var _ PriceFetcher = (*Static)(nil)
