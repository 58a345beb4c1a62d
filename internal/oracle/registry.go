package oracle

import (
	"context"

	"price-oracle/internal/storage"
)

// Registry answers which reporters may submit prices.
type Registry interface {
	IsRegistered(ctx context.Context, oracleID string) (bool, error)
	CountRegistered(ctx context.Context) (int, error)
}

// StoreRegistry treats every stored reporter record as a registration.
type StoreRegistry struct {
	kv storage.KV
}

// NewStoreRegistry reads registrations from kv.
func NewStoreRegistry(kv storage.KV) StoreRegistry {
	return StoreRegistry{kv: kv}
}

// IsRegistered implements Registry.
func (r StoreRegistry) IsRegistered(ctx context.Context, oracleID string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, storage.NamespaceOracles, oracleID)
	return ok, err
}

// CountRegistered implements Registry.
func (r StoreRegistry) CountRegistered(ctx context.Context) (int, error) {
	return r.kv.Count(ctx, storage.NamespaceOracles)
}

var _ Registry = StoreRegistry{}
