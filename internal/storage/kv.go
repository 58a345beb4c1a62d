package storage

import (
	"context"
	"errors"
)

// Namespace partitions the record store.
type Namespace string

const (
	// NamespaceAssets holds versioned asset records keyed by asset id.
	NamespaceAssets Namespace = "assets"
	// NamespaceOracles holds versioned reporter records keyed by reporter id.
	NamespaceOracles Namespace = "oracles"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

// Entry is one key/value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// KV is a namespaced key→bytes mapping.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)
	// Put inserts or replaces the value.
	Put(ctx context.Context, ns Namespace, key string, value []byte) error
	// Delete removes the key and reports whether it existed.
	Delete(ctx context.Context, ns Namespace, key string) (bool, error)
	// List enumerates entries in key order. A non-positive limit means no limit.
	List(ctx context.Context, ns Namespace, offset, limit int) ([]Entry, error)
	// Count returns the number of keys in the namespace.
	Count(ctx context.Context, ns Namespace) (int, error)
}

// RecordStore is a KV that can apply a group of writes atomically.
type RecordStore interface {
	KV
	// Update runs fn against a transactional view. Writes made through the view
	// become visible together when fn returns nil and are discarded otherwise.
	Update(ctx context.Context, fn func(tx KV) error) error
}
