package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.Get(ctx, NamespaceAssets, "wrap.near")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte{1, 2, 3}
	require.NoError(t, store.Put(ctx, NamespaceAssets, "wrap.near", value))
	value[0] = 9

	got, ok, err := store.Get(ctx, NamespaceAssets, "wrap.near")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, ok, err = store.Get(ctx, NamespaceOracles, "wrap.near")
	require.NoError(t, err)
	assert.False(t, ok, "namespaces are independent")

	existed, err := store.Delete(ctx, NamespaceAssets, "wrap.near")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, NamespaceAssets, "wrap.near")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStoreListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, k := range []string{"c", "a", "d", "b"} {
		require.NoError(t, store.Put(ctx, NamespaceOracles, k, []byte(k)))
	}

	all, err := store.List(ctx, NamespaceOracles, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keysOf(all))

	page, err := store.List(ctx, NamespaceOracles, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keysOf(page))

	tail, err := store.List(ctx, NamespaceOracles, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, tail)

	count, err := store.Count(ctx, NamespaceOracles)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestMemoryStoreUpdateCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, NamespaceAssets, "keep", []byte("old")))

	err := store.Update(ctx, func(tx KV) error {
		if err := tx.Put(ctx, NamespaceAssets, "keep", []byte("new")); err != nil {
			return err
		}
		return tx.Put(ctx, NamespaceOracles, "alice", []byte("stats"))
	})
	require.NoError(t, err)

	got, _, _ := store.Get(ctx, NamespaceAssets, "keep")
	assert.Equal(t, []byte("new"), got)
	_, ok, _ := store.Get(ctx, NamespaceOracles, "alice")
	assert.True(t, ok)
}

func TestMemoryStoreUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, NamespaceAssets, "keep", []byte("old")))

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx KV) error {
		require.NoError(t, tx.Put(ctx, NamespaceAssets, "keep", []byte("new")))
		_, err := tx.Delete(ctx, NamespaceAssets, "keep")
		require.NoError(t, err)
		require.NoError(t, tx.Put(ctx, NamespaceOracles, "alice", []byte("stats")))

		_, ok, err := tx.Get(ctx, NamespaceOracles, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, ok, _ := store.Get(ctx, NamespaceAssets, "keep")
	require.True(t, ok)
	assert.Equal(t, []byte("old"), got)
	_, ok, _ = store.Get(ctx, NamespaceOracles, "alice")
	assert.False(t, ok)
}

func TestStoreNotConfigured(t *testing.T) {
	ctx := context.Background()
	var store *Store

	_, _, err := store.Get(ctx, NamespaceAssets, "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, store.Update(ctx, func(KV) error { return nil }), ErrNotConfigured)
	_, _, err = store.TryAdvisoryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, store.EnsureSchema(ctx), ErrNotConfigured)
	store.Close()
}

func keysOf(entries []Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}
