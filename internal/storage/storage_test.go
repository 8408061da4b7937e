package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fasket.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDatabaseAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fasket.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	for _, table := range []string{"kv", "checkout_keys"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fasket.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "k", []byte("v")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/fasket.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestKV_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "cart.local")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "cart.local", []byte(`[{"productId":"p1"}]`)))
	require.NoError(t, s.Put(ctx, "cart.local", []byte(`[]`)))

	got, ok, err := s.Get(ctx, "cart.local")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(got))

	require.NoError(t, s.Delete(ctx, "cart.local", "missing"))
	_, ok, err = s.Get(ctx, "cart.local")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckoutKeys_ReserveReturnsFirstKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	k1, err := s.ReserveCheckoutKey(ctx, "cart-1", "key-a")
	require.NoError(t, err)
	k2, err := s.ReserveCheckoutKey(ctx, "cart-1", "key-b")
	require.NoError(t, err)

	assert.Equal(t, "key-a", k1)
	assert.Equal(t, "key-a", k2)

	other, err := s.ReserveCheckoutKey(ctx, "cart-2", "key-c")
	require.NoError(t, err)
	assert.Equal(t, "key-c", other)
}

func TestCheckoutKeys_Release(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ReserveCheckoutKey(ctx, "cart-1", "key-a")
	require.NoError(t, err)

	key, ok, err := s.CheckoutKey(ctx, "cart-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "key-a", key)

	require.NoError(t, s.ReleaseCheckoutKey(ctx, "cart-1"))

	_, ok, err = s.CheckoutKey(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)

	next, err := s.ReserveCheckoutKey(ctx, "cart-1", "key-b")
	require.NoError(t, err)
	assert.Equal(t, "key-b", next)
}
