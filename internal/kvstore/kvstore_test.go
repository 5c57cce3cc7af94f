package kvstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, quota int64) *BadgerStore {
	t.Helper()
	s, err := Open(Options{InMemory: true, QuotaBytes: quota})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openMemory(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "graph.db", []byte("image")))

	got, err := s.Get(ctx, "graph.db")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), got)

	require.NoError(t, s.Put(ctx, "graph.db", []byte("image-2")))
	got, err = s.Get(ctx, "graph.db")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-2"), got)
}

func TestGet_Missing(t *testing.T) {
	s := openMemory(t, 0)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeys_PrefixSorted(t *testing.T) {
	s := openMemory(t, 0)
	ctx := context.Background()

	for _, k := range []string{"b.2", "a.1", "b.1", "b.3"} {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}

	keys, err := s.Keys(ctx, "b.")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.1", "b.2", "b.3"}, keys)

	none, err := s.Keys(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestQuota(t *testing.T) {
	s := openMemory(t, 64)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", bytes.Repeat([]byte("a"), 30)))
	assert.Equal(t, int64(32), s.Usage())

	err := s.Put(ctx, "k2", bytes.Repeat([]byte("b"), 40))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int64(32), s.Usage(), "failed put must not change usage")

	// Overwriting an existing key only counts the difference.
	require.NoError(t, s.Put(ctx, "k1", bytes.Repeat([]byte("a"), 60)))
	assert.Equal(t, int64(62), s.Usage())

	require.NoError(t, s.Delete(ctx, "k1"))
	assert.Equal(t, int64(0), s.Usage())
	require.NoError(t, s.Put(ctx, "k2", bytes.Repeat([]byte("b"), 40)))
}

func TestDelete_MissingIsNoop(t *testing.T) {
	s := openMemory(t, 0)
	assert.NoError(t, s.Delete(context.Background(), "missing"))
}

func TestReopen_RecountsUsage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "key", []byte("value")))
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(len("key")+len("value")), s.Usage())
	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestClosed(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put(context.Background(), "k", nil), ErrClosed)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
