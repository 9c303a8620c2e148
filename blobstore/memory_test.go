package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "a/b", []byte{1, 2, 3}))
	require.NoError(t, s.Put(ctx, "a/c", []byte{4}))
	require.NoError(t, s.Put(ctx, "x", []byte{5}))

	got, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// Mutating the returned slice does not affect the stored object.
	got[0] = 99
	again, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again)

	names, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "a/c"}, names)

	require.NoError(t, s.Delete(ctx, "a/b"))
	require.NoError(t, s.Delete(ctx, "a/b")) // idempotent
	_, err = s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, s.Len())
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	_, err := s.Get(ctx, "image.zarr/.zattrs")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "image.zarr/.zattrs", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "image.zarr/0/.zarray", []byte(`{"shape":[1]}`)))

	got, err := s.Get(ctx, "image.zarr/.zattrs")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)

	// Overwrite is atomic and replaces the content.
	require.NoError(t, s.Put(ctx, "image.zarr/.zattrs", []byte(`{"a":1}`)))
	got, err = s.Get(ctx, "image.zarr/.zattrs")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	names, err := s.List(ctx, "image.zarr/")
	require.NoError(t, err)
	assert.Equal(t, []string{"image.zarr/.zattrs", "image.zarr/0/.zarray"}, names)

	require.NoError(t, s.Delete(ctx, "image.zarr/0/.zarray"))
	require.NoError(t, s.Delete(ctx, "image.zarr/0/.zarray"))
	_, err = s.Get(ctx, "image.zarr/0/.zarray")
	assert.ErrorIs(t, err, ErrNotFound)
}
