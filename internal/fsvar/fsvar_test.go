package fsvar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "state")
	require.NoError(t, err)
	assert.False(t, exists)

	value := map[string]interface{}{"hosts": []interface{}{"a", "b"}, "count": 2.0}
	require.NoError(t, store.Write(ctx, "state", value))

	exists, err = store.Exists(ctx, "state")
	require.NoError(t, err)
	assert.True(t, exists)

	read, err := store.Read(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, value, read)
}

func TestStorePathUnderManifestDir(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Write(context.Background(), "here", "value"))
	_, err = os.Stat(filepath.Join(dir, ".lineup", "fs-vars", "here"))
	assert.NoError(t, err)
}

func TestStoreRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for _, name := range []string{"", "has space", "dot.ted", "sla/sh"} {
		assert.Error(t, store.Write(ctx, name, 1), name)
	}
	assert.NoError(t, store.Write(ctx, "ok_name_9", 1))
}

func TestStoreReadMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Read(context.Background(), "missing")
	assert.Error(t, err)
}
