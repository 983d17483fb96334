package blobstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzong05/farm2go-sub002/blobstore"
	"github.com/hanzong05/farm2go-sub002/internal/errors"
)

func stores(t *testing.T) map[string]blobstore.Store {
	t.Helper()

	file, err := blobstore.NewFile(t.TempDir())
	require.NoError(t, err)

	return map[string]blobstore.Store{
		"memory": blobstore.NewMemory(),
		"file":   file,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("farm2go.session.tokens", []byte(`{"access_token":"a"}`)))

			got, err := store.Get("farm2go.session.tokens")
			require.NoError(t, err)
			require.JSONEq(t, `{"access_token":"a"}`, string(got))
		})
	}
}

func TestStore_GetMissingKey(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get("farm2go.session.unknown")
			require.ErrorIs(t, err, errors.ErrKeyNotFound)
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("key", []byte("first")))
			require.NoError(t, store.Set("key", []byte("second")))

			got, err := store.Get("key")
			require.NoError(t, err)
			require.Equal(t, "second", string(got))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("key", []byte("value")))
			require.NoError(t, store.Delete("key"))

			_, err := store.Get("key")
			require.ErrorIs(t, err, errors.ErrKeyNotFound)

			// Deleting an absent key is not an error.
			require.NoError(t, store.Delete("key"))
		})
	}
}

func TestMemory_CopiesOnReadAndWrite(t *testing.T) {
	store := blobstore.NewMemory()

	blob := []byte("original")
	require.NoError(t, store.Set("key", blob))
	blob[0] = 'X'

	got, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, "original", string(again))
}

func TestFile_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := blobstore.NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("farm2go.session.identity", []byte(`{"id":"user-1"}`)))

	reopened, err := blobstore.NewFile(dir)
	require.NoError(t, err)

	got, err := reopened.Get("farm2go.session.identity")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"user-1"}`, string(got))
}

func TestFile_RestrictsPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")

	store, err := blobstore.NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("farm2go.session.tokens", []byte("secret")))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fileInfo, err := entries[0].Info()
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestFile_SanitizesKeysIntoFilenames(t *testing.T) {
	store, err := blobstore.NewFile(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("farm2go.session.last_activity", []byte("ts")))
	require.NoError(t, store.Set("../escape-attempt", []byte("nope")))

	got, err := store.Get("farm2go.session.last_activity")
	require.NoError(t, err)
	require.Equal(t, "ts", string(got))

	got, err = store.Get("../escape-attempt")
	require.NoError(t, err)
	require.Equal(t, "nope", string(got))
}
