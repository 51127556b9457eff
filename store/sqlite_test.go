package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/knowledge-vault/store"
)

func openSqlite(t *testing.T, path string) (*store.Registry, *store.SqliteStore) {
	t.Helper()
	b, err := store.NewSqliteStore(path)
	require.NoError(t, err)
	r := store.NewRegistry(b)
	t.Cleanup(func() { _ = r.Close() })
	return r, b
}

func TestSqliteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	r, b := openSqlite(t, path)
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	for _, text := range []string{"c", "a", "b"} {
		_, err := ds.AddItem(text)
		require.NoError(t, err)
	}
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	r, _ = openSqlite(t, path)
	ds, err = r.Open("bot1")
	require.NoError(t, err)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, items)

	snap, err := ds.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, snap.Documents)
}

func TestSqliteStoreDegradedListing(t *testing.T) {
	r, b := openSqlite(t, filepath.Join(t.TempDir(), "kv.db"))
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("a")
	require.NoError(t, err)
	broken, err := ds.CreateSnapshot("broken")
	require.NoError(t, err)
	good, err := ds.CreateSnapshot("good")
	require.NoError(t, err)

	_, err = b.DB().Exec("UPDATE snapshots SET created_at = 'yesterday' WHERE id = ?", broken)
	require.NoError(t, err)

	snaps, err := ds.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	byID := map[string]store.SnapshotInfo{}
	for _, info := range snaps {
		byID[info.ID] = info
	}
	assert.True(t, byID[broken].Unavailable)
	assert.Equal(t, store.MetadataUnavailable, byID[broken].Description)
	assert.Equal(t, "good", byID[good].Description)

	_, err = ds.Snapshot(broken)
	assert.ErrorIs(t, err, store.ErrIO)
}

func TestSqliteStoreDeleteCascades(t *testing.T) {
	r, b := openSqlite(t, filepath.Join(t.TempDir(), "kv.db"))
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("a")
	require.NoError(t, err)
	_, err = ds.CreateSnapshot("v1")
	require.NoError(t, err)
	require.NoError(t, r.Delete("bot1"))

	for _, table := range []string{"documents", "snapshots", "snapshot_documents"} {
		var n int
		require.NoError(t, b.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}
