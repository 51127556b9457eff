package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/knowledge-vault/internal/fs"
	"github.com/stevemurr/knowledge-vault/store"
)

func openJSON(t *testing.T, dir string, opts ...store.Option) *store.Registry {
	t.Helper()
	b, err := store.NewJsonFileStore(dir, opts...)
	require.NoError(t, err)
	r := store.NewRegistry(b, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func openFaultyJSON(t *testing.T) (*store.Registry, *fs.FaultyFS, string) {
	t.Helper()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	return openJSON(t, dir, store.WithFileSystem(ffs)), ffs, dir
}

// leftovers lists temporary, staging and trash entries anywhere under dir.
func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.Contains(name, ".tmp-") || strings.HasPrefix(name, ".staging-") || strings.HasPrefix(name, ".trash-") {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestJsonFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	r := openJSON(t, dir)
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("fact one")
	require.NoError(t, err)
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "bot1", "namespace.json"))
	assert.FileExists(t, filepath.Join(dir, "bot1", "snapshots", id+".json"))

	raw, err := os.ReadFile(filepath.Join(dir, "bot1", "documents.json"))
	require.NoError(t, err)
	var docs struct {
		Documents []string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(raw, &docs))
	assert.Equal(t, []string{"fact one"}, docs.Documents)

	raw, err = os.ReadFile(filepath.Join(dir, "bot1", "snapshots", id+".json"))
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, id, snap["id"])
	assert.Equal(t, "v1", snap["description"])
	assert.Contains(t, snap, "created_at")

	assert.Empty(t, leftovers(t, dir))
}

func TestJsonFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ds, err := openJSON(t, dir).Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("fact one")
	require.NoError(t, err)
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)
	_, err = ds.AddItem("fact two")
	require.NoError(t, err)

	ds, err = openJSON(t, dir).Open("bot1")
	require.NoError(t, err)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"fact one", "fact two"}, items)

	require.NoError(t, ds.Rollback(id))
	items, err = ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"fact one"}, items)
}

func TestJsonFileStoreFailedRollbackLeavesSetUnchanged(t *testing.T) {
	r, ffs, dir := openFaultyJSON(t)
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("a")
	require.NoError(t, err)
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)
	_, err = ds.AddItem("b")
	require.NoError(t, err)

	ffs.AddRule("documents.json", fs.Fault{FailOnRename: true})
	err = ds.Rollback(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIO)
	assert.ErrorIs(t, err, fs.ErrInjected)
	ffs.ClearRules()

	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.Empty(t, leftovers(t, dir))

	require.NoError(t, ds.Rollback(id))
	items, err = ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)
}

func TestJsonFileStoreFailedAddLeavesSetUnchanged(t *testing.T) {
	for name, fault := range map[string]fs.Fault{
		"write": {FailWrites: true, AfterBytes: 4},
		"sync":  {FailOnSync: true},
		"close": {FailOnClose: true},
	} {
		t.Run(name, func(t *testing.T) {
			r, ffs, dir := openFaultyJSON(t)
			ds, err := r.Create("bot1")
			require.NoError(t, err)
			_, err = ds.AddItem("a")
			require.NoError(t, err)

			ffs.AddRule("documents.json", fault)
			_, err = ds.AddItem("b")
			assert.ErrorIs(t, err, store.ErrIO)
			ffs.ClearRules()

			items, err := ds.Items()
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, items)
			assert.Empty(t, leftovers(t, dir))
		})
	}
}

func TestJsonFileStoreFailedSnapshotLeavesNoRecord(t *testing.T) {
	r, ffs, _ := openFaultyJSON(t)
	ds, err := r.Create("bot1")
	require.NoError(t, err)

	ffs.AddRule("snap_", fs.Fault{FailOnRename: true})
	_, err = ds.CreateSnapshot("v1")
	assert.ErrorIs(t, err, store.ErrIO)
	ffs.ClearRules()

	snaps, err := ds.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestJsonFileStoreFailedDeleteKeepsNamespace(t *testing.T) {
	r, ffs, _ := openFaultyJSON(t)
	ds, err := r.Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("a")
	require.NoError(t, err)
	_, err = ds.CreateSnapshot("v1")
	require.NoError(t, err)

	ffs.AddRule("bot1", fs.Fault{FailOnRename: true})
	err = r.Delete("bot1")
	assert.ErrorIs(t, err, store.ErrIO)
	ffs.ClearRules()

	ok, err := r.Exists("bot1")
	require.NoError(t, err)
	assert.True(t, ok)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)
	snaps, err := ds.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	require.NoError(t, r.Delete("bot1"))
	ok, err = r.Exists("bot1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJsonFileStoreDeleteCommitsBeforeCleanup(t *testing.T) {
	r, ffs, dir := openFaultyJSON(t)
	_, err := r.Create("bot1")
	require.NoError(t, err)

	ffs.AddRule(".trash-", fs.Fault{FailOnRemove: true})
	require.NoError(t, r.Delete("bot1"))
	ffs.ClearRules()

	ok, err := r.Exists("bot1")
	require.NoError(t, err)
	assert.False(t, ok)
	names, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	require.Len(t, leftovers(t, dir), 1)

	// reopening sweeps the trash
	openJSON(t, dir)
	assert.Empty(t, leftovers(t, dir))
}

func TestJsonFileStoreFailedCreateLeavesNothing(t *testing.T) {
	r, ffs, dir := openFaultyJSON(t)

	ffs.AddRule("namespace.json", fs.Fault{FailOnSync: true})
	_, err := r.Create("bot1")
	assert.ErrorIs(t, err, store.ErrIO)
	ffs.ClearRules()

	ok, err := r.Exists("bot1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(dir, "bot1"))
	assert.Empty(t, leftovers(t, dir))

	_, err = r.Create("bot1")
	require.NoError(t, err)
}

func TestJsonFileStoreDegradedListing(t *testing.T) {
	dir := t.TempDir()
	ds, err := openJSON(t, dir).Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("a")
	require.NoError(t, err)
	broken, err := ds.CreateSnapshot("broken")
	require.NoError(t, err)
	invalid, err := ds.CreateSnapshot("invalid")
	require.NoError(t, err)
	good, err := ds.CreateSnapshot("good")
	require.NoError(t, err)

	snapDir := filepath.Join(dir, "bot1", "snapshots")
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, broken+".json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, invalid+".json"),
		[]byte(`{"id": "`+invalid+`", "created_at": "2026-10-15T09:00:00Z", "documents": []}`), 0o644))

	snaps, err := ds.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	byID := make(map[string]store.SnapshotInfo)
	for _, info := range snaps {
		byID[info.ID] = info
	}
	for _, id := range []string{broken, invalid} {
		assert.True(t, byID[id].Unavailable, id)
		assert.Equal(t, store.MetadataUnavailable, byID[id].Description)
	}
	assert.False(t, byID[good].Unavailable)
	assert.Equal(t, "good", byID[good].Description)

	_, err = ds.Snapshot(broken)
	assert.ErrorIs(t, err, store.ErrIO)
	assert.ErrorIs(t, ds.Rollback(broken), store.ErrIO)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)

	// an unreadable snapshot can still be deleted
	require.NoError(t, ds.DeleteSnapshot(broken))
}

func TestJsonFileStoreCorruptDocumentSet(t *testing.T) {
	dir := t.TempDir()
	ds, err := openJSON(t, dir).Create("bot1")
	require.NoError(t, err)

	path := filepath.Join(dir, "bot1", "documents.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"documents": ["a", "a"]}`), 0o644))
	_, err = ds.Items()
	assert.ErrorIs(t, err, store.ErrIO)

	require.NoError(t, os.Remove(path))
	_, err = ds.Items()
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = ds.CreateSnapshot("v1")
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestJsonFileStoreIgnoresStrayEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0o644))

	r := openJSON(t, dir)
	_, err := r.Create("bot1")
	require.NoError(t, err)

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"bot1"}, names)
	_, err = r.Open("notes")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.Create("notes")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestJsonFileStoreSweepsLeftovers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{".staging-bot1-1", ".trash-bot2-2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name, "snapshots"), 0o755))
	}
	openJSON(t, dir)
	assert.Empty(t, leftovers(t, dir))
}

func TestJsonFileStoreSweepsTempFiles(t *testing.T) {
	dir := t.TempDir()
	ds, err := openJSON(t, dir).Create("bot1")
	require.NoError(t, err)
	_, err = ds.AddItem("fact one")
	require.NoError(t, err)
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)

	stale := []string{
		filepath.Join(dir, "bot1", "documents.json"+fs.TempMarker+"1"),
		filepath.Join(dir, "bot1", "snapshots", id+".json"+fs.TempMarker+"2"),
	}
	for _, path := range stale {
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	}

	reopened := openJSON(t, dir)
	assert.Empty(t, leftovers(t, dir))

	ds, err = reopened.Open("bot1")
	require.NoError(t, err)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"fact one"}, items)
	snaps, err := ds.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(snaps))
}

func writeMarker(t *testing.T, dir, ns, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ns, "namespace.json"), []byte(content), 0o644))
}

// A directory whose marker names another namespace is what "BOT1" sees of
// "bot1" on a case-insensitive filesystem.
func TestJsonFileStoreMarkerMustNameNamespace(t *testing.T) {
	dir := t.TempDir()
	r := openJSON(t, dir)
	_, err := r.Create("bot1")
	require.NoError(t, err)
	writeMarker(t, dir, "bot1", `{"name": "BOT1", "created_at": "2026-10-15T09:00:00Z"}`)

	_, err = r.Open("bot1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	ok, err := r.Exists("bot1")
	require.NoError(t, err)
	assert.False(t, ok)
	names, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = r.Create("bot1")
	assert.ErrorIs(t, err, store.ErrIO)
	assert.NotErrorIs(t, err, store.ErrAlreadyExists)
}

func TestJsonFileStoreCorruptMarker(t *testing.T) {
	dir := t.TempDir()
	r := openJSON(t, dir)
	_, err := r.Create("bot1")
	require.NoError(t, err)
	writeMarker(t, dir, "bot1", `{"name": "bot1"}`)

	_, err = r.Open("bot1")
	assert.ErrorIs(t, err, store.ErrIO)
	_, err = r.Exists("bot1")
	assert.ErrorIs(t, err, store.ErrIO)

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"bot1"}, names)
}

// Two stores on one directory behave like two processes: only the flock
// keeps their read-modify-write cycles apart.
func TestJsonFileStoreTwoWriters(t *testing.T) {
	dir := t.TempDir()
	first := openJSON(t, dir)
	_, err := first.Create("bot1")
	require.NoError(t, err)
	second := openJSON(t, dir)

	var wg sync.WaitGroup
	for w, r := range []*store.Registry{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ds, err := r.Open("bot1")
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < 20; i++ {
				_, err := ds.AddItem(strings.Repeat("w", w+1) + string(rune('a'+i)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	ds, err := first.Open("bot1")
	require.NoError(t, err)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Len(t, items, 40)
}
