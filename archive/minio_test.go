package archive_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/knowledge-vault/archive"
)

// TestMinioSink_Integration requires a running MinIO instance on
// localhost:9000 with the default credentials. Skipped otherwise.
func TestMinioSink_Integration(t *testing.T) {
	client, err := archive.DialMinio(archive.MinioOptions{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}
	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	sink := archive.NewMinioSink(client, "test-kvault", "it/")
	require.NoError(t, sink.EnsureBucket(ctx))

	ds := newNamespace(t, "bot1", "fact one")
	id, err := ds.CreateSnapshot("v1")
	require.NoError(t, err)

	a := archive.New(sink)
	key, err := a.Export(ctx, ds, id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Delete(ctx, key) })

	keys, err := a.List(ctx, "bot1")
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	newID, err := a.Import(ctx, ds, key)
	require.NoError(t, err)
	snap, err := ds.Snapshot(newID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fact one"}, snap.Documents)

	_, err = sink.Get(ctx, "bot1/missing.json.zst")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}
