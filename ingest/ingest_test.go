package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stevemurr/knowledge-vault/ingest"
	"github.com/stevemurr/knowledge-vault/store"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		size, overlap int
		want          []string
	}{
		{"empty", "", 4, 1, []string{}},
		{"shorter than a chunk", "abc", 4, 1, []string{"abc"}},
		{"exact fit", "abcdefgh", 4, 0, []string{"abcd", "efgh"}},
		{"overlap", "abcdefghij", 4, 1, []string{"abcd", "defg", "ghij"}},
		{"tail shorter than a chunk", "abcdefghijk", 4, 2, []string{"abcd", "cdef", "efgh", "ghij", "ijk"}},
		{"runes not bytes", "äöüßäöüß", 3, 1, []string{"äöü", "üßä", "äöü", "üß"}},
		{"whitespace trimmed and dropped", "ab      cd", 4, 0, []string{"ab", "cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ingest.Split(tt.text, tt.size, tt.overlap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	first, err := ingest.Split(text, 120, 20)
	require.NoError(t, err)
	second, err := ingest.Split(text, 120, 20)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	for _, c := range first {
		assert.LessOrEqual(t, len([]rune(c)), 120)
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	for _, c := range []struct{ size, overlap int }{{0, 0}, {-1, 0}, {4, 4}, {4, -1}} {
		_, err := ingest.Split("text", c.size, c.overlap)
		assert.ErrorIs(t, err, store.ErrInvalidArgument, "size=%d overlap=%d", c.size, c.overlap)
	}
	_, err := ingest.Split("a\xff", 4, 1)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newNamespace(t *testing.T) *store.DocumentStore {
	t.Helper()
	ds, err := store.NewRegistry(store.NewMemoryStore()).Create("bot1")
	require.NoError(t, err)
	return ds
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "a.md"), "a")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	writeFile(t, filepath.Join(dir, "image.png"), "png")
	writeFile(t, filepath.Join(dir, ".git", "d.txt"), "d")
	writeFile(t, filepath.Join(dir, ".notes.txt"), "e")
	extra := filepath.Join(t.TempDir(), "extra.log")
	writeFile(t, extra, "x")

	in, err := ingest.New(ingest.Options{})
	require.NoError(t, err)
	files, err := in.Files([]string{extra, dir, filepath.Join(dir, "a.md")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		extra,
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "sub", "c.txt"),
	}, files)

	in, err = ingest.New(ingest.Options{Include: []string{"sub/**"}})
	require.NoError(t, err)
	files, err = in.Files([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "sub", "c.txt")}, files)

	_, err = in.Files([]string{filepath.Join(dir, "missing.txt")})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = in.Files([]string{t.TempDir()})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := ingest.New(ingest.Options{ChunkSize: 10, Overlap: 10})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = ingest.New(ingest.Options{Include: []string{"[unclosed"}})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "abcdefghij")
	// shares its first chunk with a.txt
	writeFile(t, filepath.Join(dir, "b.txt"), "abcdXYZ")

	in, err := ingest.New(ingest.Options{ChunkSize: 4, Overlap: 1})
	require.NoError(t, err)
	ds := newNamespace(t)
	rep, err := in.Ingest(context.Background(), ds, []string{dir})
	require.NoError(t, err)
	assert.Equal(t, ingest.Report{Files: 2, Chunks: 5, Added: 4, AlreadyPresent: 1}, rep)

	items, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "defg", "ghij", "dXYZ"}, items)

	// a second run adds nothing
	rep, err = in.Ingest(context.Background(), ds, []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Added)
	again, err := ds.Items()
	require.NoError(t, err)
	assert.Equal(t, items, again)
}

func TestPrepareFailsBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "good text")
	writeFile(t, filepath.Join(dir, "b.txt"), "bad \xff text")

	in, err := ingest.New(ingest.Options{})
	require.NoError(t, err)
	ds := newNamespace(t)
	_, err = in.Ingest(context.Background(), ds, []string{dir})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	items, err := ds.Items()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestIngestHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "abc")
	in, err := ingest.New(ingest.Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = in.Ingest(ctx, newNamespace(t), []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	writeFile(t, path, "<html><body><h1>Light</h1><p>Light is <b>fast</b>.</p></body></html>")
	text, err := ingest.Load(path)
	require.NoError(t, err)
	assert.Contains(t, text, "Light")
	assert.Contains(t, text, "**fast**")
	assert.NotContains(t, text, "<p>")
}

func TestLoadSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"planet", "moons"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Mars", 2}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := ingest.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\nplanet | moons\nMars | 2", text)
}

func TestLoadNormalizesText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, "  line one\r\nline two\x00\r\n")
	text, err := ingest.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)
}
