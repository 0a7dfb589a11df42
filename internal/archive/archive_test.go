package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gosnoop/internal/fixture"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	snoop := fixture.Session(t)
	zipPath := fixture.Zip(t, filepath.Join(dir, "dev.zip"), map[string][]byte{
		fixture.SnoopPath: snoop,
		"FS/other.txt":    []byte("x"),
	})

	path, err := Extract(context.Background(), zipPath, fixture.SnoopPath, dir)
	require.NoError(t, err)
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, snoop, got)
	require.Equal(t, dir, filepath.Dir(path))
}

func TestExtractStripsLeadingDot(t *testing.T) {
	dir := t.TempDir()
	zipPath := fixture.Zip(t, filepath.Join(dir, "dev.zip"), map[string][]byte{
		"./" + fixture.SnoopPath: []byte("data"),
	})

	path, err := Extract(context.Background(), zipPath, fixture.SnoopPath, dir)
	require.NoError(t, err)
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "data", string(got))
}

func TestExtractMissingEntry(t *testing.T) {
	dir := t.TempDir()
	zipPath := fixture.Zip(t, filepath.Join(dir, "dev.zip"), map[string][]byte{
		"FS/other.txt": []byte("x"),
	})

	_, err := Extract(context.Background(), zipPath, fixture.SnoopPath, dir)
	require.ErrorIs(t, err, ErrEntryNotFound)
	require.ErrorContains(t, err, "archive holds FS/other.txt")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the archive should remain")
}

func TestExtractCanceled(t *testing.T) {
	dir := t.TempDir()
	zipPath := fixture.Zip(t, filepath.Join(dir, "dev.zip"), map[string][]byte{
		fixture.SnoopPath: []byte("data"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, zipPath, fixture.SnoopPath, dir)
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExtractNotAZip(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

	_, err := Extract(context.Background(), bad, fixture.SnoopPath, dir)
	require.Error(t, err)
}

func TestMissingEntryListsContents(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{}
	for _, name := range []string{"g.txt", "a.txt", "b/c.txt", "d.txt", "e.txt", "f.txt", "h.txt"} {
		files[name] = []byte(name)
	}
	zipPath := fixture.Zip(t, filepath.Join(dir, "dev.zip"), files)

	_, err := Extract(context.Background(), zipPath, fixture.SnoopPath, dir)
	require.ErrorIs(t, err, ErrEntryNotFound)
	require.ErrorContains(t, err, "archive holds a.txt, b/c.txt, d.txt, e.txt, f.txt and 2 more")
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "no files", describe(nil))
	require.Equal(t, "a, b", describe([]string{"a", "b"}))
}
