// Package archive pulls single entries out of device zip archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrEntryNotFound is returned when the archive has no entry of that name.
var ErrEntryNotFound = errors.New("entry not found in archive")

// Extract copies entry from zipPath into a new temp file in dstDir and
// returns its path. The caller removes the file. On error nothing is left
// behind.
func Extract(ctx context.Context, zipPath, entry, dstDir string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer zr.Close()

	zf := lookup(zr.File, entry)
	if zf == nil {
		return "", fmt.Errorf("%s: %w: %s (archive holds %s)", zipPath, ErrEntryNotFound, entry, describe(names(zr.File)))
	}

	rc, err := zf.Open()
	if err != nil {
		return "", fmt.Errorf("%s: open %s: %w", zipPath, zf.Name, err)
	}
	defer rc.Close()

	out, err := os.CreateTemp(dstDir, "btsnoop-*.log")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: rc}); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("%s: extract %s: %w", zipPath, zf.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// names returns the file entries of an archive, sorted.
func names(files []*zip.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !f.FileInfo().IsDir() {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

const maxListed = 5

func describe(names []string) string {
	switch {
	case len(names) == 0:
		return "no files"
	case len(names) <= maxListed:
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:maxListed], ", "), len(names)-maxListed)
}

func lookup(files []*zip.File, entry string) *zip.File {
	for _, f := range files {
		if f.Name == entry {
			return f
		}
	}
	want := trim(entry)
	for _, f := range files {
		if trim(f.Name) == want {
			return f
		}
	}
	return nil
}

func trim(name string) string {
	return strings.TrimLeft(strings.TrimPrefix(name, "./"), "/")
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
