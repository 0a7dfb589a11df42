package docs

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"gosnoop/internal/toolexec"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGenerator writes an index page into the directory after -o.
func fakeGenerator(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "gendocs")
	script := `#!/bin/sh
src="$1"; out="$3"
[ -d "$src" ] || { echo "no such source: $src" >&2; exit 1; }
mkdir -p "$out" && echo "<h1>docs</h1>" > "$out/index.html"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestGenerate(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	logo := filepath.Join(root, "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("PNG"), 0o644))

	cfg := Config{
		Command: fakeGenerator(t),
		Args:    []string{"{source}", "-o", "{output}"},
		Source:  src,
		Output:  filepath.Join(root, "docs"),
		Logo:    logo,
	}
	require.NoError(t, Generate(context.Background(), cfg, zap.NewNop()))

	got, err := os.ReadFile(filepath.Join(root, "docs", "logo.png"))
	require.NoError(t, err)
	require.Equal(t, "PNG", string(got))
	require.FileExists(t, filepath.Join(root, "docs", "index.html"))
}

func TestGenerateFailures(t *testing.T) {
	root := t.TempDir()
	gen := fakeGenerator(t)

	err := Generate(context.Background(), Config{
		Command: gen,
		Args:    []string{"{source}", "-o", "{output}"},
		Source:  filepath.Join(root, "missing"),
		Output:  filepath.Join(root, "docs"),
	}, zap.NewNop())
	require.ErrorContains(t, err, "no such source")

	err = Generate(context.Background(), Config{Command: "gosnoop-no-such-generator", Output: root}, zap.NewNop())
	require.ErrorIs(t, err, toolexec.ErrToolNotFound)

	src := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	err = Generate(context.Background(), Config{
		Command: gen,
		Args:    []string{"{source}", "-o", "{output}"},
		Source:  src,
		Output:  filepath.Join(root, "docs"),
		Logo:    filepath.Join(root, "missing.png"),
	}, zap.NewNop())
	require.ErrorContains(t, err, "copy logo")
}

func TestPreviewHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte("PNG"), 0o644))

	h := NewPreviewHandler(dir, zap.NewNop())

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<h1>hi</h1>"},
		{"/logo.png", http.StatusOK, "PNG"},
		{"/missing.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Origin", "http://localhost:3000")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				require.Equal(t, tt.body, rec.Body.String())
				require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestServeShutsDown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("ok"), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, dir, zap.NewNop()) }()

	client := &http.Client{Timeout: 2 * time.Second}
	// The listener is already open, so the request queues until Serve accepts.
	resp, err := client.Get("http://" + ln.Addr().String() + "/index.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeMissingDir(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	err = Serve(context.Background(), ln, filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	require.ErrorContains(t, err, "run docs first")
}

func TestSyncReadme(t *testing.T) {
	root := t.TempDir()
	readme := filepath.Join(root, "README.md")
	target := filepath.Join(root, "__init__.py")

	require.NoError(t, os.WriteFile(readme, []byte(
		"# Project\nbadges\n<!-- BEGIN CONTENT -->\n## Install\npip install it\n### Details\n# Top\n"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte(
		"# header comment\n\"\"\"\nold text\n\"\"\"\n\nimport x\n"), 0o644))

	require.NoError(t, SyncReadme(readme, target, "", ""))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t,
		"# header comment\n\"\"\"\n# Overview\n# Install\npip install it\n## Details\n# Top\n\"\"\"\n\nimport x\n",
		string(got))
}

func TestSyncReadmeMissingMarkers(t *testing.T) {
	root := t.TempDir()
	readme := filepath.Join(root, "README.md")
	target := filepath.Join(root, "mod.py")

	require.NoError(t, os.WriteFile(readme, []byte("no marker\n"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("\"\"\"\n\"\"\"\n"), 0o644))
	require.ErrorContains(t, SyncReadme(readme, target, "", ""), "BEGIN CONTENT")

	require.NoError(t, os.WriteFile(readme, []byte("<!-- BEGIN CONTENT -->\nx\n"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("\"\"\"\nunterminated\n"), 0o644))
	require.ErrorContains(t, SyncReadme(readme, target, "", ""), "no end of")
}
