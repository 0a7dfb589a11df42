package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gosnoop/internal/config"
	"gosnoop/internal/discovery"
	"gosnoop/internal/fixture"
	"gosnoop/internal/htmsg"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	dir, in, out string
}

// newEnv runs the test in a fresh directory so no .gosnoop.yaml leaks in.
func newEnv(t *testing.T) env {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return env{dir: dir, in: filepath.Join(dir, "input"), out: filepath.Join(dir, "output")}
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	cmd := newRootCmd(&app{v: config.New(), log: zap.NewNop()})
	var stdout bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--input-dir", e.in, "--output-dir", e.out}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func readLines(t *testing.T, path string) []string {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestAllConvertsArchives(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "phone.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})
	fixture.Zip(t, filepath.Join(e.in, "lab", "tablet.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})

	_, err := e.run(t, "", "all", "--decoder", "native", "-j", "2")
	require.NoError(t, err)

	for _, out := range []string{"phone.log", filepath.Join("lab", "tablet.log")} {
		lines := readLines(t, filepath.Join(e.out, out))
		require.Len(t, lines, 4)
		for _, l := range lines {
			require.True(t, json.Valid([]byte(l)), l)
		}
	}
}

func TestDefaultCommandIsAll(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "phone.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})

	_, err := e.run(t, "", "--decoder", "native", "--filter", ".kind")
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(e.out, "phone.log"))
	require.Len(t, lines, 4)
	require.Equal(t, `"command"`, lines[0])
}

func TestAllSkipsUpToDateOutput(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "phone.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})

	_, err := e.run(t, "", "all", "--decoder", "native")
	require.NoError(t, err)

	out := filepath.Join(e.out, "phone.log")
	require.NoError(t, os.WriteFile(out, []byte("kept\n"), 0o644))

	_, err = e.run(t, "", "all", "--decoder", "native")
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, readLines(t, out))

	_, err = e.run(t, "", "all", "--decoder", "native", "-B")
	require.NoError(t, err)
	require.Len(t, readLines(t, out), 4)
}

func TestAllFailsOnMissingEntry(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "broken.zip"), map[string][]byte{"other.txt": []byte("x")})

	_, err := e.run(t, "", "all", "--decoder", "native")
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(e.out, "broken.log"))
}

func TestAllWritesReport(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "phone.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})

	_, err := e.run(t, "", "all", "--decoder", "native", "--report", "json")
	require.NoError(t, err)

	reports, err := filepath.Glob(filepath.Join(e.out, "report_*.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func TestAllRejectsBadConfig(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "all", "--decoder", "wireshark")
	require.ErrorContains(t, err, "invalid config")

	_, err = e.run(t, "", "all", "--filter", ".[")
	require.Error(t, err)
}

func TestLogBuildsNamedTarget(t *testing.T) {
	e := newEnv(t)
	fixture.Zip(t, filepath.Join(e.in, "phone.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})
	fixture.Zip(t, filepath.Join(e.in, "other.zip"), map[string][]byte{fixture.SnoopPath: fixture.Session(t)})

	_, err := e.run(t, "", "log", "--decoder", "native", filepath.Join(e.out, "phone.log"))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(e.out, "phone.log"))
	require.NoFileExists(t, filepath.Join(e.out, "other.log"))
}

func TestLogNoRule(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "log", filepath.Join(e.out, "missing.log"))
	require.ErrorIs(t, err, discovery.ErrNoRule)
}

func TestParseFromStdin(t *testing.T) {
	e := newEnv(t)
	req := fixture.HT(0x00, 0x0d, []byte{0x03})
	in := "id,dir,data\n1,phone->radio," + hex.EncodeToString(req) + "\n"

	out, err := e.run(t, in, "parse")
	require.NoError(t, err)
	require.Contains(t, out, "id,dir,msg_type,msg")
	require.Contains(t, out, "1,phone->radio,channel_info_request,")
}

func TestParseReportsBadFrame(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "frames.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,dir,data\n7,sideways,ff\n"), 0o644))

	_, err := e.run(t, "", "parse", path)
	require.ErrorIs(t, err, htmsg.ErrUnknownDirection)
}

func TestSyncReadme(t *testing.T) {
	e := newEnv(t)
	readme := filepath.Join(e.dir, "README.md")
	target := filepath.Join(e.dir, "module.py")
	require.NoError(t, os.WriteFile(readme, []byte("# Title\n<!-- BEGIN CONTENT -->\n## Usage\nrun it\n"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("\"\"\"\nold\n\"\"\"\ncode = 1\n"), 0o644))

	_, err := e.run(t, "", "sync-readme", target)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "\"\"\"\n# Overview\n# Usage\nrun it\n\"\"\"\ncode = 1\n", string(got))
}

func TestSyncReadmeNeedsTarget(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "sync-readme")
	require.ErrorIs(t, err, errNoReadmeTarget)
}
