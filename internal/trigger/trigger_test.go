package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitSignal(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed")
	case <-time.After(within):
		t.Fatal("no signal")
	}
}

func noSignal(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(within):
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, dir, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	noSignal(t, ch, 300*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.zip"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ZIP"), []byte("x"), 0o644))
	waitSignal(t, ch, 3*time.Second)
	noSignal(t, ch, 300*time.Millisecond)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.zip"), []byte("x"), 0o644))
	waitSignal(t, ch, 3*time.Second)

	cancel()
	waitClosed(t, ch)
}

func TestWatchDirectoryMovedIn(t *testing.T) {
	dir := t.TempDir()
	stage := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, dir, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	empty := filepath.Join(stage, "empty")
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "nested"), 0o755))
	require.NoError(t, os.Rename(empty, filepath.Join(dir, "empty")))
	noSignal(t, ch, 300*time.Millisecond)

	batch := filepath.Join(stage, "batch")
	require.NoError(t, os.MkdirAll(filepath.Join(batch, "day1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(batch, "day1", "dev.zip"), []byte("x"), 0o644))
	require.NoError(t, os.Rename(batch, filepath.Join(dir, "batch")))
	waitSignal(t, ch, 3*time.Second)

	cancel()
	waitClosed(t, ch)
}

func TestWatchMissingDir(t *testing.T) {
	_, err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Millisecond, zap.NewNop())
	require.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "0 */5 * * * *", "@hourly", "@every 10m"} {
		_, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
	}
	_, err := ParseSchedule("every tuesday")
	require.ErrorContains(t, err, "invalid schedule")
}

func TestSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Schedule(ctx, "* * * * * *", zap.NewNop())
	require.NoError(t, err)
	waitSignal(t, ch, 3*time.Second)

	cancel()
	waitClosed(t, ch)
}
