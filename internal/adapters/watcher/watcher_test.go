package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.forgemake.dev/forgemake/internal/adapters/watcher"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

func TestWatcher_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	w, err := watcher.New()
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o600))

	select {
	case ev, ok := <-eventsChan(w):
		require.True(t, ok)
		assert.Equal(t, path, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write event")
	}
}

func eventsChan(w *watcher.Watcher) <-chan ports.WatchEvent {
	ch := make(chan ports.WatchEvent, 1)
	go func() {
		for ev := range w.Events() {
			ch <- ev
			return
		}
	}()
	return ch
}

func TestWatcher_StartsWithAdminDirPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".forge-admin"), 0o750))

	w, err := watcher.New()
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))
}
