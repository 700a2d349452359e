package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherDetectsRenameAsMove(t *testing.T) {
	root := t.TempDir()
	subA := filepath.Join(root, "a")
	subB := filepath.Join(root, "b")
	require.NoError(t, os.MkdirAll(subA, 0o755))
	require.NoError(t, os.MkdirAll(subB, 0o755))

	srcPath := filepath.Join(subA, "x.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello world"), 0o644))

	cfg := DefaultConfig()
	cfg.Path = root
	cfg.MoveDetector.Timeout = time.Second
	cfg.Store.DatabasePath = filepath.Join(t.TempDir(), "fswatch.db")

	handle, stream, err := New(cfg, nil)
	require.NoError(t, err)
	defer handle.Stop()

	// Give the initial scan and watch arming a moment to settle before
	// generating the rename that should be correlated.
	time.Sleep(100 * time.Millisecond)

	destPath := filepath.Join(subB, "x.txt")
	require.NoError(t, os.Rename(srcPath, destPath))

	var sawMove bool
	timeout := time.After(3 * time.Second)

loop:
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				break loop
			}
			if ev.Kind == KindMove && ev.Move != nil && ev.Move.DestPath == destPath {
				sawMove = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}

	require.True(t, sawMove, "expected a Move event for the renamed file")
}

func TestWatcherStopDrainsCleanly(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = root
	cfg.Store.DatabasePath = filepath.Join(t.TempDir(), "fswatch.db")

	handle, stream, err := New(cfg, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range stream {
		}
		close(done)
	}()

	handle.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not close after Stop()")
	}
}

func TestWatcherStatsReflectsPendingPools(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = root
	cfg.Store.DatabasePath = filepath.Join(t.TempDir(), "fswatch.db")

	handle, stream, err := New(cfg, nil)
	require.NoError(t, err)
	defer handle.Stop()

	go func() {
		for range stream {
		}
	}()

	stats, err := handle.Stats(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.Global.EventCount, int64(0))
	require.Zero(t, stats.PendingRemoves)
	require.Zero(t, stats.PendingCreates)
	require.Contains(t, stats.String(), "events processed")
}
