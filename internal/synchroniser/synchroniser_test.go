package synchroniser

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fswatch/internal/correlate"
	"github.com/tonimelisma/fswatch/internal/pathhash"
	"github.com/tonimelisma/fswatch/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func registerWatch(t *testing.T, s *store.Store, root string) string {
	t.Helper()
	now := time.Now()
	const watchID = "w1"
	require.NoError(t, s.RegisterWatch(context.Background(), store.WatchMetadata{
		WatchID: watchID, RootPath: root, ConfigJSON: "{}", CreatedAt: now, LastActive: now,
	}))
	return watchID
}

func TestHandleCreateWritesNodeAndEvent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	size := int64(10)
	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/a/file.txt", correlate.Meta{Size: &size}, time.Now()))

	n, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/a/file.txt"))
	require.NoError(t, err)
	require.Equal(t, "/w/a/file.txt", n.Path)
	require.Equal(t, store.NodeFile, n.Kind)

	hist, err := st.HistoryForPath(ctx, watchID, pathhash.Hash("/w/a/file.txt"), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "create", hist[0].Kind)
}

func TestHandleRemoveDeletesDirectorySubtree(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/dir", correlate.Meta{IsDirectory: true}, time.Now()))
	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/dir/child.txt", correlate.Meta{}, time.Now()))

	require.NoError(t, sync.HandleRemove(ctx, watchID, "/w/dir", true, time.Now()))

	_, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/dir"))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetNode(ctx, watchID, pathhash.Hash("/w/dir/child.txt"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleMoveRelocatesFile(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/old.txt", correlate.Meta{}, time.Now()))

	mv := correlate.MoveInfo{SourcePath: "/w/old.txt", DestPath: "/w/new.txt", Confidence: 0.95, Method: correlate.MethodInodeMatching}
	require.NoError(t, sync.HandleMove(ctx, watchID, "/w", mv, correlate.Meta{}, time.Now()))

	_, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/old.txt"))
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/new.txt"))
	require.NoError(t, err)
	require.Equal(t, "/w/new.txt", n.Path)

	hist, err := st.HistoryForPath(ctx, watchID, pathhash.Hash("/w/new.txt"), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "move", hist[0].Kind)
}

func TestHandleChmodUpdatesLastEventKind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/a/file.txt", correlate.Meta{}, time.Now()))
	require.NoError(t, sync.HandleChmod(ctx, watchID, "/w", "/w/a/file.txt", correlate.Meta{}, time.Now()))

	n, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/a/file.txt"))
	require.NoError(t, err)
	require.Equal(t, "chmod", n.LastEventKind)

	hist, err := st.HistoryForPath(ctx, watchID, pathhash.Hash("/w/a/file.txt"), 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "chmod", hist[0].Kind)
}

func TestHandleWriteUpdatesLastEventKind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/a/file.txt", correlate.Meta{}, time.Now()))
	require.NoError(t, sync.HandleWrite(ctx, watchID, "/w", "/w/a/file.txt", correlate.Meta{}, time.Now()))

	n, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/a/file.txt"))
	require.NoError(t, err)
	require.Equal(t, "write", n.LastEventKind)
}

func TestHandleMoveRelocatesDirectorySubtree(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	watchID := registerWatch(t, st, "/w")
	sync := New(st, nil)

	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/src", correlate.Meta{IsDirectory: true}, time.Now()))
	require.NoError(t, sync.HandleCreate(ctx, watchID, "/w", "/w/src/inner.txt", correlate.Meta{}, time.Now()))

	mv := correlate.MoveInfo{SourcePath: "/w/src", DestPath: "/w/dst", Confidence: 0.8, Method: correlate.MethodSizeAndTime}
	require.NoError(t, sync.HandleMove(ctx, watchID, "/w", mv, correlate.Meta{IsDirectory: true}, time.Now()))

	_, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/src/inner.txt"))
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := st.GetNode(ctx, watchID, pathhash.Hash("/w/dst/inner.txt"))
	require.NoError(t, err)
	require.Equal(t, "/w/dst/inner.txt", n.Path)
}
