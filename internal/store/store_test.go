package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fswatch/internal/pathhash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s
}

func testWatch(t *testing.T, s *Store, root string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now()
	require.NoError(t, s.RegisterWatch(context.Background(), WatchMetadata{
		WatchID:    id,
		RootPath:   root,
		ConfigJSON: "{}",
		CreatedAt:  now,
		LastActive: now,
	}))
	return id
}

func TestOpenAppliesMigrationsAndSchemaVersion(t *testing.T) {
	s := newTestStore(t)

	var version int
	err := s.db.QueryRowContext(context.Background(), `SELECT schema_version FROM store_meta WHERE id = 1`).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, schemaVersion, version)
}

func TestCheckIntegrityReportsOK(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CheckIntegrity(context.Background()))
}

func TestRegisterAndGetWatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := testWatch(t, s, "/home/user/docs")

	wm, err := s.GetWatch(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "/home/user/docs", wm.RootPath)
	require.Zero(t, wm.NodeCount)

	_, err = s.GetWatch(ctx, "missing")
	require.ErrorIs(t, err, ErrWatchNotFound)
}

func TestUpsertNodeMaintainsHierarchyAndPrefixes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")

	parentHash := uint64(100)
	childHash := uint64(200)
	now := time.Now()

	err := s.UpsertNode(ctx, Node{
		WatchID:       watchID,
		Path:          "/w/a/b.txt",
		Kind:          NodeFile,
		PathHash:      childHash,
		ParentHash:    &parentHash,
		ModifiedAt:    now,
		CreatedAt:     now,
		AccessedAt:    now,
		CanonicalName: "b.txt",
	}, []string{"/w", "/w/a"})
	require.NoError(t, err)

	children, err := s.ListChildren(ctx, watchID, parentHash)
	require.NoError(t, err)
	require.Contains(t, children, childHash)

	descendants, err := s.ListDescendantsByPrefix(ctx, watchID, "/w/a")
	require.NoError(t, err)
	require.Contains(t, descendants, childHash)

	n, err := s.GetNode(ctx, watchID, childHash)
	require.NoError(t, err)
	require.Equal(t, "/w/a/b.txt", n.Path)
	require.Equal(t, 1, n.CacheVersion)

	// Re-upsert bumps cache_version.
	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/a/b.txt", Kind: NodeFile, PathHash: childHash,
		ParentHash: &parentHash, ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "b.txt",
	}, []string{"/w", "/w/a"}))
	n2, err := s.GetNode(ctx, watchID, childHash)
	require.NoError(t, err)
	require.Equal(t, 2, n2.CacheVersion)
}

func TestDeleteSubtreeRemovesDescendants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	now := time.Now()

	dirHash := uint64(1)
	fileHash := uint64(2)

	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/dir", Kind: NodeDirectory, PathHash: dirHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "dir",
	}, nil))
	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/dir/file.txt", Kind: NodeFile, PathHash: fileHash,
		ParentHash: &dirHash, ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "file.txt",
	}, []string{"/w", "/w/dir"}))

	require.NoError(t, s.DeleteSubtree(ctx, watchID, dirHash))

	_, err := s.GetNode(ctx, watchID, dirHash)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetNode(ctx, watchID, fileHash)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSharedNodePromotedAtTwoWatchers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchA := testWatch(t, s, "/a")
	watchB := testWatch(t, s, "/a/nested")
	now := time.Now()

	sharedHash := uint64(999)

	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchA, Path: "/a/nested/f.txt", Kind: NodeFile, PathHash: sharedHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "f.txt",
	}, nil))

	_, ok, err := s.SharedNode(ctx, sharedHash)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchB, Path: "/a/nested/f.txt", Kind: NodeFile, PathHash: sharedHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "f.txt",
	}, nil))

	info, ok, err := s.SharedNode(ctx, sharedHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.ElementsMatch(t, []string{watchA, watchB}, info.WatchingIDs)
}

func TestDetectOverlapsClassifiesNesting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWatch(t, s, "/a")
	testWatch(t, s, "/a/b")

	overlaps, err := s.DetectOverlaps(ctx)
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	require.Equal(t, OverlapNestedChild, overlaps[0].Kind)
}

func TestAppendEventBumpsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	pathHash := uint64(55)

	require.NoError(t, s.AppendEvent(ctx, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/f", Kind: "create",
		Timestamp: time.Now(), Payload: "{}",
	}, pathHash))

	global, err := s.GlobalStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, global.EventCount)
	require.EqualValues(t, 1, global.PerType["create"])

	watchStats, err := s.WatchStats(ctx, watchID)
	require.NoError(t, err)
	require.EqualValues(t, 1, watchStats.EventCount)

	hist, err := s.HistoryForPath(ctx, watchID, pathHash, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "create", hist[0].Kind)
}

func TestUpsertNodeWithEventCommitsCacheAndLogTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	now := time.Now()
	pathHash := uint64(321)

	require.NoError(t, s.UpsertNodeWithEvent(ctx, Node{
		WatchID: watchID, Path: "/w/f.txt", Kind: NodeFile, PathHash: pathHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "f.txt",
	}, []string{"/w"}, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/f.txt", Kind: "create",
		Timestamp: now, Payload: "{}",
	}))

	n, err := s.GetNode(ctx, watchID, pathHash)
	require.NoError(t, err)
	require.Equal(t, "/w/f.txt", n.Path)

	hist, err := s.HistoryForPath(ctx, watchID, pathHash, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)

	global, err := s.GlobalStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, global.EventCount)
}

func TestMoveSubtreeWithEventRelocatesDescendants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	now := time.Now()

	srcHash := pathhash.Hash("/w/src")
	childHash := pathhash.Hash("/w/src/child.txt")

	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/src", Kind: NodeDirectory, PathHash: srcHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "src",
	}, nil))
	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/src/child.txt", Kind: NodeFile, PathHash: childHash,
		ParentHash: &srcHash, ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "child.txt",
	}, []string{"/w", "/w/src"}))

	destHash := pathhash.Hash("/w/dst")
	rewrite := func(old Node) (Node, []string) {
		old.Path = "/w/dst/child.txt"
		old.PathHash = pathhash.Hash("/w/dst/child.txt")
		old.ParentHash = &destHash
		old.CanonicalName = "child.txt"
		return old, []string{"/w", "/w/dst"}
	}

	require.NoError(t, s.MoveSubtreeWithEvent(ctx, watchID, srcHash, Node{
		WatchID: watchID, Path: "/w/dst", Kind: NodeDirectory, PathHash: destHash,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "dst",
	}, []string{"/w"}, rewrite, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/dst", Kind: "move",
		Timestamp: now, Payload: "{}",
	}))

	_, err := s.GetNode(ctx, watchID, srcHash)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetNode(ctx, watchID, childHash)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := s.GetNode(ctx, watchID, pathhash.Hash("/w/dst/child.txt"))
	require.NoError(t, err)
	require.Equal(t, "/w/dst/child.txt", n.Path)
}

func TestRepairStatsCountersRebuildsFromLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	pathHash := uint64(7)

	require.NoError(t, s.AppendEvent(ctx, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/f", Kind: "create", Timestamp: time.Now(), Payload: "{}",
	}, pathHash))
	require.NoError(t, s.AppendEvent(ctx, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/f", Kind: "write", Timestamp: time.Now(), Payload: "{}",
	}, pathHash))

	// Corrupt the counters directly to simulate drift.
	_, err := s.db.ExecContext(ctx, `UPDATE stats_global SET event_count = 999 WHERE id = 1`)
	require.NoError(t, err)

	require.NoError(t, s.RepairStatsCounters(ctx))

	global, err := s.GlobalStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, global.EventCount)
}

func TestPruneEventsBeforeCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx, EventRecord{
		RecordID: uuid.NewString(), WatchID: watchID, Path: "/w/old", Kind: "create", Timestamp: old, Payload: "{}",
	}, 1))

	n, err := s.PruneEventsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	hist, err := s.HistoryForPath(ctx, watchID, 1, 10)
	require.NoError(t, err)
	require.Empty(t, hist)
}

func TestUnregisterWatchCleansUpRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	watchID := testWatch(t, s, "/w")
	now := time.Now()

	require.NoError(t, s.UpsertNode(ctx, Node{
		WatchID: watchID, Path: "/w/f", Kind: NodeFile, PathHash: 1,
		ModifiedAt: now, CreatedAt: now, AccessedAt: now, CanonicalName: "f",
	}, []string{"/w"}))

	require.NoError(t, s.UnregisterWatch(ctx, watchID))

	_, err := s.GetWatch(ctx, watchID)
	require.ErrorIs(t, err, ErrWatchNotFound)

	_, err = s.GetNode(ctx, watchID, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
