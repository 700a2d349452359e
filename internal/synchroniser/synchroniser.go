// Package synchroniser translates correlated filesystem events into
// mutations against the Multi-Watch Store: it is the glue between the
// Move-Detection Correlator's emission stream and the persistent cache. Every
// handler writes its cache mutation and the corresponding event_log row
// through one of the Store's WithEvent methods, so the two commit together
// in a single transaction or not at all.
package synchroniser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/fswatch/internal/correlate"
	"github.com/tonimelisma/fswatch/internal/pathhash"
	"github.com/tonimelisma/fswatch/internal/store"
)

// Synchroniser applies correlate.Emission values to a Store, one watch at a
// time. It holds no per-watch state of its own — the Store is the single
// source of truth the Correlator's pending pools are deliberately kept
// separate from.
type Synchroniser struct {
	st     *store.Store
	logger *slog.Logger
}

// New returns a Synchroniser writing to st.
func New(st *store.Store, logger *slog.Logger) *Synchroniser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchroniser{st: st, logger: logger}
}

// movePayload is the JSON body an EVENT_LOG row carries for a Move, giving
// history_for_path enough to report provenance without a join back to the
// correlator (which keeps no history of its own).
type movePayload struct {
	SourcePath string  `json:"source_path"`
	DestPath   string  `json:"dest_path"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// HandleCreate upserts the new node and appends a create event in one
// transaction. meta carries whatever identity/size information the
// watcher's stat of path produced; a zero Meta yields a node with no size,
// identity or content hash, and needs_refresh is left unset.
func (s *Synchroniser) HandleCreate(ctx context.Context, watchID, rootPath, path string, meta correlate.Meta, ts time.Time) error {
	node := nodeFromMeta(watchID, rootPath, path, meta, ts, "create")

	if err := s.st.UpsertNodeWithEvent(ctx, node, pathhash.Prefixes(path), s.eventRecord(watchID, path, "create", ts, "{}")); err != nil {
		return fmt.Errorf("synchroniser: handling create for %s: %w", path, err)
	}

	return nil
}

// HandleWrite refreshes an existing node's content fields without
// disturbing its hierarchy placement, in the same transaction as its write
// event.
func (s *Synchroniser) HandleWrite(ctx context.Context, watchID, rootPath, path string, meta correlate.Meta, ts time.Time) error {
	node := nodeFromMeta(watchID, rootPath, path, meta, ts, "write")

	if err := s.st.UpsertNodeWithEvent(ctx, node, pathhash.Prefixes(path), s.eventRecord(watchID, path, "write", ts, "{}")); err != nil {
		return fmt.Errorf("synchroniser: handling write for %s: %w", path, err)
	}

	return nil
}

// HandleChmod refreshes a node's metadata after a permission-only change —
// the same cache refresh a write gets, distinguished only by the
// last_event_kind and event_log entry it leaves behind.
func (s *Synchroniser) HandleChmod(ctx context.Context, watchID, rootPath, path string, meta correlate.Meta, ts time.Time) error {
	node := nodeFromMeta(watchID, rootPath, path, meta, ts, "chmod")

	if err := s.st.UpsertNodeWithEvent(ctx, node, pathhash.Prefixes(path), s.eventRecord(watchID, path, "chmod", ts, "{}")); err != nil {
		return fmt.Errorf("synchroniser: handling chmod for %s: %w", path, err)
	}

	return nil
}

// HandleRemove deletes the node (and, for a directory, its whole subtree)
// and appends a terminal remove event, all in one transaction.
func (s *Synchroniser) HandleRemove(ctx context.Context, watchID, path string, isDirectory bool, ts time.Time) error {
	pathHash := pathhash.Hash(path)
	rec := s.eventRecord(watchID, path, "remove", ts, "{}")

	var err error
	if isDirectory {
		err = s.st.DeleteSubtreeWithEvent(ctx, watchID, pathHash, rec)
	} else {
		err = s.st.DeleteNodeWithEvent(ctx, watchID, pathHash, rec)
	}
	if err != nil {
		return fmt.Errorf("synchroniser: handling remove for %s: %w", path, err)
	}

	return nil
}

// HandleMove relocates a node from mv.SourcePath to mv.DestPath: for a
// directory move, every descendant's cached path is rewritten under the
// new prefix rather than re-walked, since the filesystem already moved the
// whole subtree atomically. meta describes the destination as currently
// stat'd. The node mutation(s) and the move's EventRecord commit in one
// transaction regardless of how many descendants are involved.
func (s *Synchroniser) HandleMove(ctx context.Context, watchID, rootPath string, mv correlate.MoveInfo, meta correlate.Meta, ts time.Time) error {
	payload, err := json.Marshal(movePayload{
		SourcePath: mv.SourcePath,
		DestPath:   mv.DestPath,
		Confidence: mv.Confidence,
		Method:     mv.Method.String(),
	})
	if err != nil {
		return fmt.Errorf("synchroniser: encoding move payload: %w", err)
	}
	rec := s.eventRecord(watchID, mv.DestPath, "move", ts, string(payload))

	if meta.IsDirectory {
		if err := s.moveSubtree(ctx, watchID, rootPath, mv.SourcePath, mv.DestPath, ts, rec); err != nil {
			return fmt.Errorf("synchroniser: handling directory move %s -> %s: %w", mv.SourcePath, mv.DestPath, err)
		}
		return nil
	}

	sourceHash := pathhash.Hash(mv.SourcePath)
	node := nodeFromMeta(watchID, rootPath, mv.DestPath, meta, ts, "move")
	if err := s.st.MoveNodeWithEvent(ctx, watchID, sourceHash, node, pathhash.Prefixes(mv.DestPath), rec); err != nil {
		return fmt.Errorf("synchroniser: writing moved-to node %s: %w", mv.DestPath, err)
	}

	return nil
}

// moveSubtree re-homes a directory and every cached descendant by deleting
// the old cache rows and writing fresh ones under the new path prefix, in
// the single transaction the Store's MoveSubtreeWithEvent drives. Every
// hierarchy/prefix row is keyed on path hash rather than a movable pointer,
// so the Store has no native "rename subtree" primitive; delete-then-recreate
// is the straightforward way to keep those tables consistent across a
// rename.
func (s *Synchroniser) moveSubtree(ctx context.Context, watchID, rootPath, sourcePath, destPath string, ts time.Time, rec store.EventRecord) error {
	sourceHash := pathhash.Hash(sourcePath)

	rootMeta := correlate.Meta{IsDirectory: true, ModTime: ts}
	rootNode := nodeFromMeta(watchID, rootPath, destPath, rootMeta, ts, "move")

	rewrite := func(old store.Node) (store.Node, []string) {
		rel, err := filepath.Rel(sourcePath, old.Path)
		if err != nil {
			rel = filepath.Base(old.Path)
		}
		newPath := filepath.Join(destPath, rel)

		old.Path = newPath
		old.PathHash = pathhash.Hash(newPath)
		old.WatchID = watchID
		old.LastEventKind = "move"
		old.ParentHash = parentHashOf(newPath, rootPath)
		old.CanonicalName = filepath.Base(newPath)
		old.DepthFromRoot = depthFromRoot(newPath, rootPath)

		return old, pathhash.Prefixes(newPath)
	}

	return s.st.MoveSubtreeWithEvent(ctx, watchID, sourceHash, rootNode, pathhash.Prefixes(destPath), rewrite, rec)
}

func (s *Synchroniser) eventRecord(watchID, path, kind string, ts time.Time, payload string) store.EventRecord {
	return store.EventRecord{
		RecordID:  uuid.NewString(),
		WatchID:   watchID,
		Path:      path,
		Kind:      kind,
		Timestamp: ts,
		Payload:   payload,
	}
}

func nodeFromMeta(watchID, rootPath, path string, meta correlate.Meta, ts time.Time, lastEventKind string) store.Node {
	kind := store.NodeFile
	if meta.IsDirectory {
		kind = store.NodeDirectory
	}

	n := store.Node{
		WatchID:       watchID,
		Path:          path,
		Kind:          kind,
		FileSize:      meta.Size,
		ContentHash:   meta.ContentHash,
		ModifiedAt:    metaTimeOrNow(meta.ModTime, ts),
		CreatedAt:     ts,
		AccessedAt:    ts,
		Inode:         meta.Inode,
		WindowsID:     meta.WindowsFileID,
		DepthFromRoot: depthFromRoot(path, rootPath),
		PathHash:      pathhash.Hash(path),
		ParentHash:    parentHashOf(path, rootPath),
		CanonicalName: filepath.Base(path),
		LastEventKind: lastEventKind,
	}

	return n
}

func metaTimeOrNow(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func parentHashOf(path, rootPath string) *uint64 {
	if filepath.Clean(path) == filepath.Clean(rootPath) {
		return nil
	}
	parent := filepath.Dir(path)
	h := pathhash.Hash(parent)
	return &h
}

func depthFromRoot(path, rootPath string) int {
	rel, err := filepath.Rel(rootPath, path)
	if err != nil || rel == "." {
		return 0
	}
	depth := 1
	for _, r := range rel {
		if r == filepath.Separator {
			depth++
		}
	}
	return depth
}
