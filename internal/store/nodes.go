package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertNode writes or replaces a node's cache row, maintaining the
// hierarchy edge to its parent and the path-prefix entries for every
// ancestor, and folds the node into the shared-node table when more than
// one watch observes the same path.
func (s *Store) UpsertNode(ctx context.Context, n Node, prefixes []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertNodeTx(ctx, tx, n, prefixes)
	})
}

func (s *Store) upsertNodeTx(ctx context.Context, tx *sql.Tx, n Node, prefixes []string) error {
	now := time.Now()
	if n.CachedAt.IsZero() {
		n.CachedAt = now
	}
	if n.LastVerified.IsZero() {
		n.LastVerified = now
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO fs_nodes (
			watch_id, path_hash, path, kind, file_size, content_hash, mime,
			dir_child_count, dir_total_size, dir_max_depth,
			symlink_target, symlink_resolved,
			modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
			cached_at, last_verified, cache_version, needs_refresh,
			depth_from_root, parent_hash, canonical_name, last_event_kind
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (watch_id, path_hash) DO UPDATE SET
			path = excluded.path,
			kind = excluded.kind,
			file_size = excluded.file_size,
			content_hash = excluded.content_hash,
			mime = excluded.mime,
			dir_child_count = excluded.dir_child_count,
			dir_total_size = excluded.dir_total_size,
			dir_max_depth = excluded.dir_max_depth,
			symlink_target = excluded.symlink_target,
			symlink_resolved = excluded.symlink_resolved,
			modified_at = excluded.modified_at,
			accessed_at = excluded.accessed_at,
			permissions = excluded.permissions,
			inode = excluded.inode,
			windows_file_id = excluded.windows_file_id,
			last_verified = excluded.last_verified,
			cache_version = fs_nodes.cache_version + 1,
			needs_refresh = excluded.needs_refresh,
			parent_hash = excluded.parent_hash,
			canonical_name = excluded.canonical_name,
			last_event_kind = excluded.last_event_kind`,
		n.WatchID, uintToInt64(n.PathHash), n.Path, n.Kind.String(),
		nullableInt64(n.FileSize), nullableUintHash(n.ContentHash), n.Mime,
		n.DirChildCount, n.DirTotalSize, n.DirMaxDepth,
		n.SymlinkTarget, n.SymlinkResolved,
		n.ModifiedAt.UnixNano(), n.CreatedAt.UnixNano(), n.AccessedAt.UnixNano(), n.Permissions,
		nullableUintHash(n.Inode), nullableUintHash(n.WindowsID),
		n.CachedAt.UnixNano(), n.LastVerified.UnixNano(), 1, n.NeedsRefresh,
		n.DepthFromRoot, nullableUintHash(n.ParentHash), n.CanonicalName, n.LastEventKind,
	)
	if err != nil {
		return fmt.Errorf("store: upserting node %s: %w", n.Path, err)
	}

	if n.ParentHash != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO hierarchy_edges (watch_id, parent_hash, child_hash)
			VALUES (?, ?, ?)`, n.WatchID, uintToInt64(*n.ParentHash), uintToInt64(n.PathHash),
		); err != nil {
			return fmt.Errorf("store: linking hierarchy edge for %s: %w", n.Path, err)
		}
	}

	for _, p := range prefixes {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO path_prefixes (watch_id, prefix, path_hash)
			VALUES (?, ?, ?)`, n.WatchID, p, uintToInt64(n.PathHash),
		); err != nil {
			return fmt.Errorf("store: recording prefix for %s: %w", n.Path, err)
		}
	}

	return reconcileSharedNode(ctx, tx, n.PathHash, n.WatchID, n.Path, now)
}

// DeleteNode removes a node's cache row, its hierarchy edge, and prunes its
// shared-node membership. Descendant rows (for a removed directory) are the
// caller's responsibility via DeleteSubtree.
func (s *Store) DeleteNode(ctx context.Context, watchID string, pathHash uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteNodeTx(ctx, tx, watchID, pathHash)
	})
}

func (s *Store) deleteNodeTx(ctx context.Context, tx *sql.Tx, watchID string, pathHash uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM fs_nodes WHERE watch_id = ? AND path_hash = ?`, watchID, uintToInt64(pathHash)); err != nil {
		return fmt.Errorf("store: deleting node: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hierarchy_edges WHERE watch_id = ? AND child_hash = ?`, watchID, uintToInt64(pathHash)); err != nil {
		return fmt.Errorf("store: deleting hierarchy edge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM path_prefixes WHERE watch_id = ? AND path_hash = ?`, watchID, uintToInt64(pathHash)); err != nil {
		return fmt.Errorf("store: deleting prefixes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shared_node_members WHERE watch_id = ? AND path_hash = ?`, watchID, uintToInt64(pathHash)); err != nil {
		return fmt.Errorf("store: deleting shared membership: %w", err)
	}
	return pruneOrphanedSharedNodes(ctx, tx)
}

// DeleteSubtree removes a node and every descendant reachable via
// hierarchy_edges, used when a directory Remove/Move invalidates the whole
// subtree at once.
func (s *Store) DeleteSubtree(ctx context.Context, watchID string, rootHash uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		descendants, err := descendantHashesTx(ctx, tx, watchID, rootHash)
		if err != nil {
			return err
		}
		descendants = append(descendants, rootHash)

		for _, h := range descendants {
			if err := s.deleteNodeTx(ctx, tx, watchID, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// selectNodeSQL is shared by GetNode and getNodeTx so the row shape scanNode
// expects never drifts between the two.
const selectNodeSQL = `
	SELECT watch_id, path_hash, path, kind, file_size, content_hash, mime,
		dir_child_count, dir_total_size, dir_max_depth,
		symlink_target, symlink_resolved,
		modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
		cached_at, last_verified, cache_version, needs_refresh,
		depth_from_root, parent_hash, canonical_name, last_event_kind
	FROM fs_nodes WHERE watch_id = ? AND path_hash = ?`

// GetNode returns the cached node at path_hash within watchID.
func (s *Store) GetNode(ctx context.Context, watchID string, pathHash uint64) (Node, error) {
	row := s.db.QueryRowContext(ctx, selectNodeSQL, watchID, uintToInt64(pathHash))
	return nodeFromRow(row)
}

// getNodeTx is GetNode's transaction-scoped twin, used where a node must be
// read as part of a larger multi-row transaction (a directory move reading
// every descendant before relocating it).
func getNodeTx(ctx context.Context, tx *sql.Tx, watchID string, pathHash uint64) (Node, error) {
	row := tx.QueryRowContext(ctx, selectNodeSQL, watchID, uintToInt64(pathHash))
	return nodeFromRow(row)
}

func nodeFromRow(row *sql.Row) (Node, error) {
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("store: reading node: %w", err)
	}
	return n, nil
}

// UpsertNodeWithEvent writes a node's cache row and appends its EventRecord
// in a single transaction, so a crash between the two can never leave the
// cache ahead of the log or vice versa.
func (s *Store) UpsertNodeWithEvent(ctx context.Context, n Node, prefixes []string, rec EventRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertNodeTx(ctx, tx, n, prefixes); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, rec, n.PathHash)
	})
}

// DeleteNodeWithEvent deletes a single node's cache row and appends its
// EventRecord in a single transaction.
func (s *Store) DeleteNodeWithEvent(ctx context.Context, watchID string, pathHash uint64, rec EventRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteNodeTx(ctx, tx, watchID, pathHash); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, rec, pathHash)
	})
}

// DeleteSubtreeWithEvent deletes a node and every descendant reachable via
// hierarchy_edges, then appends rec, all in a single transaction: a crash
// partway through a large directory removal can never leave some of the
// subtree cached and some gone.
func (s *Store) DeleteSubtreeWithEvent(ctx context.Context, watchID string, rootHash uint64, rec EventRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		descendants, err := descendantHashesTx(ctx, tx, watchID, rootHash)
		if err != nil {
			return err
		}
		descendants = append(descendants, rootHash)

		for _, h := range descendants {
			if err := s.deleteNodeTx(ctx, tx, watchID, h); err != nil {
				return err
			}
		}

		return appendEventTx(ctx, tx, rec, rootHash)
	})
}

// MoveNodeWithEvent relocates a single file or symlink node: it deletes the
// cache row at sourceHash and writes n (the destination's row) and rec's
// EventRecord, all in one transaction.
func (s *Store) MoveNodeWithEvent(ctx context.Context, watchID string, sourceHash uint64, n Node, prefixes []string, rec EventRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteNodeTx(ctx, tx, watchID, sourceHash); err != nil {
			return err
		}
		if err := s.upsertNodeTx(ctx, tx, n, prefixes); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, rec, n.PathHash)
	})
}

// MoveSubtreeWithEvent re-homes a directory and every cached descendant
// under a new path prefix in a single transaction: it reads the whole
// subtree, deletes it, writes the relocated root, and writes each relocated
// descendant computed by rewrite, so a crash partway through a large
// directory move can never leave it half relocated. rewrite must be pure —
// no I/O, no Store calls — since it runs inside the transaction.
func (s *Store) MoveSubtreeWithEvent(
	ctx context.Context,
	watchID string,
	sourceHash uint64,
	rootNode Node,
	rootPrefixes []string,
	rewrite func(old Node) (Node, []string),
	rec EventRecord,
) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		descendantHashes, err := descendantHashesTx(ctx, tx, watchID, sourceHash)
		if err != nil {
			return fmt.Errorf("listing descendants: %w", err)
		}

		descendants := make([]Node, 0, len(descendantHashes))
		for _, h := range descendantHashes {
			old, err := getNodeTx(ctx, tx, watchID, h)
			if err != nil {
				continue
			}
			descendants = append(descendants, old)
		}

		allHashes := append(descendantHashes, sourceHash)
		for _, h := range allHashes {
			if err := s.deleteNodeTx(ctx, tx, watchID, h); err != nil {
				return err
			}
		}

		if err := s.upsertNodeTx(ctx, tx, rootNode, rootPrefixes); err != nil {
			return fmt.Errorf("writing moved-to root %s: %w", rootNode.Path, err)
		}

		for _, old := range descendants {
			newNode, newPrefixes := rewrite(old)
			if err := s.upsertNodeTx(ctx, tx, newNode, newPrefixes); err != nil {
				return fmt.Errorf("writing moved descendant %s: %w", newNode.Path, err)
			}
		}

		return appendEventTx(ctx, tx, rec, rootNode.PathHash)
	})
}

func scanNode(row *sql.Row) (Node, error) {
	var n Node
	var kind string
	var pathHash int64
	var fileSize, contentHash, inode, windowsID, parentHash sql.NullInt64
	var modified, created, accessed, cached, verified int64

	err := row.Scan(
		&n.WatchID, &pathHash, &n.Path, &kind, &fileSize, &contentHash, &n.Mime,
		&n.DirChildCount, &n.DirTotalSize, &n.DirMaxDepth,
		&n.SymlinkTarget, &n.SymlinkResolved,
		&modified, &created, &accessed, &n.Permissions, &inode, &windowsID,
		&cached, &verified, &n.CacheVersion, &n.NeedsRefresh,
		&n.DepthFromRoot, &parentHash, &n.CanonicalName, &n.LastEventKind,
	)
	if err != nil {
		return Node{}, err
	}

	n.PathHash = int64ToUint(pathHash)
	n.Kind = kindFromString(kind)
	n.FileSize = nullInt64ToPtr(fileSize)
	n.ContentHash = nullInt64ToUintPtr(contentHash)
	n.Inode = nullInt64ToUintPtr(inode)
	n.WindowsID = nullInt64ToUintPtr(windowsID)
	n.ParentHash = nullInt64ToUintPtr(parentHash)
	n.ModifiedAt = time.Unix(0, modified)
	n.CreatedAt = time.Unix(0, created)
	n.AccessedAt = time.Unix(0, accessed)
	n.CachedAt = time.Unix(0, cached)
	n.LastVerified = time.Unix(0, verified)

	return n, nil
}

func kindFromString(s string) NodeKind {
	switch s {
	case "directory":
		return NodeDirectory
	case "symlink":
		return NodeSymlink
	default:
		return NodeFile
	}
}

func nullableInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableUintHash(p *uint64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: uintToInt64(*p), Valid: true}
}

func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt64ToUintPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := int64ToUint(n.Int64)
	return &v
}
