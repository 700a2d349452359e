package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ListDirectoryForWatch returns the direct children of parentHash as full
// Node rows, scoped to one watch.
func (s *Store) ListDirectoryForWatch(ctx context.Context, watchID string, parentHash uint64) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_id, path_hash, path, kind, file_size, content_hash, mime,
			dir_child_count, dir_total_size, dir_max_depth,
			symlink_target, symlink_resolved,
			modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
			cached_at, last_verified, cache_version, needs_refresh,
			depth_from_root, parent_hash, canonical_name, last_event_kind
		FROM fs_nodes WHERE watch_id = ? AND parent_hash = ?
		ORDER BY canonical_name`, watchID, uintToInt64(parentHash))
	if err != nil {
		return nil, fmt.Errorf("store: listing directory: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListDirectoryUnified returns every node cached at parentHash across every
// watch that observes it, deduplicated by path, for callers that address
// the filesystem tree independent of which watch happens to cover it.
func (s *Store) ListDirectoryUnified(ctx context.Context, parentHash uint64) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_id, path_hash, path, kind, file_size, content_hash, mime,
			dir_child_count, dir_total_size, dir_max_depth,
			symlink_target, symlink_resolved,
			modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
			cached_at, last_verified, cache_version, needs_refresh,
			depth_from_root, parent_hash, canonical_name, last_event_kind
		FROM fs_nodes WHERE parent_hash = ?
		GROUP BY path_hash
		ORDER BY canonical_name`, uintToInt64(parentHash))
	if err != nil {
		return nil, fmt.Errorf("store: listing unified directory: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetUnifiedNode returns any one cached copy of pathHash regardless of
// which watch recorded it. When the path has been promoted to a shared
// node, the copy held by the first member watch listed for it is
// preferred; the shared node's recorded canonical watch is not consulted.
func (s *Store) GetUnifiedNode(ctx context.Context, pathHash uint64) (Node, error) {
	if info, ok, err := s.SharedNode(ctx, pathHash); err == nil && ok && len(info.WatchingIDs) > 0 {
		if n, err := s.GetNode(ctx, info.WatchingIDs[0], pathHash); err == nil {
			return n, nil
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT watch_id, path_hash, path, kind, file_size, content_hash, mime,
			dir_child_count, dir_total_size, dir_max_depth,
			symlink_target, symlink_resolved,
			modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
			cached_at, last_verified, cache_version, needs_refresh,
			depth_from_root, parent_hash, canonical_name, last_event_kind
		FROM fs_nodes WHERE path_hash = ? LIMIT 1`, uintToInt64(pathHash))

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("store: reading unified node: %w", err)
	}
	return n, nil
}

// SearchNodes returns every node within watchID whose canonical_name
// contains namePart (case-insensitive), capped at limit. This is a simple
// substring scan, not a full-text index — adequate for interactive lookups
// over a single watch's cache.
func (s *Store) SearchNodes(ctx context.Context, watchID, namePart string, limit int) ([]Node, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_id, path_hash, path, kind, file_size, content_hash, mime,
			dir_child_count, dir_total_size, dir_max_depth,
			symlink_target, symlink_resolved,
			modified_at, created_at, accessed_at, permissions, inode, windows_file_id,
			cached_at, last_verified, cache_version, needs_refresh,
			depth_from_root, parent_hash, canonical_name, last_event_kind
		FROM fs_nodes WHERE watch_id = ? AND canonical_name LIKE ? ESCAPE '\'
		ORDER BY canonical_name LIMIT ?`,
		watchID, "%"+escapeLike(strings.ToLower(namePart))+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("store: searching nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var out []Node
	for rows.Next() {
		var n Node
		var kind string
		var pathHash int64
		var fileSize, contentHash, inode, windowsID, parentHash sql.NullInt64
		var modified, created, accessed, cached, verified int64

		if err := rows.Scan(
			&n.WatchID, &pathHash, &n.Path, &kind, &fileSize, &contentHash, &n.Mime,
			&n.DirChildCount, &n.DirTotalSize, &n.DirMaxDepth,
			&n.SymlinkTarget, &n.SymlinkResolved,
			&modified, &created, &accessed, &n.Permissions, &inode, &windowsID,
			&cached, &verified, &n.CacheVersion, &n.NeedsRefresh,
			&n.DepthFromRoot, &parentHash, &n.CanonicalName, &n.LastEventKind,
		); err != nil {
			return nil, fmt.Errorf("store: scanning node row: %w", err)
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

		out = append(out, n)
	}
	return out, rows.Err()
}
