package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// reconcileSharedNode records watchID as an observer of pathHash. When a
// second distinct watch observes the same path, the path is promoted into
// shared_nodes so both watches dedupe against a single canonical record
// instead of storing it twice.
func reconcileSharedNode(ctx context.Context, tx *sql.Tx, pathHash uint64, watchID, path string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO shared_node_members (path_hash, watch_id) VALUES (?, ?)`,
		uintToInt64(pathHash), watchID,
	); err != nil {
		return fmt.Errorf("store: recording shared membership: %w", err)
	}

	var memberCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shared_node_members WHERE path_hash = ?`, uintToInt64(pathHash),
	).Scan(&memberCount); err != nil {
		return fmt.Errorf("store: counting shared membership: %w", err)
	}

	if memberCount < 2 {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO shared_nodes (path_hash, canonical_watch_id, canonical_path, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (path_hash) DO UPDATE SET
			canonical_path = excluded.canonical_path,
			last_updated = excluded.last_updated`,
		uintToInt64(pathHash), watchID, path, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upserting shared node: %w", err)
	}
	return nil
}

// pruneOrphanedSharedNodes removes shared_nodes rows whose membership has
// dropped below two watches, demoting the path back to an ordinary
// per-watch cache entry.
func pruneOrphanedSharedNodes(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM shared_nodes
		WHERE path_hash NOT IN (
			SELECT path_hash FROM shared_node_members
			GROUP BY path_hash HAVING COUNT(*) >= 2
		)`)
	if err != nil {
		return fmt.Errorf("store: pruning orphaned shared nodes: %w", err)
	}
	return nil
}

// SharedNode returns the shared-node record for pathHash, if any watch
// overlap has promoted it.
func (s *Store) SharedNode(ctx context.Context, pathHash uint64) (SharedNodeInfo, bool, error) {
	var info SharedNodeInfo
	var updated int64

	err := s.db.QueryRowContext(ctx, `
		SELECT path_hash, canonical_path, last_updated FROM shared_nodes WHERE path_hash = ?`,
		uintToInt64(pathHash),
	).Scan(&info.PathHash, &info.CanonicalPath, &updated)
	if err == sql.ErrNoRows {
		return SharedNodeInfo{}, false, nil
	}
	if err != nil {
		return SharedNodeInfo{}, false, fmt.Errorf("store: reading shared node: %w", err)
	}
	info.PathHash = pathHash
	info.LastUpdated = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx, `SELECT watch_id FROM shared_node_members WHERE path_hash = ?`, uintToInt64(pathHash))
	if err != nil {
		return SharedNodeInfo{}, false, fmt.Errorf("store: listing shared watchers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return SharedNodeInfo{}, false, fmt.Errorf("store: scanning shared watcher: %w", err)
		}
		info.WatchingIDs = append(info.WatchingIDs, w)
	}

	return info, true, rows.Err()
}

// DetectOverlaps compares every pair of registered watch roots and
// returns their structural relationship: identical roots intersect, and a
// root path that is a path prefix of another is nested. Pairs with neither
// relationship are not reported; no sibling overlap is ever produced.
func (s *Store) DetectOverlaps(ctx context.Context) ([]WatchOverlap, error) {
	watches, err := s.ListWatches(ctx)
	if err != nil {
		return nil, err
	}

	var overlaps []WatchOverlap
	for i := 0; i < len(watches); i++ {
		for j := i + 1; j < len(watches); j++ {
			a, b := watches[i], watches[j]
			kind, ok := classifyOverlap(a.RootPath, b.RootPath)
			if !ok {
				continue
			}
			overlaps = append(overlaps, WatchOverlap{WatchA: a.WatchID, WatchB: b.WatchID, Kind: kind})
		}
	}
	return overlaps, nil
}

func classifyOverlap(rootA, rootB string) (OverlapKind, bool) {
	if rootA == rootB {
		return OverlapIntersection, true
	}
	if strings.HasPrefix(rootB, rootA+"/") {
		return OverlapNestedChild, true
	}
	if strings.HasPrefix(rootA, rootB+"/") {
		return OverlapNestedParent, true
	}
	return OverlapKind(0), false
}
