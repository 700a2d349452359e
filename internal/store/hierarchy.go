package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListChildren returns the path hashes of the direct children of
// parentHash within watchID.
func (s *Store) ListChildren(ctx context.Context, watchID string, parentHash uint64) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT child_hash FROM hierarchy_edges WHERE watch_id = ? AND parent_hash = ?`,
		watchID, uintToInt64(parentHash))
	if err != nil {
		return nil, fmt.Errorf("store: listing children: %w", err)
	}
	defer rows.Close()
	return scanHashes(rows)
}

// GetParent returns the parent's path hash for childHash, the reverse
// lookup against ListChildren's index.
func (s *Store) GetParent(ctx context.Context, watchID string, childHash uint64) (uint64, bool, error) {
	var parent int64
	err := s.db.QueryRowContext(ctx, `
		SELECT parent_hash FROM hierarchy_edges WHERE watch_id = ? AND child_hash = ?`,
		watchID, uintToInt64(childHash)).Scan(&parent)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: reading parent: %w", err)
	}
	return int64ToUint(parent), true, nil
}

// ListDescendantsByPrefix returns every path hash cached under watchID
// whose path begins with prefix, using the path_prefixes index for an
// O(matches) lookup instead of a recursive hierarchy walk.
func (s *Store) ListDescendantsByPrefix(ctx context.Context, watchID, prefix string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT path_hash FROM path_prefixes
		WHERE watch_id = ? AND prefix = ?`, watchID, prefix)
	if err != nil {
		return nil, fmt.Errorf("store: listing descendants of %s: %w", prefix, err)
	}
	defer rows.Close()
	return scanHashes(rows)
}

// ListAncestors walks PARENT_LOOKUP from pathHash up to the watch root,
// returning hashes nearest-ancestor first.
func (s *Store) ListAncestors(ctx context.Context, watchID string, pathHash uint64) ([]uint64, error) {
	var out []uint64
	current := pathHash

	for {
		parent, ok, err := s.GetParent(ctx, watchID, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, parent)
		current = parent

		if len(out) > maxAncestorDepth {
			return nil, fmt.Errorf("store: ancestor chain for watch %s exceeds depth %d, possible cycle", watchID, maxAncestorDepth)
		}
	}

	return out, nil
}

// maxAncestorDepth bounds ListAncestors against a corrupted hierarchy_edges
// table producing a cycle.
const maxAncestorDepth = 4096

// descendantHashesTx performs a breadth-first walk of hierarchy_edges under
// a transaction, used by DeleteSubtree to find every row a directory Remove
// invalidates.
func descendantHashesTx(ctx context.Context, tx *sql.Tx, watchID string, rootHash uint64) ([]uint64, error) {
	var out []uint64
	frontier := []uint64{rootHash}

	for len(frontier) > 0 {
		var next []uint64
		for _, h := range frontier {
			rows, err := tx.QueryContext(ctx, `
				SELECT child_hash FROM hierarchy_edges WHERE watch_id = ? AND parent_hash = ?`,
				watchID, uintToInt64(h))
			if err != nil {
				return nil, fmt.Errorf("store: walking subtree: %w", err)
			}
			children, err := scanHashes(rows)
			rows.Close()
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		out = append(out, next...)
		frontier = next
	}

	return out, nil
}

func scanHashes(rows *sql.Rows) ([]uint64, error) {
	var out []uint64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: scanning hash: %w", err)
		}
		out = append(out, int64ToUint(h))
	}
	return out, rows.Err()
}
