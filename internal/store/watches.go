package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RegisterWatch inserts a new watch into WATCH_REGISTRY. Returns an error
// if watchID is already registered.
func (s *Store) RegisterWatch(ctx context.Context, wm WatchMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_registry (watch_id, root_path, config_json, created_at, last_active, node_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		wm.WatchID, wm.RootPath, wm.ConfigJSON, wm.CreatedAt.UnixNano(), wm.LastActive.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: registering watch %s: %w", wm.WatchID, err)
	}
	return nil
}

// UnregisterWatch removes a watch and every row keyed to it: cached nodes,
// hierarchy edges, prefixes, and shared-node memberships. Event log
// entries are retained for historical queries — the retention sweeper,
// not watch teardown, is what ages those out.
func (s *Store) UnregisterWatch(ctx context.Context, watchID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM watch_registry WHERE watch_id = ?`, watchID)
		if err != nil {
			return fmt.Errorf("store: unregistering watch %s: %w", watchID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("store: unregistering watch %s: %w", watchID, ErrWatchNotFound)
		}

		for _, stmt := range []string{
			`DELETE FROM fs_nodes WHERE watch_id = ?`,
			`DELETE FROM hierarchy_edges WHERE watch_id = ?`,
			`DELETE FROM path_prefixes WHERE watch_id = ?`,
			`DELETE FROM shared_node_members WHERE watch_id = ?`,
			`DELETE FROM stats_watch WHERE watch_id = ?`,
			`DELETE FROM stats_path WHERE watch_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, watchID); err != nil {
				return fmt.Errorf("store: cleaning up watch %s: %w", watchID, err)
			}
		}

		return pruneOrphanedSharedNodes(ctx, tx)
	})
}

// GetWatch returns the registered metadata for watchID.
func (s *Store) GetWatch(ctx context.Context, watchID string) (WatchMetadata, error) {
	var wm WatchMetadata
	var created, active int64

	err := s.db.QueryRowContext(ctx, `
		SELECT watch_id, root_path, config_json, created_at, last_active, node_count
		FROM watch_registry WHERE watch_id = ?`, watchID,
	).Scan(&wm.WatchID, &wm.RootPath, &wm.ConfigJSON, &created, &active, &wm.NodeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return WatchMetadata{}, ErrWatchNotFound
	}
	if err != nil {
		return WatchMetadata{}, fmt.Errorf("store: reading watch %s: %w", watchID, err)
	}

	wm.CreatedAt = time.Unix(0, created)
	wm.LastActive = time.Unix(0, active)
	return wm, nil
}

// ListWatches returns every registered watch.
func (s *Store) ListWatches(ctx context.Context) ([]WatchMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_id, root_path, config_json, created_at, last_active, node_count
		FROM watch_registry ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: listing watches: %w", err)
	}
	defer rows.Close()

	var out []WatchMetadata
	for rows.Next() {
		var wm WatchMetadata
		var created, active int64
		if err := rows.Scan(&wm.WatchID, &wm.RootPath, &wm.ConfigJSON, &created, &active, &wm.NodeCount); err != nil {
			return nil, fmt.Errorf("store: scanning watch row: %w", err)
		}
		wm.CreatedAt = time.Unix(0, created)
		wm.LastActive = time.Unix(0, active)
		out = append(out, wm)
	}
	return out, rows.Err()
}

// TouchWatch updates a watch's last_active timestamp.
func (s *Store) TouchWatch(ctx context.Context, watchID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE watch_registry SET last_active = ? WHERE watch_id = ?`, at.UnixNano(), watchID)
	if err != nil {
		return fmt.Errorf("store: touching watch %s: %w", watchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWatchNotFound
	}
	return nil
}
