package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// bumpCountersTx increments the global, per-watch, and per-path event
// counters and their per-kind breakdowns inside an already-open
// transaction. Called from AppendEvent so a counter bump never commits
// without its corresponding log row, and vice versa.
func bumpCountersTx(ctx context.Context, tx *sql.Tx, watchID string, pathHash uint64, kind string) error {
	if err := bumpOneCounterTx(ctx, tx, `
		UPDATE stats_global SET event_count = event_count + 1, per_type_json = ? WHERE id = 1`,
		`SELECT per_type_json FROM stats_global WHERE id = 1`, kind); err != nil {
		return fmt.Errorf("store: bumping global counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stats_watch (watch_id, event_count, metadata_count, per_type_json)
		VALUES (?, 1, 0, '{}')
		ON CONFLICT (watch_id) DO UPDATE SET event_count = event_count + 1`, watchID); err != nil {
		return fmt.Errorf("store: bumping watch counters: %w", err)
	}
	if err := bumpPerTypeTx(ctx, tx, `stats_watch`, `watch_id = ?`, watchID, kind); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stats_path (watch_id, path_hash, event_count, metadata_count, per_type_json)
		VALUES (?, ?, 1, 0, '{}')
		ON CONFLICT (watch_id, path_hash) DO UPDATE SET event_count = event_count + 1`,
		watchID, uintToInt64(pathHash)); err != nil {
		return fmt.Errorf("store: bumping path counters: %w", err)
	}
	return bumpPerTypeTx(ctx, tx, `stats_path`, `watch_id = ? AND path_hash = ?`, watchID, kind, uintToInt64(pathHash))
}

func bumpOneCounterTx(ctx context.Context, tx *sql.Tx, updateSQL, selectSQL, kind string) error {
	var raw string
	if err := tx.QueryRowContext(ctx, selectSQL).Scan(&raw); err != nil {
		return err
	}
	counts := decodePerType(raw)
	counts[kind]++
	encoded, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, updateSQL, string(encoded))
	return err
}

func bumpPerTypeTx(ctx context.Context, tx *sql.Tx, table, whereClause, kind string, args ...any) error {
	selectSQL := fmt.Sprintf(`SELECT per_type_json FROM %s WHERE %s`, table, whereClause)
	var raw string
	if err := tx.QueryRowContext(ctx, selectSQL, args...).Scan(&raw); err != nil {
		return fmt.Errorf("store: reading %s per-type counters: %w", table, err)
	}
	counts := decodePerType(raw)
	counts[kind]++
	encoded, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("store: encoding %s per-type counters: %w", table, err)
	}

	updateSQL := fmt.Sprintf(`UPDATE %s SET per_type_json = ? WHERE %s`, table, whereClause)
	updateArgs := append([]any{string(encoded)}, args...)
	if _, err := tx.ExecContext(ctx, updateSQL, updateArgs...); err != nil {
		return fmt.Errorf("store: writing %s per-type counters: %w", table, err)
	}
	return nil
}

func decodePerType(raw string) map[string]int64 {
	counts := make(map[string]int64)
	if raw == "" {
		return counts
	}
	_ = json.Unmarshal([]byte(raw), &counts)
	return counts
}

// GlobalStats returns the STATS_GLOBAL counters.
func (s *Store) GlobalStats(ctx context.Context) (Counters, error) {
	var raw string
	c := newCounters()
	err := s.db.QueryRowContext(ctx, `SELECT event_count, metadata_count, per_type_json FROM stats_global WHERE id = 1`).
		Scan(&c.EventCount, &c.MetadataCount, &raw)
	if err != nil {
		return Counters{}, fmt.Errorf("store: reading global stats: %w", err)
	}
	c.PerType = decodePerType(raw)
	return c, nil
}

// WatchStats returns STATS_WATCH counters for watchID.
func (s *Store) WatchStats(ctx context.Context, watchID string) (Counters, error) {
	var raw string
	c := newCounters()
	err := s.db.QueryRowContext(ctx, `SELECT event_count, metadata_count, per_type_json FROM stats_watch WHERE watch_id = ?`, watchID).
		Scan(&c.EventCount, &c.MetadataCount, &raw)
	if err == sql.ErrNoRows {
		return newCounters(), nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("store: reading watch stats for %s: %w", watchID, err)
	}
	c.PerType = decodePerType(raw)
	return c, nil
}

// RepairStatsCounters recomputes STATS_GLOBAL, STATS_WATCH and STATS_PATH
// from the authoritative event_log, correcting any drift caused by
// changes made to the counter tables outside AppendEvent (which already
// bumps them in the log append's own transaction). This is the
// repair_stats_counters operation of the Query Surface: it is a full
// rebuild, not an incremental patch, and is expected to be run rarely (on
// detected drift or operator request) given its O(events) cost.
func (s *Store) RepairStatsCounters(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM stats_watch`,
			`DELETE FROM stats_path`,
			`UPDATE stats_global SET event_count = 0, metadata_count = 0, per_type_json = '{}' WHERE id = 1`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: clearing counters: %w", err)
			}
		}

		rows, err := tx.QueryContext(ctx, `SELECT watch_id, path_hash, kind FROM event_log ORDER BY timestamp ASC`)
		if err != nil {
			return fmt.Errorf("store: scanning event log for repair: %w", err)
		}
		defer rows.Close()

		type logged struct {
			watchID string
			hash    int64
			kind    string
		}
		var all []logged
		for rows.Next() {
			var l logged
			if err := rows.Scan(&l.watchID, &l.hash, &l.kind); err != nil {
				return fmt.Errorf("store: scanning event row for repair: %w", err)
			}
			all = append(all, l)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, l := range all {
			if err := bumpCountersTx(ctx, tx, l.watchID, int64ToUint(l.hash), l.kind); err != nil {
				return err
			}
		}
		return nil
	})
}
