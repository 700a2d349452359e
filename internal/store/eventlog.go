package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendEvent inserts one event_log row and, in the same transaction,
// increments the global, per-watch, and per-path counters, so the log and
// the counters can never drift apart.
func (s *Store) AppendEvent(ctx context.Context, rec EventRecord, pathHash uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendEventTx(ctx, tx, rec, pathHash)
	})
}

// appendEventTx is the transaction-scoped body of AppendEvent, shared with
// the combined node-mutation-plus-event methods in nodes.go so a cache write
// and its EventRecord always land in the same transaction.
func appendEventTx(ctx context.Context, tx *sql.Tx, rec EventRecord, pathHash uint64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_log (record_id, watch_id, path_hash, path, kind, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.WatchID, uintToInt64(pathHash), rec.Path, rec.Kind, rec.Timestamp.UnixNano(), rec.Payload,
	); err != nil {
		return fmt.Errorf("store: appending event %s: %w", rec.RecordID, err)
	}

	return bumpCountersTx(ctx, tx, rec.WatchID, pathHash, rec.Kind)
}

// HistoryForPath returns every event recorded for pathHash within watchID,
// newest first, bounded by limit. This realizes the history_for_path
// operation added to the Query Surface: a point lookup against the
// (watch_id, path_hash, timestamp) index rather than a log scan.
func (s *Store) HistoryForPath(ctx context.Context, watchID string, pathHash uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, watch_id, path, kind, timestamp, payload
		FROM event_log
		WHERE watch_id = ? AND path_hash = ?
		ORDER BY timestamp DESC
		LIMIT ?`, watchID, uintToInt64(pathHash), limit)
	if err != nil {
		return nil, fmt.Errorf("store: reading history: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts int64
		if err := rows.Scan(&rec.RecordID, &rec.WatchID, &rec.Path, &rec.Kind, &ts, &rec.Payload); err != nil {
			return nil, fmt.Errorf("store: scanning event row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HistorySince returns every event across all watches at or after since,
// oldest first, bounded by limit.
func (s *Store) HistorySince(ctx context.Context, since time.Time, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, watch_id, path, kind, timestamp, payload
		FROM event_log WHERE timestamp >= ? ORDER BY timestamp ASC LIMIT ?`,
		since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: reading event log since %s: %w", since, err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts int64
		if err := rows.Scan(&rec.RecordID, &rec.WatchID, &rec.Path, &rec.Kind, &ts, &rec.Payload); err != nil {
			return nil, fmt.Errorf("store: scanning event row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneEventsBefore deletes every event_log row older than cutoff, the
// retention sweeper's core action. Returns the number of rows removed.
func (s *Store) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_log WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: pruning events before %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
