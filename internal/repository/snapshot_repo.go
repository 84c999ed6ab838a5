package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// SnapshotSQLite persists latest snapshots and the history log.
type SnapshotSQLite struct {
	db *sql.DB
}

func NewSnapshotSQLite(db *sql.DB) *SnapshotSQLite { return &SnapshotSQLite{db: db} }

const upsertLatestSQL = `
	INSERT INTO ups_latest (name, captured_at, snapshot)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		captured_at=excluded.captured_at,
		snapshot=excluded.snapshot
`

// SaveLatest overwrites the single latest-snapshot row for a UPS.
func (r *SnapshotSQLite) SaveLatest(ctx context.Context, name string, snap models.Snapshot) error {
	snap.CapturedAt = snap.CapturedAt.UTC()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %q: %w", name, err)
	}
	_, err = r.db.ExecContext(ctx, upsertLatestSQL, name, snap.CapturedAt, string(payload))
	return err
}

// Latest returns the last recorded snapshot; ok=false when the UPS has
// never been polled successfully.
func (r *SnapshotSQLite) Latest(ctx context.Context, name string) (models.Snapshot, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM ups_latest WHERE name=?`, name)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, false, nil
		}
		return models.Snapshot{}, false, err
	}
	snap, err := decodeSnapshot(payload)
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode snapshot for %q: %w", name, err)
	}
	return snap, true, nil
}

// LatestAll returns the latest snapshot of every UPS, keyed by name.
func (r *SnapshotSQLite) LatestAll(ctx context.Context) (map[string]models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, snapshot FROM ups_latest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.Snapshot)
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot for %q: %w", name, err)
		}
		out[name] = snap
	}
	return out, rows.Err()
}

// AppendHistory adds one entry to the append-only history log. Entries
// are never mutated afterwards.
func (r *SnapshotSQLite) AppendHistory(ctx context.Context, name string, e models.HistoryEntry) error {
	e.Timestamp = e.Timestamp.UTC()
	payload, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("encode history entry for %q: %w", name, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ups_history (name, captured_at, snapshot)
		VALUES (?, ?, ?)
	`, name, e.Timestamp, string(payload))
	return err
}

// History returns entries in chronological order; when limit > 0 only
// the most recent limit entries are returned.
func (r *SnapshotSQLite) History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error) {
	q := `SELECT captured_at, snapshot FROM ups_history WHERE name=? ORDER BY captured_at DESC, id DESC`
	args := []any{name}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var payload string
		if err := rows.Scan(&e.Timestamp, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		if e.Snapshot, err = decodeSnapshot(payload); err != nil {
			return nil, fmt.Errorf("decode history entry for %q: %w", name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query walked newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneHistory deletes history entries older than cutoff.
func (r *SnapshotSQLite) PruneHistory(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_history WHERE captured_at < ?`, cutoff.UTC())
	return err
}

func decodeSnapshot(payload string) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return models.Snapshot{}, err
	}
	snap.CapturedAt = snap.CapturedAt.UTC()
	return snap, nil
}
