package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// EventSQLite persists fired alert events and observed status/transfer
// transitions.
type EventSQLite struct {
	db *sql.DB
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db} }

// AppendAlert inserts a fired alert event. Missing EventID/OccurredAt
// are filled in.
func (r *EventSQLite) AppendAlert(ctx context.Context, ev models.AlertEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	} else {
		ev.OccurredAt = ev.OccurredAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ups_alert_events (id, name, condition, message, value, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.EventID,
		ev.UPSName,
		ev.Condition,
		ev.Message,
		ev.Value,
		ev.OccurredAt,
	)
	return err
}

// RecentAlerts returns the newest alert events for a UPS, newest first.
func (r *EventSQLite) RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error) {
	q := `SELECT id, name, condition, message, value, occurred_at
	      FROM ups_alert_events WHERE name=? ORDER BY occurred_at DESC, id DESC`
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

	var out []models.AlertEvent
	for rows.Next() {
		var ev models.AlertEvent
		if err := rows.Scan(&ev.EventID, &ev.UPSName, &ev.Condition, &ev.Message, &ev.Value, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppendTransition records a STATUS or LASTXFER change.
func (r *EventSQLite) AppendTransition(ctx context.Context, name string, tr models.Transition) error {
	if tr.OccurredAt.IsZero() {
		tr.OccurredAt = time.Now().UTC()
	} else {
		tr.OccurredAt = tr.OccurredAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ups_transitions (name, kind, detail, occurred_at)
		VALUES (?, ?, ?, ?)
	`, name, tr.Kind, tr.Detail, tr.OccurredAt)
	return err
}

// Transitions returns recent transitions, newest first.
func (r *EventSQLite) Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error) {
	q := `SELECT kind, detail, occurred_at FROM ups_transitions
	      WHERE name=? ORDER BY occurred_at DESC, id DESC`
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

	var out []models.Transition
	for rows.Next() {
		var tr models.Transition
		if err := rows.Scan(&tr.Kind, &tr.Detail, &tr.OccurredAt); err != nil {
			return nil, err
		}
		tr.OccurredAt = tr.OccurredAt.UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CountOnBattery counts status transitions to an on-battery state since
// the given time. Feeds the transfer-burst alert condition.
func (r *EventSQLite) CountOnBattery(ctx context.Context, name string, since time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ups_transitions
		WHERE name=? AND kind='STATUS' AND detail LIKE '%ONBATT%' AND occurred_at >= ?
	`, name, since.UTC())

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// PruneEvents deletes alert events and transitions older than cutoff.
func (r *EventSQLite) PruneEvents(ctx context.Context, cutoff time.Time) error {
	cutoff = cutoff.UTC()
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_alert_events WHERE occurred_at < ?`, cutoff); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_transitions WHERE occurred_at < ?`, cutoff)
	return err
}
