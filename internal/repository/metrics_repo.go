package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// MetricsSQLite persists per-minute wattage averages, daily energy
// totals and voltage deviation samples.
type MetricsSQLite struct {
	db *sql.DB
}

func NewMetricsSQLite(db *sql.DB) *MetricsSQLite { return &MetricsSQLite{db: db} }

// InsertMinuteAverage writes one finalized minute bucket. The primary
// key (name, minute) enforces at most one aggregate per UPS per minute.
func (r *MetricsSQLite) InsertMinuteAverage(ctx context.Context, name string, avg models.MinuteAverage, bucketTS time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ups_minute_watts (name, minute, avg_watts, samples, bucket_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, minute) DO UPDATE SET
			avg_watts=excluded.avg_watts,
			samples=excluded.samples
	`, name, avg.Minute, avg.AvgWatts, avg.Samples, bucketTS.UTC())
	return err
}

// MinuteAverages returns finalized buckets in chronological order, the
// most recent limit of them when bounded.
func (r *MetricsSQLite) MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error) {
	q := `SELECT minute, avg_watts, samples FROM ups_minute_watts WHERE name=? ORDER BY minute DESC`
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

	var out []models.MinuteAverage
	for rows.Next() {
		var m models.MinuteAverage
		if err := rows.Scan(&m.Minute, &m.AvgWatts, &m.Samples); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AddEnergy accumulates watt-seconds into the (name, day) total. The
// total only ever grows within a day; a new day starts a new row.
func (r *MetricsSQLite) AddEnergy(ctx context.Context, name, day string, wattSeconds float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ups_energy_daily (name, day, watt_seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(name, day) DO UPDATE SET
			watt_seconds = watt_seconds + excluded.watt_seconds
	`, name, day, wattSeconds)
	return err
}

// EnergyForDay returns the accumulated watt-seconds; ok=false when no
// energy has been recorded for that day.
func (r *MetricsSQLite) EnergyForDay(ctx context.Context, name, day string) (float64, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT watt_seconds FROM ups_energy_daily WHERE name=? AND day=?`, name, day)

	var ws float64
	if err := row.Scan(&ws); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ws, true, nil
}

// AddVoltageSample records one out-of-band line voltage deviation.
func (r *MetricsSQLite) AddVoltageSample(ctx context.Context, name string, s models.VoltageSample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ups_voltage_dev (name, deviation_pct, occurred_at)
		VALUES (?, ?, ?)
	`, name, s.DeviationPct, s.OccurredAt.UTC())
	return err
}

// VoltageSamples returns the most recent deviation samples, newest first.
func (r *MetricsSQLite) VoltageSamples(ctx context.Context, name string, limit int) ([]models.VoltageSample, error) {
	q := `SELECT deviation_pct, occurred_at FROM ups_voltage_dev WHERE name=? ORDER BY occurred_at DESC, id DESC`
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

	var out []models.VoltageSample
	for rows.Next() {
		var s models.VoltageSample
		if err := rows.Scan(&s.DeviationPct, &s.OccurredAt); err != nil {
			return nil, err
		}
		s.OccurredAt = s.OccurredAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneMetrics deletes finalized minute buckets and voltage samples
// older than cutoff. Daily energy rows age out by day key and are
// covered by the same cutoff.
func (r *MetricsSQLite) PruneMetrics(ctx context.Context, cutoff time.Time) error {
	cutoff = cutoff.UTC()
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_minute_watts WHERE bucket_ts < ?`, cutoff); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_energy_daily WHERE day < ?`, cutoff.Format("20060102")); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ups_voltage_dev WHERE occurred_at < ?`, cutoff)
	return err
}
