package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// ConfigRepo is the external key/value configuration store. The whole
// set (devices + notification settings) lives as one JSON blob.
type ConfigRepo interface {
	Load(ctx context.Context) (models.AppConfig, error)
	Save(ctx context.Context, cfg models.AppConfig) error
}

// SnapshotRepo persists the latest snapshot per UPS and the bounded
// history log.
type SnapshotRepo interface {
	SaveLatest(ctx context.Context, name string, snap models.Snapshot) error
	Latest(ctx context.Context, name string) (models.Snapshot, bool, error)
	LatestAll(ctx context.Context) (map[string]models.Snapshot, error)
	AppendHistory(ctx context.Context, name string, e models.HistoryEntry) error
	History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error)
	PruneHistory(ctx context.Context, cutoff time.Time) error
}

// MetricsRepo persists rolling aggregates: finalized per-minute wattage
// averages, daily energy totals and voltage deviation samples.
type MetricsRepo interface {
	InsertMinuteAverage(ctx context.Context, name string, avg models.MinuteAverage, bucketTS time.Time) error
	MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error)
	AddEnergy(ctx context.Context, name, day string, wattSeconds float64) error
	EnergyForDay(ctx context.Context, name, day string) (float64, bool, error)
	AddVoltageSample(ctx context.Context, name string, s models.VoltageSample) error
	VoltageSamples(ctx context.Context, name string, limit int) ([]models.VoltageSample, error)
	PruneMetrics(ctx context.Context, cutoff time.Time) error
}

// EventRepo persists fired alert events and status/transfer transitions.
type EventRepo interface {
	AppendAlert(ctx context.Context, ev models.AlertEvent) error
	RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error)
	AppendTransition(ctx context.Context, name string, tr models.Transition) error
	Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error)
	CountOnBattery(ctx context.Context, name string, since time.Time) (int, error)
	PruneEvents(ctx context.Context, cutoff time.Time) error
}

type Repository struct {
	Config    ConfigRepo
	Snapshots SnapshotRepo
	Metrics   MetricsRepo
	Events    EventRepo
}

func NewRepository(conn *sql.DB, rdb *redis.Client) *Repository {
	return &Repository{
		Config:    NewConfigRedis(rdb),
		Snapshots: NewSnapshotSQLite(conn),
		Metrics:   NewMetricsSQLite(conn),
		Events:    NewEventSQLite(conn),
	}
}
