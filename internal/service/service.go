package service

import (
	"context"
	"time"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/repository"
)

// ConfigManager owns device and notification configuration in the
// external key/value store, with write-time validation.
type ConfigManager interface {
	List(ctx context.Context) ([]models.UPSConfig, error)
	Get(ctx context.Context, name string) (models.UPSConfig, bool, error)
	Add(ctx context.Context, cfg models.UPSConfig) error
	Update(ctx context.Context, name string, upd UPSUpdate) error
	Delete(ctx context.Context, name string) error
	SMTP(ctx context.Context) (*models.SMTPConfig, error)
	UpdateSMTP(ctx context.Context, cfg models.SMTPConfig) error
	// Version increases on every successful write, so stream clients can
	// detect configuration changes.
	Version() uint64
}

// Store owns all persisted time-series state: latest snapshots, history,
// rolling aggregates and their retention.
type Store interface {
	RecordSnapshot(ctx context.Context, name string, snap models.Snapshot, now time.Time) error
	Flush(ctx context.Context, name string) error
	Prune(ctx context.Context, now time.Time) error

	Latest(ctx context.Context, name string) (models.Snapshot, bool, error)
	LatestAll(ctx context.Context) (map[string]models.Snapshot, error)
	History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error)
	MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error)
	EnergyTodayKWh(ctx context.Context, name string, now time.Time) (*float64, error)
	Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error)
	RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error)
	VoltageStats(ctx context.Context, name string) (models.VoltageStats, error)
}

// Alerts evaluates a snapshot against a device's thresholds and applies
// per-condition cooldown before anything is handed to notification.
type Alerts interface {
	Evaluate(ctx context.Context, cfg models.UPSConfig, snap models.Snapshot, now time.Time) ([]models.AlertEvent, error)
}

// Notifier formats and dispatches alert messages.
type Notifier interface {
	Send(ctx context.Context, name string, events []models.AlertEvent) error
}

// Poller maintains one recurring polling task per configured UPS and
// reconciles the task set against configuration changes. Stop via
// context cancellation in main() for graceful shutdown.
type Poller interface {
	Run(ctx context.Context)
	Reconcile(ctx context.Context) error
	TestTCP(host string, port int, timeout time.Duration) ProbeResult
	TestConnection(ctx context.Context, host string, port int, timeout time.Duration) ProbeResult
}

// Service aggregates all sub-services.
type Service struct {
	ConfigManager
	Store
	Alerts
	Notifier
	Poller
}

// Options tunes the wiring without touching individual constructors.
type Options struct {
	FallbackNominalWatts float64       // used when a UPS does not report NOMPOWER
	FetchTimeout         time.Duration // per-poll network budget
}

// NewService wires the repository layer into concrete services.
func NewService(repos *repository.Repository, log *logger.Logger, opts Options) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	cfg := NewConfigService(repos.Config)
	store := NewStoreService(repos.Snapshots, repos.Metrics, repos.Events, log)
	alerts := NewAlertService(repos.Events, repos.Metrics, log)
	notifier := NewNotifyService(cfg, log)
	poller := NewPollerService(cfg, store, alerts, notifier, log, opts)

	return &Service{
		ConfigManager: cfg,
		Store:         store,
		Alerts:        alerts,
		Notifier:      notifier,
		Poller:        poller,
	}
}
