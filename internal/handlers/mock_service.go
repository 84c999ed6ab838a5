package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/service"
)

// ---- Service Mocks ----

type mockConfig struct {
	list    []models.UPSConfig
	listErr error
	smtp    *models.SMTPConfig
	smtpErr error

	addErr    error
	updateErr error
	deleteErr error

	lastAdded   models.UPSConfig
	lastUpdated string
	lastDeleted string
	version     uint64
}

func (m *mockConfig) List(ctx context.Context) ([]models.UPSConfig, error) {
	return m.list, m.listErr
}
func (m *mockConfig) Get(ctx context.Context, name string) (models.UPSConfig, bool, error) {
	for _, u := range m.list {
		if u.Name == name {
			return u, true, nil
		}
	}
	return models.UPSConfig{}, false, nil
}
func (m *mockConfig) Add(ctx context.Context, cfg models.UPSConfig) error {
	m.lastAdded = cfg
	return m.addErr
}
func (m *mockConfig) Update(ctx context.Context, name string, upd service.UPSUpdate) error {
	m.lastUpdated = name
	return m.updateErr
}
func (m *mockConfig) Delete(ctx context.Context, name string) error {
	m.lastDeleted = name
	return m.deleteErr
}
func (m *mockConfig) SMTP(ctx context.Context) (*models.SMTPConfig, error) {
	return m.smtp, m.smtpErr
}
func (m *mockConfig) UpdateSMTP(ctx context.Context, cfg models.SMTPConfig) error {
	m.smtp = &cfg
	return nil
}
func (m *mockConfig) Version() uint64 { return m.version }

type mockStore struct {
	latest      map[string]models.Snapshot
	history     []models.HistoryEntry
	minutes     []models.MinuteAverage
	kwh         *float64
	transitions []models.Transition
	alerts      []models.AlertEvent
	voltage     models.VoltageStats

	latestErr  error
	historyErr error
}

func (m *mockStore) RecordSnapshot(ctx context.Context, name string, snap models.Snapshot, now time.Time) error {
	return nil
}
func (m *mockStore) Flush(ctx context.Context, name string) error { return nil }
func (m *mockStore) Prune(ctx context.Context, now time.Time) error { return nil }
func (m *mockStore) Latest(ctx context.Context, name string) (models.Snapshot, bool, error) {
	if m.latestErr != nil {
		return models.Snapshot{}, false, m.latestErr
	}
	snap, ok := m.latest[name]
	return snap, ok, nil
}
func (m *mockStore) LatestAll(ctx context.Context) (map[string]models.Snapshot, error) {
	return m.latest, nil
}
func (m *mockStore) History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if limit > 0 && limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}
func (m *mockStore) MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error) {
	return m.minutes, nil
}
func (m *mockStore) EnergyTodayKWh(ctx context.Context, name string, now time.Time) (*float64, error) {
	return m.kwh, nil
}
func (m *mockStore) Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error) {
	return m.transitions, nil
}
func (m *mockStore) RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error) {
	return m.alerts, nil
}
func (m *mockStore) VoltageStats(ctx context.Context, name string) (models.VoltageStats, error) {
	return m.voltage, nil
}

type mockAlerts struct{}

func (m *mockAlerts) Evaluate(ctx context.Context, cfg models.UPSConfig, snap models.Snapshot, now time.Time) ([]models.AlertEvent, error) {
	return nil, nil
}

type mockNotifier struct{}

func (m *mockNotifier) Send(ctx context.Context, name string, events []models.AlertEvent) error {
	return nil
}

type mockPoller struct {
	tcpResult   service.ProbeResult
	probeResult service.ProbeResult
	reconciles  atomic.Int64 // bumped from the async reconcile goroutine

	lastHost string
	lastPort int
}

func (m *mockPoller) Run(ctx context.Context) {}
func (m *mockPoller) Reconcile(ctx context.Context) error {
	m.reconciles.Add(1)
	return nil
}
func (m *mockPoller) TestTCP(host string, port int, timeout time.Duration) service.ProbeResult {
	m.lastHost, m.lastPort = host, port
	return m.tcpResult
}
func (m *mockPoller) TestConnection(ctx context.Context, host string, port int, timeout time.Duration) service.ProbeResult {
	m.lastHost, m.lastPort = host, port
	return m.probeResult
}

type mocks struct {
	config *mockConfig
	store  *mockStore
	poller *mockPoller
}

func newTestRouter(m *mocks) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if m.config == nil {
		m.config = &mockConfig{}
	}
	if m.store == nil {
		m.store = &mockStore{}
	}
	if m.poller == nil {
		m.poller = &mockPoller{}
	}
	svc := &service.Service{
		ConfigManager: m.config,
		Store:         m.store,
		Alerts:        &mockAlerts{},
		Notifier:      &mockNotifier{},
		Poller:        m.poller,
	}
	h := NewHandler(svc, logger.Get(logger.ErrorLevel))
	return h.InitRoutes()
}
