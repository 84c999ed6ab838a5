package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/repository"
)

const (
	// RetentionPeriod bounds all time-series state: history entries,
	// minute aggregates, transitions, alert events, voltage samples.
	RetentionPeriod = 7 * 24 * time.Hour

	minuteLayout = "200601021504"
	dayLayout    = "20060102"

	// voltageBandPct is the accepted line-voltage deviation from nominal;
	// samples outside the band are recorded.
	voltageBandPct = 5.0

	voltageSampleWindow = 50
)

// OrderingError rejects an out-of-order timestamp presented to the
// store; silently accepting it would corrupt the aggregates.
type OrderingError struct {
	UPS  string
	Last time.Time
	Got  time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("out-of-order snapshot for %s: got %s, last %s",
		e.UPS, e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// minuteBucket is the open (current-minute) wattage aggregate for one
// UPS. It lives in memory and is flushed once the minute rolls over, so
// a persisted aggregate row is never updated after finalization.
type minuteBucket struct {
	minute string
	start  time.Time
	sum    float64
	count  int
}

// deviceState is the per-UPS bookkeeping between consecutive polls.
type deviceState struct {
	lastAt   time.Time
	bucket   *minuteBucket
	status   string
	lastXfer string
}

// StoreService implements Store over the SQL repositories. State is
// keyed by UPS name; a single mutex serializes writers, which also
// keeps the hourly prune from racing per-device writes.
type StoreService struct {
	snaps   repository.SnapshotRepo
	metrics repository.MetricsRepo
	events  repository.EventRepo
	log     *logger.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
}

func NewStoreService(snaps repository.SnapshotRepo, metrics repository.MetricsRepo, events repository.EventRepo, log *logger.Logger) *StoreService {
	return &StoreService{
		snaps:   snaps,
		metrics: metrics,
		events:  events,
		log:     log,
		devices: make(map[string]*deviceState),
	}
}

// RecordSnapshot overwrites the latest snapshot, appends history and
// updates the rolling aggregates.
//
// Energy convention (backward rectangle): the sample's wattage is
// charged for the whole interval that ends at the sample; a device's
// first sample contributes zero energy.
//
// Timestamps must be monotonically non-decreasing per UPS; older
// timestamps are rejected with *OrderingError.
func (s *StoreService) RecordSnapshot(ctx context.Context, name string, snap models.Snapshot, now time.Time) error {
	now = now.UTC()
	snap.CapturedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.devices[name]
	if st == nil {
		st = &deviceState{}
		s.devices[name] = st
	}
	if !st.lastAt.IsZero() {
		if now.Before(st.lastAt) {
			return &OrderingError{UPS: name, Last: st.lastAt, Got: now}
		}
		if now.Equal(st.lastAt) {
			// Duplicate poll timestamp: refresh the latest row only.
			// History and aggregates already hold this instant; folding
			// the sample in again would double-count it.
			return s.snaps.SaveLatest(ctx, name, snap)
		}
	}

	if err := s.snaps.SaveLatest(ctx, name, snap); err != nil {
		return err
	}
	if err := s.snaps.AppendHistory(ctx, name, models.HistoryEntry{Timestamp: now, Snapshot: snap}); err != nil {
		return err
	}
	if err := s.updateMinuteBucket(ctx, name, st, snap, now); err != nil {
		return err
	}
	if err := s.accumulateEnergy(ctx, name, st, snap, now); err != nil {
		return err
	}
	if err := s.trackTransitions(ctx, name, st, snap.Fields, now); err != nil {
		return err
	}
	if err := s.trackVoltage(ctx, name, snap.Fields, now); err != nil {
		return err
	}

	st.lastAt = now
	return nil
}

// updateMinuteBucket folds the sample into the bucket for the minute
// containing now, finalizing the previous bucket on rollover.
func (s *StoreService) updateMinuteBucket(ctx context.Context, name string, st *deviceState, snap models.Snapshot, now time.Time) error {
	minute := now.Format(minuteLayout)

	if st.bucket != nil && st.bucket.minute != minute {
		if err := s.finalizeBucket(ctx, name, st); err != nil {
			return err
		}
	}

	if snap.Watts == nil {
		return nil
	}
	if st.bucket == nil {
		st.bucket = &minuteBucket{
			minute: minute,
			start:  now.Truncate(time.Minute),
		}
	}
	st.bucket.sum += *snap.Watts
	st.bucket.count++
	return nil
}

// finalizeBucket persists the open bucket and clears it. Callers hold
// s.mu.
func (s *StoreService) finalizeBucket(ctx context.Context, name string, st *deviceState) error {
	b := st.bucket
	avg := models.MinuteAverage{
		Minute:   b.minute,
		AvgWatts: b.sum / float64(b.count),
		Samples:  b.count,
	}
	if err := s.metrics.InsertMinuteAverage(ctx, name, avg, b.start); err != nil {
		return err
	}
	st.bucket = nil
	return nil
}

// Flush finalizes a device's open minute bucket. Called when a polling
// task stops, so the last partial minute survives shutdown or device
// removal.
func (s *StoreService) Flush(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.devices[name]
	if st == nil || st.bucket == nil {
		return nil
	}
	return s.finalizeBucket(ctx, name, st)
}

func (s *StoreService) accumulateEnergy(ctx context.Context, name string, st *deviceState, snap models.Snapshot, now time.Time) error {
	if snap.Watts == nil || st.lastAt.IsZero() {
		return nil
	}
	elapsed := now.Sub(st.lastAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	return s.metrics.AddEnergy(ctx, name, now.Format(dayLayout), *snap.Watts*elapsed)
}

// trackTransitions appends an event whenever STATUS or LASTXFER changes
// between consecutive polls.
func (s *StoreService) trackTransitions(ctx context.Context, name string, st *deviceState, fields models.Fields, now time.Time) error {
	status, _ := fields.Get("STATUS")
	status = strings.ToUpper(status)
	if status != "" && status != st.status {
		if err := s.events.AppendTransition(ctx, name, models.Transition{
			OccurredAt: now, Kind: "STATUS", Detail: status,
		}); err != nil {
			return err
		}
		st.status = status
	}

	xfer, _ := fields.Get("LASTXFER")
	if xfer != "" && xfer != st.lastXfer {
		if err := s.events.AppendTransition(ctx, name, models.Transition{
			OccurredAt: now, Kind: "XFER", Detail: xfer,
		}); err != nil {
			return err
		}
		st.lastXfer = xfer
	}
	return nil
}

// trackVoltage records a deviation sample when line voltage is outside
// the accepted band around nominal.
func (s *StoreService) trackVoltage(ctx context.Context, name string, fields models.Fields, now time.Time) error {
	linev, ok := fields.Float("LINEV")
	if !ok || linev <= 0 {
		return nil
	}
	nominal, ok := fields.Float("NOMINV")
	if !ok {
		nominal, ok = fields.Float("NOMINPUT")
	}
	if !ok || nominal <= 0 {
		return nil
	}

	dev := math.Abs(linev-nominal) / nominal * 100
	if dev <= voltageBandPct {
		return nil
	}
	return s.metrics.AddVoltageSample(ctx, name, models.VoltageSample{
		OccurredAt:   now,
		DeviationPct: dev,
	})
}

// Prune removes all time-series state older than now minus the
// retention window. Driven hourly by the scheduler, independent of
// per-device polling.
func (s *StoreService) Prune(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().Add(-RetentionPeriod)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snaps.PruneHistory(ctx, cutoff); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if err := s.metrics.PruneMetrics(ctx, cutoff); err != nil {
		return fmt.Errorf("prune metrics: %w", err)
	}
	if err := s.events.PruneEvents(ctx, cutoff); err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}

func (s *StoreService) Latest(ctx context.Context, name string) (models.Snapshot, bool, error) {
	return s.snaps.Latest(ctx, name)
}

func (s *StoreService) LatestAll(ctx context.Context) (map[string]models.Snapshot, error) {
	return s.snaps.LatestAll(ctx)
}

func (s *StoreService) History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error) {
	return s.snaps.History(ctx, name, limit)
}

func (s *StoreService) MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error) {
	return s.metrics.MinuteAverages(ctx, name, limit)
}

// EnergyTodayKWh converts today's accumulated watt-seconds to kWh. Nil
// means no energy has been recorded today, as opposed to zero.
func (s *StoreService) EnergyTodayKWh(ctx context.Context, name string, now time.Time) (*float64, error) {
	ws, ok, err := s.metrics.EnergyForDay(ctx, name, now.UTC().Format(dayLayout))
	if err != nil || !ok {
		return nil, err
	}
	kwh := ws / 3600 / 1000
	return &kwh, nil
}

func (s *StoreService) Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error) {
	return s.events.Transitions(ctx, name, limit)
}

func (s *StoreService) RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error) {
	return s.events.RecentAlerts(ctx, name, limit)
}

func (s *StoreService) VoltageStats(ctx context.Context, name string) (models.VoltageStats, error) {
	samples, err := s.metrics.VoltageSamples(ctx, name, voltageSampleWindow)
	if err != nil {
		return models.VoltageStats{}, err
	}
	stats := models.VoltageStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats, nil
	}
	var sum, max float64
	for _, smp := range samples {
		sum += smp.DeviationPct
		if smp.DeviationPct > max {
			max = smp.DeviationPct
		}
	}
	avg := sum / float64(len(samples))
	stats.AvgPct = &avg
	stats.MaxPct = &max
	return stats, nil
}
