package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
)

type fakeSnapshotRepo struct {
	latest     map[string]models.Snapshot
	history    map[string][]models.HistoryEntry
	pruned     []time.Time
	saveErr    error
	historyErr error
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		latest:  make(map[string]models.Snapshot),
		history: make(map[string][]models.HistoryEntry),
	}
}

func (f *fakeSnapshotRepo) SaveLatest(ctx context.Context, name string, snap models.Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.latest[name] = snap
	return nil
}
func (f *fakeSnapshotRepo) Latest(ctx context.Context, name string) (models.Snapshot, bool, error) {
	s, ok := f.latest[name]
	return s, ok, nil
}
func (f *fakeSnapshotRepo) LatestAll(ctx context.Context) (map[string]models.Snapshot, error) {
	return f.latest, nil
}
func (f *fakeSnapshotRepo) AppendHistory(ctx context.Context, name string, e models.HistoryEntry) error {
	if f.historyErr != nil {
		return f.historyErr
	}
	f.history[name] = append(f.history[name], e)
	return nil
}
func (f *fakeSnapshotRepo) History(ctx context.Context, name string, limit int) ([]models.HistoryEntry, error) {
	return f.history[name], nil
}
func (f *fakeSnapshotRepo) PruneHistory(ctx context.Context, cutoff time.Time) error {
	f.pruned = append(f.pruned, cutoff)
	return nil
}

type fakeMetricsRepo struct {
	minutes  []models.MinuteAverage
	energy   map[string]float64 // "name|day" -> watt seconds
	voltage  []models.VoltageSample
	pruned   []time.Time
	minErr   error
	energErr error
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{energy: make(map[string]float64)}
}

func (f *fakeMetricsRepo) InsertMinuteAverage(ctx context.Context, name string, avg models.MinuteAverage, bucketTS time.Time) error {
	if f.minErr != nil {
		return f.minErr
	}
	f.minutes = append(f.minutes, avg)
	return nil
}
func (f *fakeMetricsRepo) MinuteAverages(ctx context.Context, name string, limit int) ([]models.MinuteAverage, error) {
	return f.minutes, nil
}
func (f *fakeMetricsRepo) AddEnergy(ctx context.Context, name, day string, wattSeconds float64) error {
	if f.energErr != nil {
		return f.energErr
	}
	f.energy[name+"|"+day] += wattSeconds
	return nil
}
func (f *fakeMetricsRepo) EnergyForDay(ctx context.Context, name, day string) (float64, bool, error) {
	ws, ok := f.energy[name+"|"+day]
	return ws, ok, nil
}
func (f *fakeMetricsRepo) AddVoltageSample(ctx context.Context, name string, s models.VoltageSample) error {
	f.voltage = append(f.voltage, s)
	return nil
}
func (f *fakeMetricsRepo) VoltageSamples(ctx context.Context, name string, limit int) ([]models.VoltageSample, error) {
	return f.voltage, nil
}
func (f *fakeMetricsRepo) PruneMetrics(ctx context.Context, cutoff time.Time) error {
	f.pruned = append(f.pruned, cutoff)
	return nil
}

type fakeEventRepo struct {
	alerts      []models.AlertEvent
	transitions []models.Transition
	onBattery   int
	pruned      []time.Time
	appendErr   error
}

func (f *fakeEventRepo) AppendAlert(ctx context.Context, ev models.AlertEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.alerts = append(f.alerts, ev)
	return nil
}
func (f *fakeEventRepo) RecentAlerts(ctx context.Context, name string, limit int) ([]models.AlertEvent, error) {
	return f.alerts, nil
}
func (f *fakeEventRepo) AppendTransition(ctx context.Context, name string, tr models.Transition) error {
	f.transitions = append(f.transitions, tr)
	return nil
}
func (f *fakeEventRepo) Transitions(ctx context.Context, name string, limit int) ([]models.Transition, error) {
	return f.transitions, nil
}
func (f *fakeEventRepo) CountOnBattery(ctx context.Context, name string, since time.Time) (int, error) {
	return f.onBattery, nil
}
func (f *fakeEventRepo) PruneEvents(ctx context.Context, cutoff time.Time) error {
	f.pruned = append(f.pruned, cutoff)
	return nil
}

func testLog() *logger.Logger { return logger.Get(logger.ErrorLevel) }

func watts(v float64) *float64 { return &v }

func snapWithWatts(w float64) models.Snapshot {
	return models.Snapshot{Fields: models.Fields{}, Watts: watts(w)}
}

func TestRecordSnapshot_EnergyBackwardRectangle(t *testing.T) {
	snaps := newFakeSnapshotRepo()
	metrics := newFakeMetricsRepo()
	events := &fakeEventRepo{}
	s := NewStoreService(snaps, metrics, events, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	if err := s.RecordSnapshot(context.Background(), "ups1", snapWithWatts(0), t0); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if len(metrics.energy) != 0 {
		t.Fatalf("first sample must contribute zero energy, got %v", metrics.energy)
	}

	// 100 W for the 60 s interval ending at the second sample.
	if err := s.RecordSnapshot(context.Background(), "ups1", snapWithWatts(100), t0.Add(time.Minute)); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	got := metrics.energy["ups1|"+t0.Format("20060102")]
	if got != 6000 {
		t.Fatalf("expected 6000 watt-seconds, got %.1f", got)
	}
}

func TestRecordSnapshot_MinuteBucketFinalizesOnRollover(t *testing.T) {
	snaps := newFakeSnapshotRepo()
	metrics := newFakeMetricsRepo()
	s := NewStoreService(snaps, metrics, &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 5, 0, time.UTC)

	mustRecord(t, s, "ups1", snapWithWatts(100), t0)
	mustRecord(t, s, "ups1", snapWithWatts(200), t0.Add(20*time.Second))
	if len(metrics.minutes) != 0 {
		t.Fatalf("open bucket must not be persisted yet")
	}

	// Rollover into the next minute finalizes the previous bucket.
	mustRecord(t, s, "ups1", snapWithWatts(300), t0.Add(time.Minute))
	if len(metrics.minutes) != 1 {
		t.Fatalf("expected one finalized bucket, got %d", len(metrics.minutes))
	}
	b := metrics.minutes[0]
	if b.Minute != "202608291000" {
		t.Fatalf("bucket minute = %q", b.Minute)
	}
	if b.AvgWatts != 150 || b.Samples != 2 {
		t.Fatalf("bucket = %.1f W / %d samples, want 150 / 2", b.AvgWatts, b.Samples)
	}
}

func TestRecordSnapshot_RejectsOutOfOrder(t *testing.T) {
	s := NewStoreService(newFakeSnapshotRepo(), newFakeMetricsRepo(), &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mustRecord(t, s, "ups1", snapWithWatts(100), t0)

	err := s.RecordSnapshot(context.Background(), "ups1", snapWithWatts(100), t0.Add(-time.Second))
	var oe *OrderingError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OrderingError, got %T: %v", err, err)
	}
	if oe.UPS != "ups1" {
		t.Fatalf("OrderingError.UPS = %q", oe.UPS)
	}

	// Per-device ordering: another UPS is unaffected.
	if err := s.RecordSnapshot(context.Background(), "ups2", snapWithWatts(100), t0.Add(-time.Hour)); err != nil {
		t.Fatalf("independent device rejected: %v", err)
	}
}

func TestRecordSnapshot_DuplicateTimestampNotDoubleCounted(t *testing.T) {
	snaps := newFakeSnapshotRepo()
	metrics := newFakeMetricsRepo()
	s := NewStoreService(snaps, metrics, &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 5, 0, time.UTC)

	mustRecord(t, s, "ups1", snapWithWatts(100), t0)
	// Re-recording the same poll must refresh latest only.
	mustRecord(t, s, "ups1", snapWithWatts(100), t0)

	if got := len(snaps.history["ups1"]); got != 1 {
		t.Fatalf("duplicate timestamp appended history: %d entries", got)
	}
	if len(metrics.energy) != 0 {
		t.Fatalf("duplicate timestamp accrued energy: %v", metrics.energy)
	}

	// Roll the minute over: the bucket holds one sample, not two.
	mustRecord(t, s, "ups1", snapWithWatts(300), t0.Add(time.Minute))
	if len(metrics.minutes) != 1 {
		t.Fatalf("expected one finalized bucket, got %d", len(metrics.minutes))
	}
	b := metrics.minutes[0]
	if b.Samples != 1 || b.AvgWatts != 100 {
		t.Fatalf("bucket = %.1f W / %d samples, want 100 / 1", b.AvgWatts, b.Samples)
	}

	// Latest still reflects the re-recorded snapshot.
	snap, ok, _ := s.Latest(context.Background(), "ups1")
	if !ok || snap.Watts == nil || *snap.Watts != 300 {
		t.Fatalf("latest = %+v", snap)
	}
}

func TestFlush_FinalizesOpenBucket(t *testing.T) {
	metrics := newFakeMetricsRepo()
	s := NewStoreService(newFakeSnapshotRepo(), metrics, &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 5, 0, time.UTC)
	mustRecord(t, s, "ups1", snapWithWatts(100), t0)
	mustRecord(t, s, "ups1", snapWithWatts(200), t0.Add(20*time.Second))

	if err := s.Flush(context.Background(), "ups1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(metrics.minutes) != 1 {
		t.Fatalf("expected one finalized bucket, got %d", len(metrics.minutes))
	}
	b := metrics.minutes[0]
	if b.Minute != "202608291000" || b.AvgWatts != 150 || b.Samples != 2 {
		t.Fatalf("bucket = %+v", b)
	}

	// Nothing open anymore: a second flush writes nothing.
	if err := s.Flush(context.Background(), "ups1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(metrics.minutes) != 1 {
		t.Fatalf("empty flush wrote a bucket")
	}

	// Unknown device is a no-op, not an error.
	if err := s.Flush(context.Background(), "ghost"); err != nil {
		t.Fatalf("Flush unknown device: %v", err)
	}
}

func TestRecordSnapshot_TracksTransitions(t *testing.T) {
	events := &fakeEventRepo{}
	s := NewStoreService(newFakeSnapshotRepo(), newFakeMetricsRepo(), events, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	rec := func(status, xfer string, at time.Time) {
		t.Helper()
		snap := models.Snapshot{Fields: models.Fields{"STATUS": status, "LASTXFER": xfer}}
		mustRecord(t, s, "ups1", snap, at)
	}

	rec("ONLINE", "No transfers since turnon", t0)
	rec("ONLINE", "No transfers since turnon", t0.Add(30*time.Second))
	rec("ONBATT", "Line voltage notch or spike", t0.Add(time.Minute))

	// First poll seeds both values; the third changes both.
	if len(events.transitions) != 4 {
		t.Fatalf("expected 4 transitions, got %d: %+v", len(events.transitions), events.transitions)
	}
	last := events.transitions[len(events.transitions)-2]
	if last.Kind != "STATUS" || last.Detail != "ONBATT" {
		t.Fatalf("unexpected transition %+v", last)
	}
}

func TestRecordSnapshot_VoltageDeviationOutsideBand(t *testing.T) {
	metrics := newFakeMetricsRepo()
	s := NewStoreService(newFakeSnapshotRepo(), metrics, &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	// 230 nominal, 235 line: ~2.2%, inside the band.
	mustRecord(t, s, "ups1", models.Snapshot{
		Fields: models.Fields{"LINEV": "235.0 Volts", "NOMINV": "230 Volts"},
	}, t0)
	if len(metrics.voltage) != 0 {
		t.Fatalf("in-band voltage must not be recorded")
	}

	// 230 nominal, 207 line: 10%, outside the band.
	mustRecord(t, s, "ups1", models.Snapshot{
		Fields: models.Fields{"LINEV": "207.0 Volts", "NOMINV": "230 Volts"},
	}, t0.Add(time.Minute))
	if len(metrics.voltage) != 1 {
		t.Fatalf("expected one deviation sample, got %d", len(metrics.voltage))
	}
	if d := metrics.voltage[0].DeviationPct; d < 9.9 || d > 10.1 {
		t.Fatalf("deviation = %.2f%%, want ~10%%", d)
	}
}

func TestRecordSnapshot_SaveFailureLeavesLatestIntact(t *testing.T) {
	snaps := newFakeSnapshotRepo()
	s := NewStoreService(snaps, newFakeMetricsRepo(), &fakeEventRepo{}, testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mustRecord(t, s, "ups1", snapWithWatts(100), t0)

	snaps.saveErr = errors.New("disk full")
	err := s.RecordSnapshot(context.Background(), "ups1", snapWithWatts(999), t0.Add(time.Minute))
	if err == nil {
		t.Fatalf("expected error")
	}

	snap, ok, _ := s.Latest(context.Background(), "ups1")
	if !ok || snap.Watts == nil || *snap.Watts != 100 {
		t.Fatalf("previous snapshot must survive a failed write, got %+v", snap)
	}
}

func TestPrune_UsesRetentionCutoff(t *testing.T) {
	snaps := newFakeSnapshotRepo()
	metrics := newFakeMetricsRepo()
	events := &fakeEventRepo{}
	s := NewStoreService(snaps, metrics, events, testLog())

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := s.Prune(context.Background(), now); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	want := now.Add(-RetentionPeriod)
	for _, got := range [][]time.Time{snaps.pruned, metrics.pruned, events.pruned} {
		if len(got) != 1 || !got[0].Equal(want) {
			t.Fatalf("prune cutoff = %v, want %v", got, want)
		}
	}
}

func TestEnergyTodayKWh(t *testing.T) {
	metrics := newFakeMetricsRepo()
	s := NewStoreService(newFakeSnapshotRepo(), metrics, &fakeEventRepo{}, testLog())

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	kwh, err := s.EnergyTodayKWh(context.Background(), "ups1", now)
	if err != nil {
		t.Fatalf("EnergyTodayKWh: %v", err)
	}
	if kwh != nil {
		t.Fatalf("expected nil for a day with no energy, got %v", *kwh)
	}

	// 3.6 MJ is exactly 1 kWh.
	metrics.energy["ups1|20260829"] = 3.6e6
	kwh, err = s.EnergyTodayKWh(context.Background(), "ups1", now)
	if err != nil || kwh == nil {
		t.Fatalf("EnergyTodayKWh: %v %v", kwh, err)
	}
	if *kwh != 1 {
		t.Fatalf("expected 1 kWh, got %.4f", *kwh)
	}
}

func mustRecord(t *testing.T, s *StoreService, name string, snap models.Snapshot, at time.Time) {
	t.Helper()
	if err := s.RecordSnapshot(context.Background(), name, snap, at); err != nil {
		t.Fatalf("RecordSnapshot(%s @ %v): %v", name, at, err)
	}
}
