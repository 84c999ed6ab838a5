package service

import (
	"context"
	"testing"
	"time"

	"github.com/k2patel/apcupsd-client/internal/models"
)

func alertCfg() models.UPSConfig {
	return models.UPSConfig{
		Name:             "ups1",
		Host:             "127.0.0.1",
		AlertLoadPctHigh: watts(90),
	}
}

func loadSnap(pct string) models.Snapshot {
	return models.Snapshot{Fields: models.Fields{"LOADPCT": pct + " Percent"}}
}

func TestEvaluate_FiresAndSuppressesWithinCooldown(t *testing.T) {
	events := &fakeEventRepo{}
	a := NewAlertService(events, newFakeMetricsRepo(), testLog())

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	fired, err := a.Evaluate(context.Background(), alertCfg(), loadSnap("95.0"), t0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected one event, got %d", len(fired))
	}
	ev := fired[0]
	if ev.Condition != models.CondLoadHigh || ev.UPSName != "ups1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.EventID == "" {
		t.Fatalf("event id must be assigned")
	}
	if ev.Value != 95 {
		t.Fatalf("event value = %.1f, want 95", ev.Value)
	}
	if len(events.alerts) != 1 {
		t.Fatalf("fired event must be persisted")
	}

	// Same condition five minutes later is suppressed.
	fired, err = a.Evaluate(context.Background(), alertCfg(), loadSnap("96.0"), t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected cooldown suppression, got %+v", fired)
	}

	// Past the cooldown it fires again.
	fired, err = a.Evaluate(context.Background(), alertCfg(), loadSnap("96.0"), t0.Add(AlertCooldown+5*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected re-fire after cooldown, got %d", len(fired))
	}
}

func TestEvaluate_ConditionsHaveIndependentCooldowns(t *testing.T) {
	a := NewAlertService(&fakeEventRepo{}, newFakeMetricsRepo(), testLog())

	cfg := alertCfg()
	cfg.AlertBChargeLow = watts(20)

	t0 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	fired, err := a.Evaluate(context.Background(), cfg, loadSnap("95.0"), t0)
	if err != nil || len(fired) != 1 {
		t.Fatalf("expected load alert only: %v %v", fired, err)
	}

	// A different condition is not held back by the load cooldown.
	snap := models.Snapshot{Fields: models.Fields{"LOADPCT": "50.0 Percent", "BCHARGE": "15.0 Percent"}}
	fired, err = a.Evaluate(context.Background(), cfg, snap, t0.Add(time.Minute))
	if err != nil || len(fired) != 1 {
		t.Fatalf("expected battery alert: %v %v", fired, err)
	}
	if fired[0].Condition != models.CondBatteryLow {
		t.Fatalf("condition = %s", fired[0].Condition)
	}
}

func TestEvaluate_ThresholdBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  func() models.UPSConfig
		snap models.Snapshot
		want string // condition, "" for none
	}{
		{
			name: "load exactly at threshold fires",
			cfg:  alertCfg,
			snap: loadSnap("90.0"),
			want: models.CondLoadHigh,
		},
		{
			name: "load below threshold is quiet",
			cfg:  alertCfg,
			snap: loadSnap("89.9"),
		},
		{
			name: "zero threshold is honored, not treated as disabled",
			cfg: func() models.UPSConfig {
				return models.UPSConfig{Name: "ups1", AlertBChargeLow: watts(0)}
			},
			snap: models.Snapshot{Fields: models.Fields{"BCHARGE": "0.0 Percent"}},
			want: models.CondBatteryLow,
		},
		{
			name: "nil threshold disables the condition",
			cfg: func() models.UPSConfig {
				return models.UPSConfig{Name: "ups1"}
			},
			snap: loadSnap("99.0"),
		},
		{
			name: "missing field never fires",
			cfg:  alertCfg,
			snap: models.Snapshot{Fields: models.Fields{}},
		},
		{
			name: "runtime low",
			cfg: func() models.UPSConfig {
				return models.UPSConfig{Name: "ups1", AlertRuntimeLowMinutes: watts(10)}
			},
			snap: models.Snapshot{Fields: models.Fields{"TIMELEFT": "5.0 Minutes"}},
			want: models.CondRuntimeLow,
		},
		{
			name: "on battery status",
			cfg: func() models.UPSConfig {
				return models.UPSConfig{Name: "ups1", AlertOnBattery: true}
			},
			snap: models.Snapshot{Fields: models.Fields{"STATUS": "ONBATT LOWBATT"}},
			want: models.CondOnBattery,
		},
		{
			name: "online status stays quiet",
			cfg: func() models.UPSConfig {
				return models.UPSConfig{Name: "ups1", AlertOnBattery: true}
			},
			snap: models.Snapshot{Fields: models.Fields{"STATUS": "ONLINE"}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := NewAlertService(&fakeEventRepo{}, newFakeMetricsRepo(), testLog())
			fired, err := a.Evaluate(context.Background(), tc.cfg(), tc.snap, time.Now().UTC())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if tc.want == "" {
				if len(fired) != 0 {
					t.Fatalf("expected no events, got %+v", fired)
				}
				return
			}
			if len(fired) != 1 || fired[0].Condition != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, fired)
			}
		})
	}
}

func TestEvaluate_TransferBurst(t *testing.T) {
	events := &fakeEventRepo{onBattery: 3}
	a := NewAlertService(events, newFakeMetricsRepo(), testLog())

	cfg := models.UPSConfig{Name: "ups1"}
	fired, err := a.Evaluate(context.Background(), cfg, models.Snapshot{Fields: models.Fields{}}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 1 || fired[0].Condition != models.CondXferBurst {
		t.Fatalf("expected transfer burst, got %+v", fired)
	}

	events.onBattery = 2
	a2 := NewAlertService(events, newFakeMetricsRepo(), testLog())
	fired, _ = a2.Evaluate(context.Background(), cfg, models.Snapshot{Fields: models.Fields{}}, time.Now().UTC())
	if len(fired) != 0 {
		t.Fatalf("two transfers must not fire, got %+v", fired)
	}
}

func TestEvaluate_VoltageDeviation(t *testing.T) {
	metrics := newFakeMetricsRepo()
	for i := 0; i < 12; i++ {
		metrics.voltage = append(metrics.voltage, models.VoltageSample{DeviationPct: 9.0})
	}
	a := NewAlertService(&fakeEventRepo{}, metrics, testLog())

	fired, err := a.Evaluate(context.Background(), models.UPSConfig{Name: "ups1"}, models.Snapshot{Fields: models.Fields{}}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 1 || fired[0].Condition != models.CondVoltDeviation {
		t.Fatalf("expected voltage deviation alert, got %+v", fired)
	}

	// Too few samples: quiet even with a high average.
	short := newFakeMetricsRepo()
	short.voltage = []models.VoltageSample{{DeviationPct: 20}, {DeviationPct: 20}}
	a2 := NewAlertService(&fakeEventRepo{}, short, testLog())
	fired, _ = a2.Evaluate(context.Background(), models.UPSConfig{Name: "ups1"}, models.Snapshot{Fields: models.Fields{}}, time.Now().UTC())
	if len(fired) != 0 {
		t.Fatalf("insufficient samples must not fire, got %+v", fired)
	}
}
