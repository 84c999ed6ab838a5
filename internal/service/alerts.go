package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/repository"
)

// AlertCooldown is the minimum time between repeated firings of the
// same condition for the same UPS.
const AlertCooldown = 30 * time.Minute

const (
	xferBurstWindow    = time.Hour
	xferBurstThreshold = 3

	voltAlertAvgPct     = 8.0
	voltAlertMinSamples = 10
)

// onBatteryKeywords mark a STATUS value as on-battery.
var onBatteryKeywords = []string{"ONBATT", "ON BATTERY"}

// AlertService evaluates threshold conditions with per-(UPS, condition)
// cooldown suppression. Cooldown state is in-memory: a pure time
// comparison on each evaluation, no timers. Expiry is time-based only;
// a condition going false does not clear its record, so a flapping
// condition cannot re-fire faster than once per cooldown window.
type AlertService struct {
	events  repository.EventRepo
	metrics repository.MetricsRepo
	log     *logger.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time // "name|condition" -> last firing
}

func NewAlertService(events repository.EventRepo, metrics repository.MetricsRepo, log *logger.Logger) *AlertService {
	return &AlertService{
		events:    events,
		metrics:   metrics,
		log:       log,
		lastFired: make(map[string]time.Time),
	}
}

type candidate struct {
	cond  string
	msg   string
	value float64
}

// Evaluate returns the newly fired alert events for one snapshot.
// Conditions are independent: each has its own cooldown key. Fired
// events are appended to the events log before being returned.
func (s *AlertService) Evaluate(ctx context.Context, cfg models.UPSConfig, snap models.Snapshot, now time.Time) ([]models.AlertEvent, error) {
	now = now.UTC()
	cands := s.collect(ctx, cfg, snap, now)
	if len(cands) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []models.AlertEvent
	for _, c := range cands {
		key := cfg.Name + "|" + c.cond
		if last, ok := s.lastFired[key]; ok && now.Sub(last) < AlertCooldown {
			s.log.Debugw("alert suppressed by cooldown", "ups", cfg.Name, "condition", c.cond)
			continue
		}

		ev := models.AlertEvent{
			EventID:    uuid.NewString(),
			UPSName:    cfg.Name,
			Condition:  c.cond,
			Message:    c.msg,
			Value:      c.value,
			OccurredAt: now,
		}
		if err := s.events.AppendAlert(ctx, ev); err != nil {
			return fired, fmt.Errorf("append alert event: %w", err)
		}
		s.lastFired[key] = now
		fired = append(fired, ev)
	}
	return fired, nil
}

// collect gathers every condition whose predicate holds, before any
// cooldown suppression.
func (s *AlertService) collect(ctx context.Context, cfg models.UPSConfig, snap models.Snapshot, now time.Time) []candidate {
	var out []candidate

	if cfg.AlertLoadPctHigh != nil {
		if load, ok := snap.Fields.Float("LOADPCT"); ok && load >= *cfg.AlertLoadPctHigh {
			out = append(out, candidate{
				cond:  models.CondLoadHigh,
				msg:   fmt.Sprintf("Load percentage high: %.1f%% >= %.1f%%", load, *cfg.AlertLoadPctHigh),
				value: load,
			})
		}
	}

	if cfg.AlertBChargeLow != nil {
		if charge, ok := snap.Fields.Float("BCHARGE"); ok && charge <= *cfg.AlertBChargeLow {
			out = append(out, candidate{
				cond:  models.CondBatteryLow,
				msg:   fmt.Sprintf("Battery charge low: %.1f%% <= %.1f%%", charge, *cfg.AlertBChargeLow),
				value: charge,
			})
		}
	}

	if cfg.AlertOnBattery {
		if status, ok := snap.Fields.Get("STATUS"); ok && isOnBattery(status) {
			out = append(out, candidate{
				cond: models.CondOnBattery,
				msg:  "UPS on battery: status=" + strings.ToUpper(status),
			})
		}
	}

	if cfg.AlertRuntimeLowMinutes != nil {
		if rt, ok := snap.Fields.Float("TIMELEFT"); ok && rt <= *cfg.AlertRuntimeLowMinutes {
			out = append(out, candidate{
				cond:  models.CondRuntimeLow,
				msg:   fmt.Sprintf("Runtime low: %.1fm <= %.1fm", rt, *cfg.AlertRuntimeLowMinutes),
				value: rt,
			})
		}
	}

	// Transfer burst: repeated on-battery transitions within the window.
	if n, err := s.events.CountOnBattery(ctx, cfg.Name, now.Add(-xferBurstWindow)); err != nil {
		s.log.Warnw("transfer burst check failed", "ups", cfg.Name, "err", err)
	} else if n >= xferBurstThreshold {
		out = append(out, candidate{
			cond:  models.CondXferBurst,
			msg:   fmt.Sprintf("Frequent battery events: %d in last hour", n),
			value: float64(n),
		})
	}

	// Voltage deviation: rolling average of retained out-of-band samples.
	if samples, err := s.metrics.VoltageSamples(ctx, cfg.Name, voltageSampleWindow); err != nil {
		s.log.Warnw("voltage deviation check failed", "ups", cfg.Name, "err", err)
	} else if len(samples) >= voltAlertMinSamples {
		var sum float64
		for _, smp := range samples {
			sum += smp.DeviationPct
		}
		avg := sum / float64(len(samples))
		if avg > voltAlertAvgPct {
			out = append(out, candidate{
				cond:  models.CondVoltDeviation,
				msg:   fmt.Sprintf("High average voltage deviation: %.1f%% over %d samples", avg, len(samples)),
				value: avg,
			})
		}
	}

	return out
}

func isOnBattery(status string) bool {
	status = strings.ToUpper(status)
	for _, kw := range onBatteryKeywords {
		if strings.Contains(status, kw) {
			return true
		}
	}
	return false
}
