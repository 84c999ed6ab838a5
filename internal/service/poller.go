package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/metrics"
	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/nis"
)

const (
	defaultFetchTimeout = 10 * time.Second
	configWatchInterval = 15 * time.Second
	pruneInterval       = time.Hour
)

// StatusFetcher fetches one status dump; swapped in tests.
type StatusFetcher func(ctx context.Context, host string, port int, timeout time.Duration) (models.Fields, error)

// ProbeCheck is one leg of a connection test.
type ProbeCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ProbeResult distinguishes connectivity failure from protocol failure.
type ProbeResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Connectivity ProbeCheck    `json:"connectivity"`
	Protocol     ProbeCheck    `json:"protocol"`
	Fields       models.Fields `json:"fields,omitempty"`
}

// pollTask is one running per-UPS polling loop.
type pollTask struct {
	cancel      context.CancelFunc
	done        chan struct{}
	fingerprint string
}

// PollerService keeps exactly one polling task per configured UPS and
// reconciles the set live as configuration changes. The task registry
// is owned here and mutated only under p.mu.
type PollerService struct {
	config   ConfigManager
	store    Store
	alerts   Alerts
	notifier Notifier
	log      *logger.Logger

	fetch         StatusFetcher
	fetchTimeout  time.Duration
	fallbackWatts float64
	watchEvery    time.Duration
	pruneEvery    time.Duration

	mu     sync.Mutex
	runCtx context.Context
	tasks  map[string]*pollTask
}

func NewPollerService(config ConfigManager, store Store, alerts Alerts, notifier Notifier, log *logger.Logger, opts Options) *PollerService {
	return &PollerService{
		config:        config,
		store:         store,
		alerts:        alerts,
		notifier:      notifier,
		log:           log,
		fetch:         nis.FetchStatus,
		fetchTimeout:  opts.FetchTimeout,
		fallbackWatts: opts.FallbackNominalWatts,
		watchEvery:    configWatchInterval,
		pruneEvery:    pruneInterval,
		tasks:         make(map[string]*pollTask),
	}
}

// Run drives the scheduler until ctx is canceled: initial
// reconciliation, a periodic config watch (safety net on top of
// explicit Reconcile calls) and the hourly prune pass. On cancellation
// every task is stopped and in-flight pipeline passes are waited for.
func (p *PollerService) Run(ctx context.Context) {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	if err := p.Reconcile(ctx); err != nil {
		p.log.Errorw("initial reconcile failed", "err", err)
	}
	lastFP, _ := p.fingerprintConfig(ctx)

	watch := time.NewTicker(p.watchEvery)
	prune := time.NewTicker(p.pruneEvery)
	defer watch.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			return
		case <-watch.C:
			fp, err := p.fingerprintConfig(ctx)
			if err != nil {
				p.log.Debugw("config watch failed", "err", err)
				continue
			}
			if fp != lastFP {
				if err := p.Reconcile(ctx); err != nil {
					p.log.Errorw("reconcile failed", "err", err)
					continue
				}
				lastFP = fp
			}
		case now := <-prune.C:
			if err := p.store.Prune(ctx, now.UTC()); err != nil {
				p.log.Warnw("prune failed", "err", err)
			}
		}
	}
}

// Reconcile aligns running tasks with current configuration: tasks are
// started for new UPSes, stopped for removed ones, and restarted only
// when host, port or interval changed. Threshold-only edits need no
// restart since thresholds are re-read each tick. Idempotent: running
// it twice with no config change starts and stops nothing.
func (p *PollerService) Reconcile(ctx context.Context) error {
	desired, err := p.config.List(ctx)
	if err != nil {
		return fmt.Errorf("list ups configs: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.runCtx
	if base == nil {
		base = context.Background()
	}

	want := make(map[string]models.UPSConfig, len(desired))
	for _, u := range desired {
		want[u.Name] = u
	}

	for name, t := range p.tasks {
		u, ok := want[name]
		if ok && t.fingerprint == taskFingerprint(u) {
			continue
		}
		t.cancel()
		<-t.done
		delete(p.tasks, name)
		if !ok {
			p.log.Infow("polling task stopped", "ups", name)
		}
	}

	for name, u := range want {
		if _, ok := p.tasks[name]; ok {
			continue
		}
		tctx, cancel := context.WithCancel(base)
		t := &pollTask{
			cancel:      cancel,
			done:        make(chan struct{}),
			fingerprint: taskFingerprint(u),
		}
		p.tasks[name] = t
		go p.runTask(tctx, u, t.done)
		p.log.Infow("polling task started", "ups", name, "host", u.Host, "port", u.Port, "interval_s", u.IntervalSeconds)
	}
	return nil
}

// TaskCount reports the number of running polling tasks.
func (p *PollerService) TaskCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *PollerService) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.tasks {
		t.cancel()
		<-t.done
		delete(p.tasks, name)
	}
}

// taskFingerprint covers the attributes that require a task restart.
func taskFingerprint(u models.UPSConfig) string {
	return fmt.Sprintf("%s|%d|%d", u.Host, u.Port, u.IntervalSeconds)
}

// fingerprintConfig summarizes the restart-relevant shape of the whole
// config set, used by the watch loop to detect changes cheaply.
func (p *PollerService) fingerprintConfig(ctx context.Context) (string, error) {
	list, err := p.config.List(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(list))
	for _, u := range list {
		parts = append(parts, u.Name+"|"+taskFingerprint(u))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";"), nil
}

// runTask is one UPS's polling loop. The first pass fires immediately,
// then every interval. A failed pass never terminates the task.
func (p *PollerService) runTask(ctx context.Context, u models.UPSConfig, done chan struct{}) {
	defer close(done)
	// The open minute bucket would otherwise be lost with the task.
	defer func() {
		if err := p.store.Flush(context.WithoutCancel(ctx), u.Name); err != nil {
			p.log.Warnw("flush minute bucket failed", "ups", u.Name, "err", err)
		}
	}()

	interval := time.Duration(u.IntervalSeconds) * time.Second
	t := time.NewTicker(interval)
	defer t.Stop()

	p.pollOnce(ctx, u)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.pollOnce(ctx, u)
		}
	}
}

// pollOnce runs one pipeline pass: fetch, derive, record, evaluate,
// notify. Stages execute strictly in order. Any failure is contained
// here: a failed fetch records nothing and evaluates nothing, leaving
// the previous latest snapshot visible.
func (p *PollerService) pollOnce(ctx context.Context, u models.UPSConfig) {
	now := time.Now().UTC()

	fields, err := p.fetch(ctx, u.Host, u.Port, p.fetchTimeout)
	if err != nil {
		var pe *nis.ProtocolError
		switch {
		case errors.As(err, &pe):
			p.log.Warnw("protocol error", "ups", u.Name, "err", err, "sample", pe.Sample)
		default:
			p.log.Warnw("poll failed", "ups", u.Name, "err", err)
		}
		return
	}
	fields = fields.Clone()
	fields["UPSNAME"] = u.Name

	d := metrics.Derive(fields, p.fallbackWatts)
	snap := models.Snapshot{
		Fields:         fields,
		Watts:          d.Watts,
		RuntimeMinutes: d.RuntimeMinutes,
		HeadroomPct:    d.HeadroomPct,
		CapturedAt:     now,
	}

	// Once a sample is fetched the rest of the pass runs to completion,
	// detached from task cancellation: a cancel landing between store
	// writes would leave a half-applied mutation (latest overwritten,
	// history missing). Shutdown waits on the task's done channel, so
	// the pass is never abandoned mid-write.
	passCtx := context.WithoutCancel(ctx)

	if err := p.store.RecordSnapshot(passCtx, u.Name, snap, now); err != nil {
		p.log.Warnw("record snapshot failed", "ups", u.Name, "err", err)
		return
	}

	// Thresholds are read fresh so config edits apply without restart.
	cfg := u
	if fresh, ok, err := p.config.Get(passCtx, u.Name); err == nil && ok {
		cfg = fresh
	}

	events, err := p.alerts.Evaluate(passCtx, cfg, snap, now)
	if err != nil {
		p.log.Warnw("alert evaluation failed", "ups", u.Name, "err", err)
	}
	if len(events) == 0 {
		return
	}
	if err := p.notifier.Send(passCtx, u.Name, events); err != nil {
		// Delivery failure does not affect alert or cooldown state.
		p.log.Errorw("alert notification failed", "ups", u.Name, "err", err)
	}
}

// TestTCP checks raw reachability only, without protocol parsing.
func (p *PollerService) TestTCP(host string, port int, timeout time.Duration) ProbeResult {
	res := ProbeResult{}
	if err := nis.TestTCP(host, port, timeout); err != nil {
		res.Connectivity.Error = err.Error()
		res.Message = "TCP connectivity failed: " + err.Error()
		return res
	}
	// Protocol stays zero-valued: the port-only check never exercises it.
	res.Connectivity.OK = true
	res.Success = true
	res.Message = "TCP port reachable"
	return res
}

// TestConnection runs the protocol client once and reports a structured
// result distinguishing connectivity failure from protocol failure.
func (p *PollerService) TestConnection(ctx context.Context, host string, port int, timeout time.Duration) ProbeResult {
	res := ProbeResult{}

	fields, err := p.fetch(ctx, host, port, timeout)
	if err != nil {
		var ce *nis.ConnectError
		var pe *nis.ProtocolError
		switch {
		case errors.As(err, &ce):
			res.Connectivity.Error = err.Error()
			res.Message = "TCP connectivity failed: " + err.Error()
		case errors.As(err, &pe):
			res.Connectivity.OK = true
			res.Protocol.Error = err.Error()
			res.Message = "protocol test failed: " + err.Error()
		default:
			res.Connectivity.Error = err.Error()
			res.Message = err.Error()
		}
		return res
	}

	res.Connectivity.OK = true
	res.Protocol.OK = true
	res.Success = true
	res.Message = "status fetched"
	res.Fields = fields
	return res
}
