// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/acquisition"
	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/health"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
	"github.com/cobaltcore-dev/diskverdict/pkg/store"
)

// cooldownKey is the store key of the guard's attempt book.
const cooldownKey = "emergency_guard"

// Acquirer supplies devices and one reading per device and attempt.
type Acquirer interface {
	Discover(ctx context.Context) ([]acquisition.Device, error)
	Read(ctx context.Context, d acquisition.Device) device.Reading
}

type Config struct {
	NodeName         string
	Interval         time.Duration
	Workers          int
	TimeoutSchedule  []time.Duration
	TimeoutReset     time.Duration
	WatchdogInterval time.Duration
	StuckAfter       time.Duration
	Prometheus       bool
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Workers < 1 {
		c.Workers = 4
	}
	if len(c.TimeoutSchedule) == 0 {
		c.TimeoutSchedule = DefaultTimeoutSchedule
	}
	if c.TimeoutReset <= 0 {
		c.TimeoutReset = DefaultTimeoutReset
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 10 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Second
	}
}

// Deps are the collaborators of a Monitor. Events, AlertLog, Dispatcher and
// Host are optional.
type Deps struct {
	Acquirer   Acquirer
	Store      store.Store
	Alerts     *alerts.Engine
	Executor   *guard.Executor
	Events     *history.EventLog
	AlertLog   *history.AlertLog
	Dispatcher Dispatcher
	Host       instability.HostClock
}

type presence struct {
	handle string
	usb    bool
}

// Monitor runs scan cycles over all discovered devices. Per-device records
// are owned by the device's scan; a per-identity mutex keeps two scans of
// the same device from overlapping.
type Monitor struct {
	cfg        Config
	acq        Acquirer
	store      store.Store
	tracker    *instability.Tracker
	alerts     *alerts.Engine
	executor   *guard.Executor
	events     *history.EventLog
	alertLog   *history.AlertLog
	dispatcher Dispatcher
	now        func() time.Time
	timeouts   *timeoutBook
	progress   func(r Result, total int)

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	resultsMu sync.RWMutex
	results   map[string]*Result

	presenceMu sync.Mutex
	identities map[string]device.Identity
	present    map[string]presence
	absent     map[string]bool
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithProgress calls fn after each device of a ScanOnce cycle. fn is called
// from the worker goroutines.
func WithProgress(fn func(r Result, total int)) Option {
	return func(m *Monitor) { m.progress = fn }
}

func New(cfg Config, deps Deps, opts ...Option) (*Monitor, error) {
	if deps.Acquirer == nil || deps.Store == nil || deps.Alerts == nil || deps.Executor == nil {
		return nil, errors.New("monitor needs an acquirer, a store, an alert engine and a guard executor")
	}
	cfg.applyDefaults()
	m := &Monitor{
		cfg:        cfg,
		acq:        deps.Acquirer,
		store:      deps.Store,
		alerts:     deps.Alerts,
		executor:   deps.Executor,
		events:     deps.Events,
		alertLog:   deps.AlertLog,
		dispatcher: deps.Dispatcher,
		now:        time.Now,
		timeouts:   newTimeoutBook(cfg.TimeoutSchedule, cfg.TimeoutReset),
		locks:      map[string]*sync.Mutex{},
		results:    map[string]*Result{},
		identities: map[string]device.Identity{},
		absent:     map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}

	trackerOpts := []instability.Option{
		instability.WithClock(func() time.Time { return m.now() }),
		instability.WithSystemEventHandler(m.HandleSystemEvent),
	}
	if deps.Host != nil {
		trackerOpts = append(trackerOpts, instability.WithHost(deps.Host))
	}
	m.tracker = instability.NewTracker(trackerOpts...)

	cooldowns, err := store.Get[guard.Cooldowns](context.Background(), m.store, store.KindCooldown, cooldownKey, 1)
	switch {
	case err == nil:
		m.executor.Guard().Restore(cooldowns)
	case !errors.Is(err, store.ErrNotFound):
		log.Warn().Err(err).Msg("emergency_cooldowns_reset")
	}
	return m, nil
}

func (m *Monitor) Tracker() *instability.Tracker {
	return m.tracker
}

func (m *Monitor) Alerts() *alerts.Engine {
	return m.alerts
}

func (m *Monitor) Executor() *guard.Executor {
	return m.executor
}

// Run scans once immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	go m.watchdog(ctx)

	if _, err := m.ScanOnce(ctx); err != nil {
		log.Error().Err(err).Msg("scan_cycle_failed")
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.ScanOnce(ctx); err != nil {
				log.Error().Err(err).Msg("scan_cycle_failed")
			}
		}
	}
}

// ScanOnce runs one cycle. Devices are scanned in parallel, bounded by the
// worker count. A cancelled ctx stops the cycle between devices.
func (m *Monitor) ScanOnce(ctx context.Context) ([]Result, error) {
	start := time.Now()
	devs, err := m.acq.Discover(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Result, len(devs))
	sem := make(chan struct{}, m.cfg.Workers)
	var wg sync.WaitGroup
	for i, d := range devs {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			out[i] = m.scanDevice(ctx, d, false)
			if m.progress != nil && !out[i].Started.IsZero() {
				m.progress(out[i], len(devs))
			}
		}()
	}
	wg.Wait()

	results := slices.DeleteFunc(out, func(r Result) bool { return r.Started.IsZero() })
	if ctx.Err() == nil {
		m.trackPresence(ctx, results)
	}

	scanDurationHistogram.Observe(time.Since(start).Seconds())
	log.Info().Int("devices", len(results)).Dur("took", time.Since(start)).Msg("scan_cycle_complete")
	return results, nil
}

// ForceScan re-reads one device as a diagnostic read. The GDC record is
// frozen for the read and left as it was, so a manual scan never
// escalates it.
func (m *Monitor) ForceScan(ctx context.Context, handle string) (Result, error) {
	if !strings.HasPrefix(handle, "/dev/") {
		handle = "/dev/" + handle
	}
	target := acquisition.Device{Handle: handle}
	devs, err := m.acq.Discover(ctx)
	if err != nil {
		return Result{}, err
	}
	for _, d := range devs {
		if d.Handle == handle {
			target = d
			break
		}
	}
	res := m.scanDevice(ctx, target, true)
	if res.Started.IsZero() {
		return res, ctx.Err()
	}
	return res, nil
}

// Results returns a copy of the results table, ordered by device handle.
func (m *Monitor) Results() []Result {
	m.resultsMu.RLock()
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, *r)
	}
	m.resultsMu.RUnlock()
	slices.SortFunc(out, func(a, b Result) int { return strings.Compare(a.Identity.Handle, b.Identity.Handle) })
	return out
}

func (m *Monitor) lockFor(key string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

func (m *Monitor) beginScan(handle string, now time.Time) {
	m.resultsMu.Lock()
	defer m.resultsMu.Unlock()
	entry := Result{}
	if prev, ok := m.results[handle]; ok {
		entry = *prev
	}
	entry.Identity.Handle = handle
	entry.State = ScanStateScanning
	entry.Started = now
	entry.Finished = nil
	entry.stuckReported = false
	m.results[handle] = &entry
}

func (m *Monitor) finishScan(handle string, res Result) {
	m.resultsMu.Lock()
	defer m.resultsMu.Unlock()
	m.results[handle] = &res
}

// abortScan drops the placeholder of a scan interrupted by cancellation.
func (m *Monitor) abortScan(handle string) {
	m.resultsMu.Lock()
	defer m.resultsMu.Unlock()
	if r, ok := m.results[handle]; ok && r.State == ScanStateScanning {
		if r.Finished == nil {
			delete(m.results, handle)
			return
		}
		r.State = ScanStateDone
	}
}

// resolveIdentity remembers the identity behind a handle so that failed
// reads, which carry no model or serial, land on the right records.
func (m *Monitor) resolveIdentity(handle string, r device.Reading) device.Identity {
	m.presenceMu.Lock()
	defer m.presenceMu.Unlock()
	if r.Identity.Known() {
		id := r.Identity
		id.Handle = handle
		m.identities[handle] = id
		return id
	}
	if id, ok := m.identities[handle]; ok {
		return id
	}
	return device.NewIdentity("", "", handle)
}

func (m *Monitor) identityFor(handle string) device.Identity {
	m.presenceMu.Lock()
	defer m.presenceMu.Unlock()
	if id, ok := m.identities[handle]; ok {
		return id
	}
	return device.NewIdentity("", "", handle)
}

func (m *Monitor) scanDevice(ctx context.Context, d acquisition.Device, forced bool) Result {
	// Handles and identity keys never collide: keys carry no slash.
	hmu := m.lockFor(d.Handle)
	hmu.Lock()
	defer hmu.Unlock()

	started := m.now()
	m.beginScan(d.Handle, started)

	timeoutKey := m.identityFor(d.Handle).Key()
	rctx, cancel := context.WithTimeout(ctx, m.timeouts.Next(timeoutKey, started))
	reading := m.acq.Read(rctx, d)
	cancel()

	if ctx.Err() != nil {
		m.abortScan(d.Handle)
		return Result{}
	}
	id := m.resolveIdentity(d.Handle, reading)
	if key := id.Key(); key != timeoutKey {
		m.timeouts.Move(timeoutKey, key)
	}
	m.timeouts.Observe(id.Key(), reading.Outcome == device.OutcomeTimeout)
	if reading.Outcome == device.OutcomeTimeout {
		log.Warn().Str("device", d.Handle).Str("detail", reading.Detail).Msg("smart_read_timeout")
	}

	mu := m.lockFor(id.Key())
	mu.Lock()
	defer mu.Unlock()

	res := m.evaluate(context.WithoutCancel(ctx), id, reading, forced)
	res.Started = started
	finished := m.now()
	res.Finished = &finished
	m.finishScan(d.Handle, res)
	return res
}

// evaluate runs the pipeline for one reading: GDC and instability
// registration, health score, decision, alerts and emergency guard. All
// records are computed first and persisted at the end.
func (m *Monitor) evaluate(ctx context.Context, id device.Identity, reading device.Reading, forced bool) Result {
	now := m.now()
	key := id.Key()
	res := Result{
		Identity: id,
		DiskID:   key,
		State:    ScanStateDone,
		Outcome:  reading.Outcome,
		Detail:   reading.Detail,
		Forced:   forced,
	}
	success := reading.Outcome == device.OutcomeSuccess
	if reading.Outcome.Failed() {
		res.State = ScanStateFailed
	}

	gdcRec, _ := store.LoadOrDefault(ctx, m.store, store.KindGDC, key, gdc.RecordVersion, gdc.NewRecord)
	instRec, _ := store.LoadOrDefault(ctx, m.store, store.KindInstability, key, instability.RecordVersion, m.tracker.NewRecord)
	alertRec, _ := store.LoadOrDefault(ctx, m.store, store.KindAlert, key, alerts.RecordVersion, alerts.NewRecord)
	base, _ := store.LoadOrDefault(ctx, m.store, store.KindBaseline, key, BaselineVersion, NewBaseline)

	// GDC
	gdcRec.Unfreeze()
	gdcRec.Restore()
	pristine := gdcRec.Clone()
	if forced {
		gdcRec.Freeze()
	}
	gdcRec.Apply(reading.Outcome, now)
	gdcRec.Unfreeze()
	var transition *gdc.Transition
	if t, ok := gdcRec.Transition(); ok {
		transition = &t
	}
	res.GDC = gdcRec.State
	res.GDCCounters = gdcRec.Counters

	// Instability
	var snap *device.Snapshot
	switch {
	case success:
		s := reading.Snapshot
		s.Identity = id
		snap = &s
		m.tracker.RegisterSuccess(key, instRec, s.PowerCycles, s.LoadCycles)
		if category, ok := m.tracker.RegisterCommandTimeout(key, instRec, s.CommandTimeouts); ok {
			res.TimeoutCategory = category
		}
	case reading.Outcome.Failed():
		m.tracker.RegisterRestart(key, instRec, instability.Restart{
			Source: instability.SourceSmartException,
			Reason: "SMART read " + reading.Outcome.String(),
		})
	}
	res.Instability = instRec.Summary(now)
	res.Snapshot = snap
	res.IsUSB = base.IsUSB
	if snap != nil {
		res.IsUSB = snap.IsUSB
	}

	// Health and decision
	var previousStatus *decision.Status
	if base.LastStatus != nil {
		s := *base.LastStatus
		previousStatus = &s
	}
	if snap != nil {
		hr := health.Score(*snap, instRec.Score, instRec.FaultRestarts24h(now))
		res.Health = &hr
		score := hr.Total
		dec := decision.Evaluate(decision.Input{
			Reallocated:         decision.Counter{Current: device.Valid(snap.ReallocatedSectors), Previous: base.Reallocated},
			Pending:             decision.Counter{Current: device.Valid(snap.PendingSectors), Previous: base.Pending},
			Temperature:         device.Valid(snap.Temperature),
			HealthScore:         &score,
			PreviousHealthScore: base.HealthScore,
			USB:                 snap.IsUSB,
			LimitedSmart:        snap.LimitedSmart(),
			SystemDisk:          m.executor.Guard().SystemDisk(ctx, id.Handle),
		})
		res.Decision = &dec
	}

	// Alerts
	in := alerts.Input{Identity: id, GDC: gdcRec.State, IsUSB: res.IsUSB}
	if snap != nil {
		in.Score = &res.Health.Total
		in.Reallocated = device.Valid(snap.ReallocatedSectors)
		in.Pending = device.Valid(snap.PendingSectors)
		in.Temperature = device.Valid(snap.Temperature)
		in.LifetimeRemaining = device.Valid(snap.LifetimeRemaining)
		in.IsSSD = snap.IsSSD
	}
	res.Alerts = m.alerts.Evaluate(alertRec, in)
	res.AlertStatus = m.alerts.Status(alertRec, in)

	// Emergency guard
	if res.Decision != nil && res.Decision.Status == decision.StatusEmergency {
		act := m.executor.Handle(ctx, id, *res.Decision)
		res.Guard = &act
	}

	// Lifecycle, judged against the baseline before it is updated.
	lifecycle := m.lifecycleEvents(key, id, base, success, now)

	if snap != nil {
		base.Update(*snap, res.Health.Total)
		base.LastStatus = &res.Decision.Status
	}
	res.PeakTemperature = base.PeakTemperature

	// A transition is acknowledged only once it is in the event log; until
	// then every scan reports it again.
	if transition != nil && m.reportTransition(key, id, *transition, now) == nil {
		gdcRec.Commit()
		if pristine.State == gdcRec.State {
			pristine.Commit()
		}
	}

	// Persist
	persisted := gdcRec
	if forced {
		persisted = pristine
	}
	m.persist(ctx, key, store.KindGDC, gdc.RecordVersion, persisted)
	m.persist(ctx, key, store.KindInstability, instability.RecordVersion, instRec)
	m.persist(ctx, key, store.KindAlert, alerts.RecordVersion, alertRec)
	m.persist(ctx, key, store.KindBaseline, BaselineVersion, base)
	if res.Guard != nil && res.Guard.Verdict.Allowed {
		m.persist(ctx, cooldownKey, store.KindCooldown, 1, m.executor.Guard().Cooldowns())
	}

	// Report
	for _, ev := range lifecycle {
		m.appendEvent(key, ev)
	}
	if res.Guard != nil {
		m.reportGuard(key, id, *res.Guard, now)
	}
	if res.Decision != nil && (previousStatus == nil || *previousStatus != res.Decision.Status) && (previousStatus != nil || res.Decision.Status > decision.StatusOK) {
		m.reportDecision(key, id, *res.Decision, now)
	}
	m.reportAlerts(ctx, res.Alerts)
	m.appendEvent(key, scanEvent(res, now))
	if m.cfg.Prometheus {
		publishToPrometheus(res, m.cfg.NodeName)
	}

	logEvent := log.Info().Str("disk", key).Str("device", id.Handle).Str("outcome", res.Outcome.String()).Str("gdc", res.GDC.String())
	if res.Health != nil {
		logEvent = logEvent.Int("score", res.Health.Total).Str("status", res.Decision.Status.String())
	}
	logEvent.Int("instability", res.Instability.Score).Int("alerts", len(res.Alerts)).Msg("device_scanned")
	return res
}

func (m *Monitor) persist(ctx context.Context, key string, kind store.Kind, version int, v any) {
	if err := store.Put(ctx, m.store, kind, key, version, v); err != nil {
		log.Error().Err(err).Str("disk", key).Str("kind", string(kind)).Msg("state_persist_failed")
	}
}
