// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/acquisition"
	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
	"github.com/cobaltcore-dev/diskverdict/pkg/store"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

var (
	dataDisk = device.NewIdentity("ST4000DM004", "ZFN0ABC", "/dev/sdc")
	usbDisk  = device.NewIdentity("Samsung PSSD T7", "S5SXNG0R", "/dev/sdb")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeHost struct{}

func (fakeHost) BootTime() (time.Time, error)   { return t0.Add(-72 * time.Hour), nil }
func (fakeHost) Uptime() (time.Duration, error) { return 72 * time.Hour, nil }

type fakeMounts map[string][]string

func (f fakeMounts) Mountpoints(_ context.Context, handle string) ([]string, error) {
	return f[handle], nil
}

type nopUnmounter struct{}

func (nopUnmounter) Unmount(context.Context, string) error { return nil }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []NatsEvent
}

func (d *recordingDispatcher) Dispatch(ev NatsEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, ev := range d.events {
		out = append(out, ev.Kind)
	}
	return out
}

const blockUntilDeadline = "block"

// fakeAcquirer hands out queued readings per handle. The last reading of a
// queue repeats.
type fakeAcquirer struct {
	mu       sync.Mutex
	devices  []acquisition.Device
	readings map[string][]device.Reading
	last     map[string]device.Reading
	release  chan struct{}

	inFlight    map[string]int
	maxInFlight map[string]int
}

func newFakeAcquirer(handles ...string) *fakeAcquirer {
	a := &fakeAcquirer{
		readings:    map[string][]device.Reading{},
		last:        map[string]device.Reading{},
		inFlight:    map[string]int{},
		maxInFlight: map[string]int{},
	}
	a.setDevices(handles...)
	return a
}

func (a *fakeAcquirer) setDevices(handles ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices = nil
	for _, h := range handles {
		a.devices = append(a.devices, acquisition.Device{Handle: h, Type: "sat"})
	}
}

func (a *fakeAcquirer) queue(handle string, rs ...device.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readings[handle] = append(a.readings[handle], rs...)
}

func (a *fakeAcquirer) active(handle string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[handle]
}

func (a *fakeAcquirer) Discover(context.Context) ([]acquisition.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]acquisition.Device(nil), a.devices...), nil
}

func (a *fakeAcquirer) Read(ctx context.Context, d acquisition.Device) device.Reading {
	a.mu.Lock()
	r := a.last[d.Handle]
	if q := a.readings[d.Handle]; len(q) > 0 {
		r = q[0]
		a.readings[d.Handle] = q[1:]
		a.last[d.Handle] = r
	}
	release := a.release
	a.inFlight[d.Handle]++
	a.maxInFlight[d.Handle] = max(a.maxInFlight[d.Handle], a.inFlight[d.Handle])
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight[d.Handle]--
		a.mu.Unlock()
	}()

	if release != nil {
		<-release
	}
	if r.Detail == blockUntilDeadline {
		<-ctx.Done()
		return device.Reading{Outcome: device.OutcomeTimeout, Detail: ctx.Err().Error()}
	}
	return r
}

func healthy(id device.Identity, at time.Time, reallocated, pending int64) device.Reading {
	return device.Reading{
		Identity: id,
		Outcome:  device.OutcomeSuccess,
		Snapshot: device.Snapshot{
			Identity:           id,
			Taken:              at,
			ReallocatedSectors: device.Int64(reallocated),
			PendingSectors:     device.Int64(pending),
			Temperature:        device.Int64(35),
			PowerOnHours:       device.Int64(9000),
			PowerCycles:        device.Int64(120),
			CommandTimeouts:    device.Int64(0),
			Responsive:         true,
			HasSmartData:       true,
		},
	}
}

func usb(r device.Reading) device.Reading {
	r.Snapshot.IsUSB = true
	r.Snapshot.IsSSD = true
	return r
}

func failed(o device.Outcome) device.Reading {
	return device.Reading{Outcome: o, Detail: "smartctl returned nothing"}
}

type fixture struct {
	m         *Monitor
	acq       *fakeAcquirer
	store     *store.FileStore
	events    *history.EventLog
	eventsDir string
	disp      *recordingDispatcher
	clock     *testClock
}

func newFixture(t *testing.T, acq *fakeAcquirer, cfg Config) *fixture {
	t.Helper()
	clock := &testClock{t: t0}
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	eventsDir := t.TempDir()
	events, err := history.NewEventLog(eventsDir, 1024, 365, history.WithEventClock(clock.Now))
	require.NoError(t, err)
	g := guard.New(fakeMounts{dataDisk.Handle: {"/mnt/data"}}, guard.WithClock(clock.Now))
	disp := &recordingDispatcher{}

	if cfg.NodeName == "" {
		cfg.NodeName = "node-a"
	}
	m, err := New(cfg, Deps{
		Acquirer:   acq,
		Store:      st,
		Alerts:     alerts.NewEngine(alerts.DefaultConfig()).WithClock(clock.Now),
		Executor:   guard.NewExecutor(g, nopUnmounter{}, guard.ModePassive),
		Events:     events,
		Dispatcher: disp,
		Host:       fakeHost{},
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{m: m, acq: acq, store: st, events: events, eventsDir: eventsDir, disp: disp, clock: clock}
}

func (f *fixture) scan(t *testing.T) map[string]Result {
	t.Helper()
	f.clock.Advance(time.Minute)
	results, err := f.m.ScanOnce(context.Background())
	require.NoError(t, err)
	out := map[string]Result{}
	for _, r := range results {
		out[r.Identity.Handle] = r
	}
	return out
}

func (f *fixture) eventTypes(t *testing.T, key string) []history.EventType {
	t.Helper()
	evs, err := f.events.Read(key, time.Time{})
	require.NoError(t, err)
	var out []history.EventType
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestTimeoutBookEscalatesAndResets(t *testing.T) {
	b := newTimeoutBook([]time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, time.Minute)

	assert.Equal(t, time.Second, b.Next("sdb", t0))
	b.Observe("sdb", true)
	assert.Equal(t, 2*time.Second, b.Next("sdb", t0.Add(10*time.Second)))
	b.Observe("sdb", true)
	b.Observe("sdb", true)
	assert.Equal(t, 3*time.Second, b.Next("sdb", t0.Add(20*time.Second)), "last step repeats")

	assert.Equal(t, time.Second, b.Next("sdb", t0.Add(5*time.Minute)), "long gap starts over")

	b.Observe("sdb", true)
	b.Observe("sdb", false)
	assert.Equal(t, time.Second, b.Next("sdb", t0.Add(5*time.Minute+time.Second)))
}

func TestTimeoutBookMove(t *testing.T) {
	b := newTimeoutBook([]time.Duration{time.Second, 2 * time.Second}, time.Minute)
	b.Next("sdc", t0)
	b.Observe("sdc", true)

	b.Move("sdc", "ST4000DM004_ZFN0ABC")
	assert.NotContains(t, b.state, "sdc")
	assert.Equal(t, 2*time.Second, b.Next("ST4000DM004_ZFN0ABC", t0.Add(time.Second)))

	b.Next("sdd", t0)
	b.Move("sdd", "ST4000DM004_ZFN0ABC")
	assert.NotContains(t, b.state, "sdd")
	assert.Equal(t, 2*time.Second, b.Next("ST4000DM004_ZFN0ABC", t0.Add(2*time.Second)), "existing state wins")
}

func TestTimeoutStateFollowsIdentity(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f.scan(t)
	f.scan(t)

	f.m.timeouts.mu.Lock()
	defer f.m.timeouts.mu.Unlock()
	assert.Contains(t, f.m.timeouts.state, dataDisk.Key())
	assert.NotContains(t, f.m.timeouts.state, "sdc")
}

func TestBaselineTracksPeakTemperature(t *testing.T) {
	b := NewBaseline()
	assert.False(t, b.Known())

	s := healthy(dataDisk, t0, 0, 0).Snapshot
	s.Temperature = device.Int64(41)
	b.Update(s, 97)

	s.Taken = t0.Add(time.Hour)
	s.Temperature = device.Int64(38)
	b.Update(s, 96)

	assert.True(t, b.Known())
	assert.Equal(t, t0, b.FirstSeen)
	assert.Equal(t, t0.Add(time.Hour), b.LastSeen)
	require.NotNil(t, b.PeakTemperature)
	assert.Equal(t, int64(41), *b.PeakTemperature)
	assert.Equal(t, t0, *b.PeakTemperatureAt)
	assert.Equal(t, 96, *b.HealthScore)
}

func TestScanPipelineEscalatesToEmergency(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{Prometheus: true})
	key := dataDisk.Key()

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 50, 3))
	first := f.scan(t)[dataDisk.Handle]
	require.Equal(t, device.OutcomeSuccess, first.Outcome)
	require.NotNil(t, first.Health)
	require.NotNil(t, first.Decision)
	assert.Equal(t, key, first.DiskID)
	assert.Equal(t, ScanStateDone, first.State)
	assert.Nil(t, first.Guard)
	assert.Contains(t, f.eventTypes(t, key), history.EventDeviceAdded)

	base, err := store.Get[*Baseline](context.Background(), f.store, store.KindBaseline, key, BaselineVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(50), *base.Reallocated)
	assert.Equal(t, first.Health.Total, *base.HealthScore)

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0.Add(time.Minute), 250, 12))
	second := f.scan(t)[dataDisk.Handle]
	require.NotNil(t, second.Decision)
	assert.Equal(t, decision.StatusEmergency, second.Decision.Status)
	require.NotNil(t, second.Guard)
	assert.True(t, second.Guard.Verdict.Allowed)
	assert.False(t, second.Guard.Executed, "passive mode never unmounts")
	assert.Equal(t, []string{"/mnt/data"}, second.Guard.Verdict.Mountpoints)

	cooldowns, err := store.Get[guard.Cooldowns](context.Background(), f.store, store.KindCooldown, cooldownKey, 1)
	require.NoError(t, err)
	assert.Contains(t, cooldowns.Attempts, key)

	kinds := f.disp.kinds()
	assert.Contains(t, kinds, KindGuard)
	assert.Contains(t, kinds, KindDecision)
	assert.Contains(t, kinds, KindAlert)
	assert.Contains(t, f.eventTypes(t, key), history.EventGuard)

	assert.Equal(t, float64(decision.StatusEmergency),
		testutil.ToFloat64(decisionStatusGauge.WithLabelValues(key, dataDisk.Handle, "node-a")))
	assert.Equal(t, float64(second.Health.Total),
		testutil.ToFloat64(healthScoreGauge.WithLabelValues(key, dataDisk.Handle, "node-a")))
}

func TestFailedReadsEscalateGDC(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	key := dataDisk.Key()

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f.scan(t)

	acq.queue(dataDisk.Handle, failed(device.OutcomeNoPayload))
	var last Result
	for _i := 0; _i < 3; _i++ {
		last = f.scan(t)[dataDisk.Handle]
	}

	assert.Equal(t, key, last.DiskID, "failed reads land on the known identity")
	assert.Equal(t, ScanStateFailed, last.State)
	assert.Equal(t, gdc.StateSuspect, last.GDC)
	assert.Nil(t, last.Health)
	assert.Nil(t, last.Decision)
	require.Len(t, last.Alerts, 1)
	assert.Equal(t, alerts.TypeGDCDetected, last.Alerts[0].Type)
	assert.Equal(t, alerts.IndicatorGDC, last.AlertStatus)

	rec, err := store.Get[*gdc.Record](context.Background(), f.store, store.KindGDC, key, gdc.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, gdc.StateSuspect, rec.State)
	_, pending := rec.Transition()
	assert.False(t, pending, "reported transitions are committed")

	inst, err := store.Get[*instability.Record](context.Background(), f.store, store.KindInstability, key, instability.RecordVersion)
	require.NoError(t, err)
	require.NotEmpty(t, inst.Restarts)
	assert.Equal(t, instability.SourceSmartException, inst.Restarts[len(inst.Restarts)-1].Source)

	assert.Contains(t, f.disp.kinds(), KindGDC)
	assert.Contains(t, f.eventTypes(t, key), history.EventGDCTransition)
}

func TestUnloggedTransitionIsReportedAgain(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	key := dataDisk.Key()
	ctx := context.Background()

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f.scan(t)

	diskDir := filepath.Join(f.eventsDir, key)
	require.NoError(t, os.RemoveAll(diskDir))
	require.NoError(t, os.WriteFile(diskDir, []byte("not a directory"), 0o600))

	acq.queue(dataDisk.Handle, failed(device.OutcomeNoPayload))
	var last Result
	for _i := 0; _i < 3; _i++ {
		last = f.scan(t)[dataDisk.Handle]
	}
	assert.Equal(t, gdc.StateSuspect, last.GDC)
	assert.Contains(t, f.disp.kinds(), KindGDC)

	rec, err := store.Get[*gdc.Record](ctx, f.store, store.KindGDC, key, gdc.RecordVersion)
	require.NoError(t, err)
	tr, pending := rec.Transition()
	require.True(t, pending, "a transition missing from the event log stays pending")
	assert.Equal(t, gdc.KindSuspected, tr.Kind)

	require.NoError(t, os.Remove(diskDir))
	f.scan(t)
	assert.Contains(t, f.eventTypes(t, key), history.EventGDCTransition)

	rec, err = store.Get[*gdc.Record](ctx, f.store, store.KindGDC, key, gdc.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, gdc.StateSuspect, rec.State)
	_, pending = rec.Transition()
	assert.False(t, pending)
}

func TestForceScanWaitsForRunningRead(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	acq.release = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.m.ScanOnce(context.Background())
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.m.ForceScan(context.Background(), "sdc")
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return acq.active(dataDisk.Handle) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, acq.active(dataDisk.Handle), "the second read waits for the first")

	close(acq.release)
	wg.Wait()

	acq.mu.Lock()
	defer acq.mu.Unlock()
	assert.Equal(t, 1, acq.maxInFlight[dataDisk.Handle])
	assert.Zero(t, acq.inFlight[dataDisk.Handle])
}

func TestForceScanLeavesGDCUntouched(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	key := dataDisk.Key()

	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0), failed(device.OutcomeCorrupt))
	f.scan(t)
	f.scan(t)
	f.scan(t)

	res, err := f.m.ForceScan(context.Background(), "sdc")
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, gdc.StateOK, res.GDC)

	rec, err := store.Get[*gdc.Record](context.Background(), f.store, store.KindGDC, key, gdc.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Counters.Failures())
	assert.False(t, rec.Frozen)

	after := f.scan(t)[dataDisk.Handle]
	assert.Equal(t, gdc.StateSuspect, after.GDC)
}

func TestTimeoutsAreOutcomesAndEscalate(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{TimeoutSchedule: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}})

	acq.queue(dataDisk.Handle, device.Reading{Detail: blockUntilDeadline})
	res := f.scan(t)[dataDisk.Handle]

	assert.Equal(t, device.OutcomeTimeout, res.Outcome)
	assert.Equal(t, ScanStateFailed, res.State)
	assert.Equal(t, 1, res.GDCCounters.Timeouts)

	key := f.m.identityFor(dataDisk.Handle).Key()
	assert.Equal(t, 20*time.Millisecond, f.m.timeouts.Next(key, f.clock.Now()))
}

func TestCancelledCycleLeavesNoRecords(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := f.m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.Get[*gdc.Record](context.Background(), f.store, store.KindGDC, dataDisk.Key(), gdc.RecordVersion)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckStuckReportsOnce(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	acq.release = make(chan struct{})
	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f := newFixture(t, acq, Config{TimeoutSchedule: []time.Duration{time.Minute}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.m.ScanOnce(context.Background())
	}()

	require.Eventually(t, func() bool {
		rs := f.m.Results()
		return len(rs) == 1 && rs[0].State == ScanStateScanning
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.m.CheckStuck(), "not stuck yet")
	f.clock.Advance(31 * time.Second)
	stuck := f.m.CheckStuck()
	require.Len(t, stuck, 1)
	assert.Equal(t, dataDisk.Handle, stuck[0].Identity.Handle)
	assert.Empty(t, f.m.CheckStuck())

	close(acq.release)
	<-done
	assert.Equal(t, ScanStateDone, f.m.Results()[0].State)
}

func TestLifecycleEvents(t *testing.T) {
	acq := newFakeAcquirer(usbDisk.Handle, dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	acq.queue(usbDisk.Handle, usb(healthy(usbDisk, t0, 0, 0)))
	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f.scan(t)

	acq.setDevices()
	f.scan(t)

	assert.Contains(t, f.eventTypes(t, usbDisk.Key()), history.EventUSBDisconnected)
	assert.Contains(t, f.eventTypes(t, dataDisk.Key()), history.EventDeviceRemoved)
	inst, err := store.Get[*instability.Record](context.Background(), f.store, store.KindInstability, usbDisk.Key(), instability.RecordVersion)
	require.NoError(t, err)
	assert.NotNil(t, inst.LastDisconnect)

	moved := usbDisk
	moved.Handle = "/dev/sdd"
	acq.setDevices(moved.Handle)
	acq.queue(moved.Handle, usb(healthy(moved, t0, 0, 0)))
	res := f.scan(t)[moved.Handle]
	assert.True(t, res.IsUSB)

	types := f.eventTypes(t, usbDisk.Key())
	assert.Contains(t, types, history.EventDeviceReconnected)
	assert.Contains(t, types, history.EventPathChanged)
}

func TestSystemEventIsRecordedPerDevice(t *testing.T) {
	f := newFixture(t, newFakeAcquirer(), Config{})
	f.m.HandleSystemEvent(instability.SystemEvent{
		ID:        "evt-1",
		Type:      instability.SystemEventUncontrolledShutdown,
		Timestamp: t0,
		Devices:   []string{dataDisk.Key(), usbDisk.Key()},
		Message:   "2 devices restarted together",
	})

	assert.Equal(t, []history.EventType{history.EventSystem}, f.eventTypes(t, dataDisk.Key()))
	assert.Equal(t, []history.EventType{history.EventSystem}, f.eventTypes(t, usbDisk.Key()))
	assert.Equal(t, []string{KindSystemEvent}, f.disp.kinds())
}

func TestNewRestoresCooldowns(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.Put(context.Background(), st, store.KindCooldown, cooldownKey, 1,
		guard.Cooldowns{Version: 1, Attempts: map[string]time.Time{dataDisk.Key(): now.Add(-time.Minute)}}))

	g := guard.New(fakeMounts{})
	_, err = New(Config{}, Deps{
		Acquirer: newFakeAcquirer(),
		Store:    st,
		Alerts:   alerts.NewEngine(alerts.DefaultConfig()),
		Executor: guard.NewExecutor(g, nopUnmounter{}, guard.ModePassive),
	})
	require.NoError(t, err)
	assert.Greater(t, g.CooldownRemaining(dataDisk), 25*time.Minute)
}

func TestStatusHandler(t *testing.T) {
	acq := newFakeAcquirer(dataDisk.Handle)
	f := newFixture(t, acq, Config{})
	acq.queue(dataDisk.Handle, healthy(dataDisk, t0, 0, 0))
	f.scan(t)
	h := f.m.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?device=sdc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, dataDisk.Key(), res.DiskID)
	assert.Equal(t, device.OutcomeSuccess, res.Outcome)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?device=sdz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan?device=sdc", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan?device=sdc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"forced": true`))
}
