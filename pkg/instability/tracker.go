// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package instability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	correlationWindow   = 30 * time.Second
	faultMarkRetention  = 60 * time.Second
	systemEventCooldown = 2 * time.Minute
	correlationMinDisks = 2
)

// SystemEventUncontrolledShutdown is the only host-wide event type emitted.
const SystemEventUncontrolledShutdown = "uncontrolled_shutdown"

// SystemEvent is a host-wide event inferred from near-simultaneous FAULT
// restarts on several devices.
type SystemEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Devices   []string  `json:"devices"`
	Message   string    `json:"message"`
	Note      string    `json:"note"`
}

type faultMark struct {
	device string
	at     time.Time
}

// Tracker applies restart and timeout signals to per-device records and
// correlates FAULT restarts across devices. Records are owned by the caller;
// the tracker only keeps the short-lived cross-device fault marks.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	host    HostClock
	onEvent func(SystemEvent)

	marks         []faultMark
	lastEvent     *SystemEvent
	cooldownUntil time.Time
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithHost replaces the gopsutil host clock.
func WithHost(h HostClock) Option {
	return func(t *Tracker) { t.host = h }
}

// WithSystemEventHandler is called, outside the tracker lock, for every
// detected host-wide event.
func WithSystemEventHandler(fn func(SystemEvent)) Option {
	return func(t *Tracker) { t.onEvent = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:  time.Now,
		host: SystemHost{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time {
	return t.now()
}

// NewRecord returns a fresh record anchored at the tracker's clock.
func (t *Tracker) NewRecord() *Record {
	return NewRecord(t.now())
}

// RegisterRestart classifies rs and applies it to rec. The second return
// value is false when the device is still inside its detection grace
// period and nothing was recorded.
func (t *Tracker) RegisterRestart(id string, rec *Record, rs Restart) (Category, bool) {
	now := t.now()
	rec.LastSeen = now
	if rec.inGrace(now) {
		log.Debug().Str("disk", id).Str("source", string(rs.Source)).Msg("restart_ignored_grace_period")
		return "", false
	}

	category := rec.classify(now, rs)
	rec.Restarts = append(rec.Restarts, RestartEvent{
		Timestamp: now,
		Reason:    rs.Reason,
		Source:    rs.Source,
		Category:  category,
	})

	if category == CategoryFault {
		if !rec.Locked && rec.shouldLock(now) {
			rec.Locked = true
			rec.LockedSince = &now
			log.Warn().Str("disk", id).Msg("instability_lock_activated")
		}
		t.markFault(id, now)
	}
	rec.degrade(now)

	log.Info().
		Str("disk", id).
		Str("source", string(rs.Source)).
		Str("category", string(category)).
		Int("score", rec.Score).
		Msg("restart_registered")
	return category, true
}

// RegisterSuccess is called after every successful read. Counter jumps since
// the previous read are registered as restarts, old events are pruned, a due
// lock is released and the score takes its one step of the scan.
// RegisterRestart and RegisterCommandTimeout only ever worsen the score.
func (t *Tracker) RegisterSuccess(id string, rec *Record, powerCycles, loadCycles *int64) {
	if powerCycles != nil {
		if rec.LastPowerCycles != nil && *powerCycles > *rec.LastPowerCycles {
			jump := *powerCycles - *rec.LastPowerCycles
			t.RegisterRestart(id, rec, Restart{
				Source: SourcePowerCycleJump,
				Reason: fmt.Sprintf("power cycle count +%d", jump),
				Jump:   jump,
			})
		}
		v := *powerCycles
		rec.LastPowerCycles = &v
	}
	if loadCycles != nil {
		if rec.LastLoadCycles != nil && *loadCycles-*rec.LastLoadCycles > jumpLoadCycles {
			jump := *loadCycles - *rec.LastLoadCycles
			t.RegisterRestart(id, rec, Restart{
				Source: SourceLoadCycleJump,
				Reason: fmt.Sprintf("load cycle count +%d", jump),
				Jump:   jump,
			})
		}
		v := *loadCycles
		rec.LastLoadCycles = &v
	}

	now := t.now()
	rec.LastSeen = now
	rec.prune(now)
	if rec.Locked && rec.shouldRelease(now) {
		rec.Locked = false
		rec.LockedSince = nil
		log.Info().Str("disk", id).Msg("instability_lock_released")
	}
	rec.settle(now)
}

// RegisterDisconnect remembers a tracked disconnect; a restart shortly after
// it may be classified TRANSIENT.
func (t *Tracker) RegisterDisconnect(id string, rec *Record) {
	now := t.now()
	rec.LastDisconnect = &now
	log.Debug().Str("disk", id).Msg("disconnect_registered")
}

// RegisterCommandTimeout records an increase of the command-timeout counter.
// The first value seen only initializes the baseline. It returns the
// category and whether an increase was recorded.
func (t *Tracker) RegisterCommandTimeout(id string, rec *Record, value *int64) (TimeoutCategory, bool) {
	if value == nil {
		return "", false
	}
	now := t.now()
	current := *value
	if rec.LastCommandTimeouts == nil {
		rec.LastCommandTimeouts = &current
		t.refreshBootTime(rec)
		return "", false
	}
	delta := current - *rec.LastCommandTimeouts
	rec.LastCommandTimeouts = &current
	if delta <= 0 {
		return "", false
	}

	rebooted := t.refreshBootTime(rec)
	var uptime *time.Duration
	if up, err := t.host.Uptime(); err == nil {
		uptime = &up
	} else {
		log.Debug().Err(err).Msg("host uptime unavailable")
	}
	var lastEvent *time.Time
	t.mu.Lock()
	if t.lastEvent != nil {
		ts := t.lastEvent.Timestamp
		lastEvent = &ts
	}
	t.mu.Unlock()

	category := classifyTimeout(now, rebooted, uptime, lastEvent)
	rec.CommandTimeouts = append(rec.CommandTimeouts, TimeoutEvent{
		Timestamp: now,
		Delta:     delta,
		Category:  category,
	})
	rec.prune(now)
	rec.degrade(now)

	log.Info().
		Str("disk", id).
		Int64("delta", delta).
		Str("category", string(category)).
		Int("score", rec.Score).
		Msg("command_timeout_registered")
	return category, true
}

// refreshBootTime stores the current host boot time and reports whether it
// moved further than clock drift explains.
func (t *Tracker) refreshBootTime(rec *Record) bool {
	boot, err := t.host.BootTime()
	if err != nil {
		log.Debug().Err(err).Msg("host boot time unavailable")
		return false
	}
	rebooted := false
	if rec.LastBootTime != nil {
		drift := boot.Sub(*rec.LastBootTime)
		if drift < 0 {
			drift = -drift
		}
		rebooted = drift > rebootDriftAllowed
	}
	rec.LastBootTime = &boot
	return rebooted
}

// LastSystemEvent returns the most recent host-wide event, if any.
func (t *Tracker) LastSystemEvent() (SystemEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastEvent == nil {
		return SystemEvent{}, false
	}
	return *t.lastEvent, true
}

func (t *Tracker) markFault(id string, now time.Time) {
	t.mu.Lock()
	cutoff := now.Add(-faultMarkRetention)
	kept := t.marks[:0]
	for _, m := range t.marks {
		if m.at.After(cutoff) {
			kept = append(kept, m)
		}
	}
	t.marks = append(kept, faultMark{device: id, at: now})

	if now.Before(t.cooldownUntil) {
		t.mu.Unlock()
		return
	}

	seen := map[string]struct{}{}
	for _, m := range t.marks {
		d := m.at.Sub(now)
		if d >= -correlationWindow && d <= correlationWindow {
			seen[m.device] = struct{}{}
		}
	}
	if len(seen) < correlationMinDisks {
		t.mu.Unlock()
		return
	}

	devices := make([]string, 0, len(seen))
	for d := range seen {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	ev := SystemEvent{
		ID:        uuid.NewString(),
		Type:      SystemEventUncontrolledShutdown,
		Timestamp: now,
		Devices:   devices,
		Message:   fmt.Sprintf("Uncontrolled shutdown detected: %d devices restarted within %s", len(devices), correlationWindow),
		Note:      "This does not affect the disk's mechanical health.",
	}
	t.lastEvent = &ev
	t.cooldownUntil = now.Add(systemEventCooldown)
	handler := t.onEvent
	t.mu.Unlock()

	log.Warn().Str("event_id", ev.ID).Strs("devices", devices).Msg("system_event_detected")
	if handler != nil {
		handler(ev)
	}
}
