// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
	"github.com/cobaltcore-dev/diskverdict/pkg/store"
)

func (m *Monitor) appendEvent(diskID string, ev history.Event) error {
	if m.events == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	err := m.events.Append(diskID, ev)
	if err != nil {
		log.Error().Err(err).Str("disk", diskID).Str("event_type", string(ev.Type)).Msg("event_append_failed")
	}
	return err
}

func (m *Monitor) dispatch(ev NatsEvent) {
	if m.dispatcher == nil {
		return
	}
	ev.NodeName = m.cfg.NodeName
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if err := m.dispatcher.Dispatch(ev); err != nil {
		log.Error().Err(err).Str("kind", ev.Kind).Msg("error_dispatching_event")
	}
}

// lifecycleEvents compares a scan with what was known about the device
// before it.
func (m *Monitor) lifecycleEvents(key string, id device.Identity, base *Baseline, success bool, now time.Time) []history.Event {
	var out []history.Event

	m.presenceMu.Lock()
	wasAbsent := m.absent[key]
	delete(m.absent, key)
	m.presenceMu.Unlock()

	if wasAbsent {
		out = append(out, history.Event{
			Timestamp: now,
			DiskID:    key,
			Type:      history.EventDeviceReconnected,
			Message:   fmt.Sprintf("%s is back at %s", id, id.Handle),
		})
	}
	if !success {
		return out
	}
	switch {
	case !base.Known():
		out = append(out, history.Event{
			Timestamp: now,
			DiskID:    key,
			Type:      history.EventDeviceAdded,
			Message:   fmt.Sprintf("new device %s at %s", id, id.Handle),
			Details:   map[string]any{"model": id.Model, "serial": id.Serial, "device": id.Handle},
		})
	case base.Handle != "" && base.Handle != id.Handle:
		out = append(out, history.Event{
			Timestamp: now,
			DiskID:    key,
			Type:      history.EventPathChanged,
			Message:   fmt.Sprintf("%s moved from %s to %s", id, base.Handle, id.Handle),
			Details:   map[string]any{"old_path": base.Handle, "new_path": id.Handle},
		})
	}
	return out
}

// trackPresence notes devices that were present in the previous cycle but
// are gone now. A vanished USB device counts as a disconnect.
func (m *Monitor) trackPresence(ctx context.Context, results []Result) {
	current := make(map[string]presence, len(results))
	for _, r := range results {
		current[r.DiskID] = presence{handle: r.Identity.Handle, usb: r.IsUSB}
	}

	m.presenceMu.Lock()
	previous := m.present
	m.present = current
	var gone []string
	for key := range previous {
		if _, ok := current[key]; !ok {
			gone = append(gone, key)
			m.absent[key] = true
		}
	}
	m.presenceMu.Unlock()

	if previous == nil {
		return
	}
	now := m.now()
	for _, key := range gone {
		p := previous[key]
		if p.usb {
			m.registerDisconnect(ctx, key)
			log.Warn().Str("disk", key).Str("device", p.handle).Msg("usb_device_disconnected")
			m.appendEvent(key, history.Event{
				Timestamp: now,
				DiskID:    key,
				Type:      history.EventUSBDisconnected,
				Message:   fmt.Sprintf("USB device at %s disconnected", p.handle),
				Details:   map[string]any{"device": p.handle},
			})
			continue
		}
		log.Warn().Str("disk", key).Str("device", p.handle).Msg("device_removed")
		m.appendEvent(key, history.Event{
			Timestamp: now,
			DiskID:    key,
			Type:      history.EventDeviceRemoved,
			Message:   fmt.Sprintf("device at %s is no longer listed", p.handle),
			Details:   map[string]any{"device": p.handle},
		})
	}
}

func (m *Monitor) registerDisconnect(ctx context.Context, key string) {
	mu := m.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	ctx = context.WithoutCancel(ctx)
	rec, _ := store.LoadOrDefault(ctx, m.store, store.KindInstability, key, instability.RecordVersion, m.tracker.NewRecord)
	m.tracker.RegisterDisconnect(key, rec)
	m.persist(ctx, key, store.KindInstability, instability.RecordVersion, rec)
}

// reportTransition logs and dispatches t. The error is the event log's.
func (m *Monitor) reportTransition(key string, id device.Identity, t gdc.Transition, now time.Time) error {
	severity := "info"
	switch {
	case t.To == gdc.StateConfirmed || t.To == gdc.StateTerminal:
		severity = "critical"
	case t.To == gdc.StateSuspect || t.To == gdc.StateUnassessable:
		severity = "warning"
	}
	log.Warn().Str("disk", key).Str("from", t.From.String()).Str("to", t.To.String()).Str("kind", t.Kind).Msg("gdc_transition")
	err := m.appendEvent(key, history.Event{
		Timestamp: now,
		DiskID:    key,
		Type:      history.EventGDCTransition,
		Message:   t.Message,
		Details:   map[string]any{"from": t.From.String(), "to": t.To.String(), "kind": t.Kind},
	})
	m.dispatch(NatsEvent{
		Kind:      KindGDC,
		DiskID:    key,
		Device:    id.Handle,
		Severity:  severity,
		Message:   t.Message,
		Timestamp: now,
		Payload:   t,
	})
	return err
}

func (m *Monitor) reportGuard(key string, id device.Identity, act guard.Action, now time.Time) {
	msg := fmt.Sprintf("emergency unmount of %s %s: %s", id.Handle, verdictWord(act), act.Verdict.Reason)
	if act.Error != "" {
		msg += ": " + act.Error
	}
	log.Warn().Str("disk", key).Str("mode", string(act.Mode)).Bool("allowed", act.Verdict.Allowed).
		Bool("executed", act.Executed).Str("reason", act.Verdict.Reason).Msg("emergency_guard")
	m.appendEvent(key, history.Event{
		Timestamp: now,
		DiskID:    key,
		Type:      history.EventGuard,
		Message:   msg,
		Details: map[string]any{
			"mode":        string(act.Mode),
			"allowed":     act.Verdict.Allowed,
			"executed":    act.Executed,
			"mountpoints": act.Verdict.Mountpoints,
		},
	})
	m.dispatch(NatsEvent{
		Kind:      KindGuard,
		DiskID:    key,
		Device:    id.Handle,
		Severity:  "critical",
		Message:   msg,
		Timestamp: now,
		Payload:   act,
	})
}

func verdictWord(act guard.Action) string {
	switch {
	case act.Executed && act.Error == "":
		return "executed"
	case act.Executed:
		return "failed"
	case act.Verdict.Allowed:
		return "authorized"
	default:
		return "blocked"
	}
}

func (m *Monitor) reportDecision(key string, id device.Identity, d decision.Result, now time.Time) {
	m.dispatch(NatsEvent{
		Kind:      KindDecision,
		DiskID:    key,
		Device:    id.Handle,
		Severity:  strings.ToLower(d.Status.String()),
		Message:   strings.Join(d.Reasons, "; "),
		Timestamp: now,
		Payload:   d,
	})
}

func (m *Monitor) reportAlerts(ctx context.Context, as []alerts.Alert) {
	for _, a := range as {
		log.Warn().Str("disk", a.DiskID).Str("alert_type", string(a.Type)).Str("severity", string(a.Severity)).
			Str("message", a.Message).Msg("alert_raised")
		if m.alertLog != nil {
			if err := m.alertLog.Insert(ctx, m.cfg.NodeName, a); err != nil {
				log.Error().Err(err).Str("disk", a.DiskID).Msg("alert_log_insert_failed")
			}
		}
		m.appendEvent(a.DiskID, history.Event{
			Timestamp: a.Timestamp,
			DiskID:    a.DiskID,
			Type:      history.EventAlert,
			Message:   a.Message,
			Details:   map[string]any{"alert_type": string(a.Type), "severity": string(a.Severity), "metric": a.Metric},
		})
		m.dispatch(NatsEvent{
			Kind:      KindAlert,
			DiskID:    a.DiskID,
			Device:    a.Identity.Handle,
			Severity:  string(a.Severity),
			Message:   a.Message,
			Timestamp: a.Timestamp,
			Payload:   a,
		})
	}
}

func scanEvent(r Result, now time.Time) history.Event {
	details := map[string]any{
		"device":      r.Identity.Handle,
		"outcome":     r.Outcome.String(),
		"gdc_state":   r.GDC.String(),
		"instability": r.Instability.Score,
		"forced":      r.Forced,
	}
	msg := fmt.Sprintf("read %s", r.Outcome)
	if r.Health != nil && r.Decision != nil {
		details["health_score"] = r.Health.Total
		details["status"] = r.Decision.Status.String()
		msg = fmt.Sprintf("score %d, %s", r.Health.Total, r.Decision.Status)
	}
	if r.Snapshot != nil && r.Snapshot.Temperature != nil {
		details["temperature"] = *r.Snapshot.Temperature
	}
	return history.Event{
		Timestamp: now,
		DiskID:    r.DiskID,
		Type:      history.EventScan,
		Message:   msg,
		Details:   details,
	}
}

// HandleSystemEvent records a host-wide event on every device involved.
func (m *Monitor) HandleSystemEvent(ev instability.SystemEvent) {
	log.Error().Str("event_id", ev.ID).Str("type", ev.Type).Strs("devices", ev.Devices).Msg("system_event_detected")
	if m.events != nil {
		m.events.AppendAll(ev.Devices, history.Event{
			Timestamp: ev.Timestamp,
			Type:      history.EventSystem,
			Message:   ev.Message,
			Details:   map[string]any{"event_id": ev.ID, "type": ev.Type, "devices": ev.Devices, "note": ev.Note},
		})
	}
	m.dispatch(NatsEvent{
		Kind:      KindSystemEvent,
		Severity:  "critical",
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
		Payload:   ev,
	})
}

func (m *Monitor) watchdog(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckStuck()
		}
	}
}

// CheckStuck reports scans running longer than StuckAfter. Each stuck scan
// is reported once.
func (m *Monitor) CheckStuck() []Result {
	now := m.now()
	var stuck []Result
	m.resultsMu.Lock()
	for _, r := range m.results {
		if r.State != ScanStateScanning || r.stuckReported || now.Sub(r.Started) <= m.cfg.StuckAfter {
			continue
		}
		r.stuckReported = true
		stuck = append(stuck, *r)
	}
	m.resultsMu.Unlock()

	for _, r := range stuck {
		id := m.identityFor(r.Identity.Handle)
		key := id.Key()
		elapsed := now.Sub(r.Started).Round(time.Second)
		log.Error().Str("device", r.Identity.Handle).Dur("elapsed", elapsed).Msg("device_scan_stuck")
		if m.cfg.Prometheus {
			stuckScansCounter.WithLabelValues(r.Identity.Handle, m.cfg.NodeName).Inc()
		}
		m.appendEvent(key, history.Event{
			Timestamp: now,
			DiskID:    key,
			Type:      history.EventDeviceStuck,
			Message:   fmt.Sprintf("scan of %s running for %s", r.Identity.Handle, elapsed),
			Details:   map[string]any{"device": r.Identity.Handle, "elapsed_seconds": int(elapsed.Seconds())},
		})
	}
	return stuck
}
