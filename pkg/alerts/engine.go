// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
)

const (
	usbCriticalScore     = 20
	lifetimeCriticalPct  = 5
	reallocatedCritical  = 1000
	pendingHighMilestone = 10
)

type TemperatureThresholds struct {
	Warning  int64
	Critical int64
}

type Config struct {
	ScoreEnabled         bool
	ScoreChangeThreshold int
	CriticalScore        int

	MilestonesEnabled     bool
	ReallocatedMilestones []int64
	PendingMilestones     []int64

	TemperatureEnabled  bool
	TemperatureReadings int
	SSD                 TemperatureThresholds
	HDD                 TemperatureThresholds
	AlertOnNormalize    bool

	GDCEnabled bool
}

func DefaultConfig() Config {
	return Config{
		ScoreEnabled:          true,
		ScoreChangeThreshold:  3,
		CriticalScore:         40,
		MilestonesEnabled:     true,
		ReallocatedMilestones: []int64{5, 10, 100, 1000, 10000},
		PendingMilestones:     []int64{1, 5, 10, 50, 100},
		TemperatureEnabled:    true,
		TemperatureReadings:   4,
		SSD:                   TemperatureThresholds{Warning: 60, Critical: 70},
		HDD:                   TemperatureThresholds{Warning: 50, Critical: 60},
		AlertOnNormalize:      true,
		GDCEnabled:            true,
	}
}

// Input is what one scan contributes to alert evaluation.
type Input struct {
	Identity          device.Identity
	Score             *int
	Reallocated       *int64
	Pending           *int64
	Temperature       *int64
	LifetimeRemaining *int64
	IsSSD             bool
	IsUSB             bool
	GDC               gdc.State
}

// Engine turns changes of a device's last known values into alerts. The
// configuration can be swapped while scans are running.
type Engine struct {
	cfg atomic.Pointer[Config]
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{now: time.Now}
	e.SetConfig(cfg)
	return e
}

// WithClock replaces time.Now and returns e.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) SetConfig(cfg Config) {
	e.cfg.Store(&cfg)
}

func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// Evaluate updates rec with the values in in and returns the alerts that
// fired. rec is mutated in place; persisting it is the caller's job.
func (e *Engine) Evaluate(rec *Record, in Input) []Alert {
	cfg := e.Config()
	now := e.now()
	ev := &evaluation{cfg: cfg, rec: rec, in: in, now: now, disk: in.Identity.Key()}

	ev.score()
	// Reallocated and pending counts read through USB bridges are unreliable.
	if !in.IsUSB {
		ev.milestones()
	}
	ev.temperature()
	ev.ghost()
	ev.lifetime()

	rec.Version = RecordVersion
	rec.LastUpdate = &now
	for _, a := range ev.out {
		log.Info().
			Str("disk", a.DiskID).
			Str("alert_type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Msg(a.Message)
	}
	return ev.out
}

type evaluation struct {
	cfg  Config
	rec  *Record
	in   Input
	now  time.Time
	disk string
	out  []Alert
}

func (ev *evaluation) emit(t Type, sev Severity, metric string, oldValue, newValue any, msg string) {
	ev.out = append(ev.out, Alert{
		ID:        uuid.NewString(),
		Timestamp: ev.now,
		DiskID:    ev.disk,
		Identity:  ev.in.Identity,
		Type:      t,
		Severity:  sev,
		Metric:    metric,
		OldValue:  oldValue,
		NewValue:  newValue,
		Message:   msg,
	})
}

func (ev *evaluation) score() {
	cur := ev.in.Score
	if cur == nil {
		return
	}
	last := ev.rec.LastScore
	defer func() {
		v := *cur
		ev.rec.LastScore = &v
	}()
	if !ev.cfg.ScoreEnabled {
		return
	}

	threshold := ev.cfg.ScoreChangeThreshold
	if ev.in.IsUSB {
		threshold *= 2
	}
	if last != nil {
		change := *cur - *last
		if change < 0 {
			change = -change
		}
		if change >= threshold {
			direction, sev := "increased", SeverityInfo
			if *cur < *last {
				direction, sev = "dropped", SeverityWarning
			}
			note := ""
			if ev.in.IsUSB {
				note = " [USB - may be connection-related]"
			}
			ev.emit(TypeScoreChange, sev, "health_score", *last, *cur,
				fmt.Sprintf("Health score %s by %d points (%d → %d)%s", direction, change, *last, *cur, note))
		}
	}

	if *cur < ev.cfg.CriticalScore && (last == nil || *last >= ev.cfg.CriticalScore) {
		if !ev.in.IsUSB || *cur < usbCriticalScore {
			var old any
			if last != nil {
				old = *last
			}
			ev.emit(TypeScoreCritical, SeverityCritical, "health_score", old, *cur,
				fmt.Sprintf("Health score critically low: %d (threshold: %d)", *cur, ev.cfg.CriticalScore))
		}
	}
}

func (ev *evaluation) milestones() {
	if cur := ev.in.Reallocated; cur != nil {
		for _, m := range ev.cfg.ReallocatedMilestones {
			if *cur >= m && ev.rec.LastReallocated < m && !alerted(ev.rec.AlertedReallocated, m) {
				ev.rec.AlertedReallocated = append(ev.rec.AlertedReallocated, m)
				if !ev.cfg.MilestonesEnabled {
					continue
				}
				sev := SeverityHigh
				if m >= reallocatedCritical {
					sev = SeverityCritical
				}
				ev.emit(TypeReallocatedMilestone, sev, "reallocated_sectors", ev.rec.LastReallocated, *cur,
					fmt.Sprintf("Reallocated sectors crossed %d (%d sectors)", m, *cur))
			}
		}
		ev.rec.LastReallocated = *cur
	}

	if cur := ev.in.Pending; cur != nil {
		for _, m := range ev.cfg.PendingMilestones {
			if *cur >= m && ev.rec.LastPending < m && !alerted(ev.rec.AlertedPending, m) {
				ev.rec.AlertedPending = append(ev.rec.AlertedPending, m)
				if !ev.cfg.MilestonesEnabled {
					continue
				}
				sev := SeverityWarning
				if m >= pendingHighMilestone {
					sev = SeverityHigh
				}
				ev.emit(TypePendingMilestone, sev, "pending_sectors", ev.rec.LastPending, *cur,
					fmt.Sprintf("Pending sectors crossed %d (%d sectors)", m, *cur))
			}
		}
		ev.rec.LastPending = *cur
	}
}

func allReadings(history []int64, pred func(int64) bool) bool {
	for _, t := range history {
		if !pred(t) {
			return false
		}
	}
	return true
}

func (ev *evaluation) temperature() {
	cur := ev.in.Temperature
	if cur == nil {
		return
	}
	window := max(1, ev.cfg.TemperatureReadings)
	ev.rec.pushTemperature(*cur, window)

	prev := ev.rec.LastTemperature
	defer func() {
		v := *cur
		ev.rec.LastTemperature = &v
	}()
	if len(ev.rec.TemperatureHistory) < window {
		return
	}

	th, kind := ev.cfg.HDD, "hdd"
	if ev.in.IsSSD {
		th, kind = ev.cfg.SSD, "ssd"
	}
	hist := ev.rec.TemperatureHistory
	var old any
	if prev != nil {
		old = *prev
	}
	level := ev.rec.TemperatureLevel
	enabled := ev.cfg.TemperatureEnabled

	// A mixed window leaves the level untouched.
	switch {
	case allReadings(hist, func(t int64) bool { return t >= th.Critical }):
		if level != levelCritical && enabled {
			ev.emit(TypeTemperatureCritical, SeverityCritical, "temperature", old, *cur,
				fmt.Sprintf("Temperature critically high: %d°C (threshold: %d°C, %s)", *cur, th.Critical, strings.ToUpper(kind)))
		}
		ev.rec.TemperatureLevel = levelCritical
	case allReadings(hist, func(t int64) bool { return t >= th.Warning }):
		if level != levelWarning && level != levelCritical && enabled {
			ev.emit(TypeTemperatureWarning, SeverityWarning, "temperature", old, *cur,
				fmt.Sprintf("Temperature elevated: %d°C (threshold: %d°C, %s)", *cur, th.Warning, strings.ToUpper(kind)))
		}
		ev.rec.TemperatureLevel = levelWarning
	case allReadings(hist, func(t int64) bool { return t < th.Warning }):
		if (level == levelWarning || level == levelCritical) && enabled && ev.cfg.AlertOnNormalize {
			was := "unknown"
			if prev != nil {
				was = fmt.Sprintf("%d°C", *prev)
			}
			ev.emit(TypeTemperatureNormalized, SeverityInfo, "temperature", old, *cur,
				fmt.Sprintf("Temperature normalized: %d°C (was %s)", *cur, was))
		}
		ev.rec.TemperatureLevel = levelNormal
	}
}

// ghost mirrors the OK to failing transition of the GDC machine once and
// re-arms when it recovers.
func (ev *evaluation) ghost() {
	var status string
	switch {
	case ev.in.GDC == gdc.StateOK:
		status = smartStatusOK
	case ev.in.GDC.Failing():
		status = smartStatusFailed
	default:
		status = smartStatusUnassessable
	}

	switch {
	case ev.rec.LastSmartStatus == smartStatusOK && status == smartStatusFailed:
		if !ev.rec.GDCAlerted {
			ev.rec.GDCAlerted = true
			if ev.cfg.GDCEnabled {
				ev.emit(TypeGDCDetected, SeverityCritical, "smart_status", smartStatusOK, smartStatusFailed,
					fmt.Sprintf("Ghost Drive Condition detected (%s) - disk previously delivered SMART but now fails consistently", ev.in.GDC))
			}
		}
	case status == smartStatusOK && ev.rec.GDCAlerted:
		ev.rec.GDCAlerted = false
	}
	ev.rec.LastSmartStatus = status
}

func (ev *evaluation) lifetime() {
	cur := ev.in.LifetimeRemaining
	if cur == nil || *cur > lifetimeCriticalPct || ev.rec.LifetimeAlerted {
		return
	}
	ev.rec.LifetimeAlerted = true
	ev.emit(TypeLifetimeCritical, SeverityCritical, "lifetime_remaining", nil, *cur,
		fmt.Sprintf("Lifetime remaining critically low: %d%%", *cur))
}

// Indicator is the summary shown next to a device in status output.
type Indicator string

const (
	IndicatorOK       Indicator = "ok"
	IndicatorWarning  Indicator = "warning"
	IndicatorHigh     Indicator = "high"
	IndicatorCritical Indicator = "critical"
	IndicatorGDC      Indicator = "gdc"
)

// Status derives the display indicator of a device from its record and the
// latest values.
func (e *Engine) Status(rec *Record, in Input) Indicator {
	cfg := e.Config()
	if rec != nil && rec.GDCAlerted {
		return IndicatorGDC
	}
	if in.Score != nil && *in.Score < cfg.CriticalScore {
		return IndicatorCritical
	}
	if in.Temperature != nil {
		th := cfg.HDD
		if in.IsSSD {
			th = cfg.SSD
		}
		switch {
		case *in.Temperature >= th.Critical:
			return IndicatorCritical
		case *in.Temperature >= th.Warning:
			return IndicatorWarning
		}
	}
	if in.Reallocated != nil {
		switch {
		case *in.Reallocated >= reallocatedCritical:
			return IndicatorHigh
		case *in.Reallocated >= 10:
			return IndicatorWarning
		}
	}
	return IndicatorOK
}
