// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
)

var disk = device.NewIdentity("WDC WD40EFRX", "WD-123", "/dev/sdb")

func i64(v int64) *int64 { return &v }
func ip(v int) *int      { return &v }

func newEngine() *Engine {
	return NewEngine(DefaultConfig()).WithClock(func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func types(as []Alert) []Type {
	out := make([]Type, 0, len(as))
	for _, a := range as {
		out = append(out, a.Type)
	}
	return out
}

func TestMilestonesFireOnceEver(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	var fired []int64
	for _, v := range []int64{0, 3, 6, 4, 6, 12, 2, 12, 150, 50, 150} {
		for _, a := range e.Evaluate(rec, Input{Identity: disk, Reallocated: i64(v)}) {
			if a.Type == TypeReallocatedMilestone {
				fired = append(fired, a.NewValue.(int64))
			}
		}
	}
	assert.Equal(t, []int64{6, 12, 150}, fired)
	assert.ElementsMatch(t, []int64{5, 10, 100}, rec.AlertedReallocated)
}

func TestMilestoneJumpCrossesSeveral(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	as := e.Evaluate(rec, Input{Identity: disk, Pending: i64(60)})
	require.Len(t, as, 4)
	assert.Equal(t, SeverityWarning, as[0].Severity)
	assert.Equal(t, SeverityHigh, as[3].Severity)
	assert.Equal(t, "Pending sectors crossed 50 (60 sectors)", as[3].Message)

	as = e.Evaluate(rec, Input{Identity: disk, Reallocated: i64(1200)})
	require.Len(t, as, 4)
	assert.Equal(t, SeverityCritical, as[3].Severity)
}

func TestMilestonesSkippedForUSB(t *testing.T) {
	e := newEngine()
	rec := NewRecord()
	as := e.Evaluate(rec, Input{Identity: disk, Reallocated: i64(500), IsUSB: true})
	assert.Empty(t, as)
	assert.Empty(t, rec.AlertedReallocated)
}

func TestScoreChange(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Score: ip(95)}))

	as := e.Evaluate(rec, Input{Identity: disk, Score: ip(90)})
	require.Len(t, as, 1)
	assert.Equal(t, TypeScoreChange, as[0].Type)
	assert.Equal(t, SeverityWarning, as[0].Severity)
	assert.Equal(t, "Health score dropped by 5 points (95 → 90)", as[0].Message)

	as = e.Evaluate(rec, Input{Identity: disk, Score: ip(94)})
	require.Len(t, as, 1)
	assert.Equal(t, SeverityInfo, as[0].Severity)

	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Score: ip(89), IsUSB: true}), "USB threshold doubled")
}

func TestCriticalScoreOnlyOnTransition(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	e.Evaluate(rec, Input{Identity: disk, Score: ip(50)})
	as := e.Evaluate(rec, Input{Identity: disk, Score: ip(35)})
	assert.Equal(t, []Type{TypeScoreChange, TypeScoreCritical}, types(as))

	as = e.Evaluate(rec, Input{Identity: disk, Score: ip(34)})
	assert.Empty(t, as)

	usb := NewRecord()
	e.Evaluate(usb, Input{Identity: disk, Score: ip(50), IsUSB: true})
	as = e.Evaluate(usb, Input{Identity: disk, Score: ip(30), IsUSB: true})
	assert.Equal(t, []Type{TypeScoreChange}, types(as))
}

func TestTemperatureNeedsFullWindow(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	var got []Type
	for _, temp := range []int64{45, 52, 53, 54} {
		got = append(got, types(e.Evaluate(rec, Input{Identity: disk, Temperature: i64(temp)}))...)
	}
	assert.Empty(t, got, "one cool reading in the window")

	as := e.Evaluate(rec, Input{Identity: disk, Temperature: i64(55)})
	assert.Equal(t, []Type{TypeTemperatureWarning}, types(as))

	for _, temp := range []int64{61, 62, 63} {
		assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Temperature: i64(temp)}))
	}
	as = e.Evaluate(rec, Input{Identity: disk, Temperature: i64(64)})
	assert.Equal(t, []Type{TypeTemperatureCritical}, types(as), "critical supersedes warning")
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Temperature: i64(65)}))

	for _, temp := range []int64{40, 41, 42} {
		assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Temperature: i64(temp)}))
	}
	as = e.Evaluate(rec, Input{Identity: disk, Temperature: i64(43)})
	require.Equal(t, []Type{TypeTemperatureNormalized}, types(as))
	assert.Equal(t, "Temperature normalized: 43°C (was 42°C)", as[0].Message)
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Temperature: i64(44)}))
	assert.Len(t, rec.TemperatureHistory, 4)
}

func TestTemperatureCriticalAndNormalize(t *testing.T) {
	e := newEngine()
	rec := NewRecord()
	rec.TemperatureHistory = []int64{72, 71, 70}
	rec.LastTemperature = i64(65)

	as := e.Evaluate(rec, Input{Identity: disk, Temperature: i64(71), IsSSD: true})
	require.Equal(t, []Type{TypeTemperatureCritical}, types(as))
	assert.Contains(t, as[0].Message, "SSD")

	rec.TemperatureHistory = []int64{40, 40, 40}
	rec.LastTemperature = i64(62)
	assert.Equal(t, "critical", rec.TemperatureLevel)
	as = e.Evaluate(rec, Input{Identity: disk, Temperature: i64(41), IsSSD: true})
	assert.Equal(t, []Type{TypeTemperatureNormalized}, types(as))
}

func TestGhostAlertMirrorsTransition(t *testing.T) {
	e := newEngine()
	rec := NewRecord()

	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, GDC: gdc.StateOK}))
	as := e.Evaluate(rec, Input{Identity: disk, GDC: gdc.StateSuspect})
	assert.Equal(t, []Type{TypeGDCDetected}, types(as))
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, GDC: gdc.StateConfirmed}))

	e.Evaluate(rec, Input{Identity: disk, GDC: gdc.StateOK})
	assert.False(t, rec.GDCAlerted)
	as = e.Evaluate(rec, Input{Identity: disk, GDC: gdc.StateTerminal})
	assert.Equal(t, []Type{TypeGDCDetected}, types(as))

	fresh := NewRecord()
	assert.Empty(t, e.Evaluate(fresh, Input{Identity: disk, GDC: gdc.StateUnassessable}))
	assert.Empty(t, e.Evaluate(fresh, Input{Identity: disk, GDC: gdc.StateSuspect}))
}

func TestLifetimeOneShot(t *testing.T) {
	e := newEngine()
	rec := NewRecord()
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, LifetimeRemaining: i64(6)}))
	as := e.Evaluate(rec, Input{Identity: disk, LifetimeRemaining: i64(5)})
	assert.Equal(t, []Type{TypeLifetimeCritical}, types(as))
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, LifetimeRemaining: i64(2)}))
}

func TestAlertCarriesIdentity(t *testing.T) {
	e := newEngine()
	rec := NewRecord()
	as := e.Evaluate(rec, Input{Identity: disk, Pending: i64(1)})
	require.Len(t, as, 1)
	assert.Equal(t, "WDC_WD40EFRX_WD-123", as[0].DiskID)
	assert.NotEmpty(t, as[0].ID)
	assert.Equal(t, int64(0), as[0].OldValue)
}

func TestDisabledSectionsStillTrackState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MilestonesEnabled = false
	cfg.ScoreEnabled = false
	e := NewEngine(cfg)
	rec := NewRecord()

	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Score: ip(10), Reallocated: i64(20)}))
	assert.Equal(t, 10, *rec.LastScore)
	assert.Equal(t, int64(20), rec.LastReallocated)

	e.SetConfig(DefaultConfig())
	assert.Empty(t, e.Evaluate(rec, Input{Identity: disk, Score: ip(10), Reallocated: i64(20)}))
}

func TestStatusIndicator(t *testing.T) {
	e := newEngine()
	assert.Equal(t, IndicatorOK, e.Status(NewRecord(), Input{Score: ip(90)}))
	assert.Equal(t, IndicatorCritical, e.Status(nil, Input{Score: ip(30)}))
	assert.Equal(t, IndicatorWarning, e.Status(nil, Input{Temperature: i64(52)}))
	assert.Equal(t, IndicatorWarning, e.Status(nil, Input{Temperature: i64(62), IsSSD: true}))
	assert.Equal(t, IndicatorHigh, e.Status(nil, Input{Reallocated: i64(1500)}))
	assert.Equal(t, IndicatorGDC, e.Status(&Record{GDCAlerted: true}, Input{}))
}
