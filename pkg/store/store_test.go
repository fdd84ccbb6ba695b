// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
)

const key = "WDC_WD40EFRX_WD-123"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleGDC() *gdc.Record {
	r := gdc.NewRecord()
	r.Apply(device.OutcomeSuccess, t0)
	r.Apply(device.OutcomeTimeout, t0.Add(time.Minute))
	r.Apply(device.OutcomeCorrupt, t0.Add(2*time.Minute))
	r.Apply(device.OutcomeTimeout, t0.Add(3*time.Minute))
	return r
}

func sampleInstability() *instability.Record {
	now := t0
	tr := instability.NewTracker(instability.WithClock(func() time.Time { return now }))
	r := tr.NewRecord()
	now = now.Add(time.Minute)
	for i := 0; i < 4; i++ {
		tr.RegisterRestart(key, r, instability.Restart{Source: instability.SourcePowerCycleJump, Jump: 2})
		now = now.Add(5 * time.Second)
	}
	pc := int64(40)
	tr.RegisterSuccess(key, r, &pc, nil)
	return r
}

func sampleAlert() *alerts.Record {
	e := alerts.NewEngine(alerts.DefaultConfig())
	r := alerts.NewRecord()
	score, realloc, temp := 70, int64(12), int64(55)
	for i := 0; i < 4; i++ {
		e.Evaluate(r, alerts.Input{Score: &score, Reallocated: &realloc, Temperature: &temp, GDC: gdc.StateSuspect})
	}
	return r
}

func roundTrip(t *testing.T, s Store) {
	ctx := context.Background()

	g := sampleGDC()
	require.NoError(t, Put(ctx, s, KindGDC, key, gdc.RecordVersion, g))
	gotG, err := Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, g, gotG)
	assert.Equal(t, gdc.StateSuspect, gotG.State)

	in := sampleInstability()
	require.True(t, in.Locked)
	require.NoError(t, Put(ctx, s, KindInstability, key, instability.RecordVersion, in))
	gotI, err := Get[*instability.Record](ctx, s, KindInstability, key, instability.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, in.Score, gotI.Score)
	assert.Equal(t, in.Locked, gotI.Locked)
	assert.Len(t, gotI.Restarts, 4)
	assert.True(t, in.FirstSeen.Equal(gotI.FirstSeen))
	assert.Equal(t, *in.LastPowerCycles, *gotI.LastPowerCycles)

	a := sampleAlert()
	require.NoError(t, Put(ctx, s, KindAlert, key, alerts.RecordVersion, a))
	gotA, err := Get[*alerts.Record](ctx, s, KindAlert, key, alerts.RecordVersion)
	require.NoError(t, err)
	assert.Equal(t, a.AlertedReallocated, gotA.AlertedReallocated)
	assert.Equal(t, a.TemperatureHistory, gotA.TemperatureHistory)
	assert.Equal(t, a.GDCAlerted, gotA.GDCAlerted)
	assert.Equal(t, *a.LastScore, *gotA.LastScore)

	keys, err := s.Keys(ctx, KindGDC)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	_, err = Get[*gdc.Record](ctx, s, KindGDC, "missing", gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, KindGDC, key))
	_, err = Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	roundTrip(t, s)
}

func TestKVStoreRoundTrip(t *testing.T) {
	s, err := StartEmbeddedKVStore(t.TempDir(), "diskverdict_test")
	require.NoError(t, err)
	defer s.Close()
	roundTrip(t, s)
}

func TestCorruptAndVersionedRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gdc", key+".json"), []byte("{not json"), 0o600))
	_, err = Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrCorrupt)

	r, err := LoadOrDefault(ctx, s, KindGDC, key, gdc.RecordVersion, gdc.NewRecord)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, gdc.NewRecord(), r)

	require.NoError(t, Put(ctx, s, KindGDC, key, gdc.RecordVersion+1, gdc.NewRecord()))
	_, err = Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrVersion)

	extra := `{"version":1,"kind":"gdc","key":"k","saved_at":"2025-03-01T12:00:00Z","data":{"state":"OK","surprise":true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gdc", key+".json"), []byte(extra), 0o600))
	_, err = Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrCorrupt, "unknown fields are rejected")

	require.NoError(t, Put(ctx, s, KindAlert, key, alerts.RecordVersion, alerts.NewRecord()))
	raw, err := s.Load(ctx, KindAlert, key)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, KindGDC, key, raw))
	_, err = Get[*gdc.Record](ctx, s, KindGDC, key, gdc.RecordVersion)
	assert.ErrorIs(t, err, ErrCorrupt, "record of another kind")

	fresh, err := LoadOrDefault(ctx, s, KindInstability, "never-seen", instability.RecordVersion, func() *instability.Record {
		return instability.NewRecord(t0)
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, fresh.Score)
}

func TestEncodeKey(t *testing.T) {
	k := EncodeKey("Samsung SSD 870/EVO_S6PN")
	d, err := DecodeKey(k)
	require.NoError(t, err)
	assert.Equal(t, "Samsung SSD 870/EVO_S6PN", d)
	assert.NotContains(t, k, "/")
}
