// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

type fakeMounts map[string][]string

func (f fakeMounts) Mountpoints(_ context.Context, handle string) ([]string, error) {
	return f[handle], nil
}

type brokenMounts struct{}

func (brokenMounts) Mountpoints(context.Context, string) ([]string, error) {
	return nil, errors.New("no /proc")
}

type recordingUnmounter struct {
	calls []string
	err   error
}

func (r *recordingUnmounter) Unmount(_ context.Context, mp string) error {
	r.calls = append(r.calls, mp)
	return r.err
}

var (
	dataDisk = device.NewIdentity("ST4000DM004", "ZFN0ABC", "/dev/sdc")
	bootDisk = device.NewIdentity("Samsung SSD 870", "S6PN", "/dev/sda")
	idle     = device.NewIdentity("ST2000", "Z4Z", "/dev/sdd")
)

var mounts = fakeMounts{
	"/dev/sdc": {"/mnt/backup"},
	"/dev/sda": {"/boot/efi"},
}

func emergency() decision.Result {
	return decision.Result{Status: decision.StatusEmergency, CanEmergencyUnmount: true}
}

func newGuard(clock *time.Time) *Guard {
	return New(mounts, WithClock(func() time.Time { return *clock }))
}

func TestAuthorizeChain(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuard(&now)
	ctx := context.Background()

	v := g.Authorize(ctx, dataDisk, decision.Result{Status: decision.StatusCritical, CanEmergencyUnmount: true})
	assert.False(t, v.Allowed)
	assert.Equal(t, "Status is CRITICAL, not EMERGENCY", v.Reason)

	v = g.Authorize(ctx, dataDisk, decision.Result{Status: decision.StatusEmergency})
	assert.False(t, v.Allowed)

	v = g.Authorize(ctx, idle, emergency())
	assert.False(t, v.Allowed)
	assert.Equal(t, "Device is not mounted", v.Reason)

	v = g.Authorize(ctx, bootDisk, emergency())
	assert.False(t, v.Allowed)
	assert.Equal(t, "Critical system mountpoint: /boot/efi", v.Reason)

	v = g.Authorize(ctx, dataDisk, emergency())
	assert.True(t, v.Allowed)
	assert.Equal(t, []string{"/mnt/backup"}, v.Mountpoints)
}

func TestCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuard(&now)
	ctx := context.Background()

	g.RecordAttempt(dataDisk)
	now = now.Add(10 * time.Minute)
	v := g.Authorize(ctx, dataDisk, emergency())
	assert.False(t, v.Allowed)
	assert.Equal(t, "Cooldown active: 20 minutes remaining", v.Reason)

	now = now.Add(20 * time.Minute)
	assert.Zero(t, g.CooldownRemaining(dataDisk))
	assert.True(t, g.Authorize(ctx, dataDisk, emergency()).Allowed)
}

func TestCooldownsRestore(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuard(&now)
	g.RecordAttempt(dataDisk)

	other := newGuard(&now)
	other.Restore(g.Cooldowns())
	assert.Equal(t, 30*time.Minute, other.CooldownRemaining(dataDisk))
}

func TestMountTableFailureBlocks(t *testing.T) {
	g := New(brokenMounts{})
	v := g.Authorize(context.Background(), dataDisk, emergency())
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "no /proc")
}

func TestSystemDisk(t *testing.T) {
	g := New(mounts)
	ctx := context.Background()
	assert.True(t, g.SystemDisk(ctx, "/dev/sda"))
	assert.False(t, g.SystemDisk(ctx, "/dev/sdc"))
	assert.False(t, g.SystemDisk(ctx, "/dev/sdd"))
	assert.True(t, New(brokenMounts{}).SystemDisk(ctx, "/dev/sdc"))
}

func TestIsProtected(t *testing.T) {
	for mp, want := range map[string]bool{
		"/":           true,
		"/boot":       true,
		"/boot/efi":   true,
		"/var/lib/x":  true,
		"/home":       true,
		"/homework":   false,
		"/mnt/data":   false,
		"/srv/backup": false,
	} {
		assert.Equal(t, want, IsProtected(mp, DefaultProtectedPaths), mp)
	}
}

func TestRootOnlyProtectsItself(t *testing.T) {
	root := []string{"/"}
	assert.True(t, IsProtected("/", root))
	assert.True(t, IsProtected("//", root))
	assert.False(t, IsProtected("/mnt/data", root))
	assert.False(t, IsProtected("/media/usb", root))
	assert.True(t, IsProtected("/boot/efi/", []string{"/boot/"}))
}

func TestBelongsTo(t *testing.T) {
	assert.True(t, belongsTo("/dev/sdb", "/dev/sdb"))
	assert.True(t, belongsTo("/dev/sdb1", "/dev/sdb"))
	assert.True(t, belongsTo("/dev/nvme0n1p2", "/dev/nvme0n1"))
	assert.False(t, belongsTo("/dev/sdba", "/dev/sdb"))
	assert.False(t, belongsTo("/dev/sda1", "/dev/sdb"))
	assert.False(t, belongsTo("/dev/sdb1", ""))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeActive, ParseMode("active"))
	assert.Equal(t, ModeActive, ParseMode(" ACTIVE "))
	assert.Equal(t, ModePassive, ParseMode("PASSIVE"))
	assert.Equal(t, ModePassive, ParseMode(""))
	assert.Equal(t, ModePassive, ParseMode("actve"))
}

func TestExecutorPassiveNeverUnmounts(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &recordingUnmounter{}
	e := NewExecutor(newGuard(&now), u, ModePassive)

	act := e.Handle(context.Background(), dataDisk, emergency())
	assert.True(t, act.Verdict.Allowed)
	assert.False(t, act.Executed)
	assert.Empty(t, u.calls)
	assert.Equal(t, 30*time.Minute, e.Guard().CooldownRemaining(dataDisk))
}

func TestExecutorActive(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &recordingUnmounter{}
	e := NewExecutor(newGuard(&now), u, Mode("active"))
	require.Equal(t, ModeActive, e.Mode())

	act := e.Handle(context.Background(), dataDisk, emergency())
	assert.True(t, act.Executed)
	assert.Equal(t, []string{"/mnt/backup"}, u.calls)

	act = e.Handle(context.Background(), dataDisk, emergency())
	assert.False(t, act.Verdict.Allowed, "cooldown after success")
}

func TestExecutorFailedUnmountStartsCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &recordingUnmounter{err: errors.New("target is busy")}
	e := NewExecutor(newGuard(&now), u, ModeActive)

	act := e.Handle(context.Background(), dataDisk, emergency())
	assert.False(t, act.Executed)
	assert.Equal(t, "target is busy", act.Error)
	assert.Positive(t, e.Guard().CooldownRemaining(dataDisk))
}
