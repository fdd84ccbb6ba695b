// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"fmt"
	"maps"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

const DefaultCooldown = 30 * time.Minute

// DefaultProtectedPaths are never unmounted, nor is anything below them.
var DefaultProtectedPaths = []string{"/", "/boot", "/home", "/usr", "/var"}

// Verdict is the outcome of the authorization chain.
type Verdict struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason"`
	Mountpoints []string `json:"mountpoints,omitempty"`
}

// Cooldowns is the persisted book of unmount attempts per identity key.
type Cooldowns struct {
	Version  int                  `json:"version"`
	Attempts map[string]time.Time `json:"attempts"`
}

// Guard decides whether an emergency unmount may proceed. The only I/O it
// performs is reading the mount table.
type Guard struct {
	mounts    MountTable
	cooldown  time.Duration
	protected []string
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]time.Time
}

type Option func(*Guard)

func WithCooldown(d time.Duration) Option {
	return func(g *Guard) { g.cooldown = d }
}

func WithProtectedPaths(paths []string) Option {
	return func(g *Guard) {
		if len(paths) > 0 {
			g.protected = paths
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func New(mounts MountTable, opts ...Option) *Guard {
	g := &Guard{
		mounts:    mounts,
		cooldown:  DefaultCooldown,
		protected: DefaultProtectedPaths,
		now:       time.Now,
		attempts:  map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize runs the checks in order and stops at the first that fails.
func (g *Guard) Authorize(ctx context.Context, id device.Identity, d decision.Result) Verdict {
	if d.Status != decision.StatusEmergency {
		return Verdict{Reason: fmt.Sprintf("Status is %s, not EMERGENCY", d.Status)}
	}
	if !d.CanEmergencyUnmount {
		return Verdict{Reason: "can_emergency_unmount is false"}
	}
	if left := g.CooldownRemaining(id); left > 0 {
		return Verdict{Reason: fmt.Sprintf("Cooldown active: %d minutes remaining", int(left.Minutes()))}
	}

	mps, err := g.mounts.Mountpoints(ctx, id.Handle)
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("Mount table unavailable: %v", err)}
	}
	if len(mps) == 0 {
		return Verdict{Reason: "Device is not mounted"}
	}
	for _, mp := range mps {
		if IsProtected(mp, g.protected) {
			return Verdict{Reason: fmt.Sprintf("Critical system mountpoint: %s", mp), Mountpoints: mps}
		}
	}
	return Verdict{
		Allowed:     true,
		Reason:      fmt.Sprintf("All checks passed - mountpoint: %s", strings.Join(mps, ", ")),
		Mountpoints: mps,
	}
}

// IsProtected reports whether mp equals or lies below one of protected. The
// root path only protects itself.
func IsProtected(mp string, protected []string) bool {
	mp = path.Clean(mp)
	for _, p := range protected {
		p = path.Clean(p)
		if mp == p {
			return true
		}
		if p == "/" {
			continue
		}
		if strings.HasPrefix(mp, p+"/") {
			return true
		}
	}
	return false
}

// SystemDisk reports whether any mountpoint of the device is protected. A
// mount table error counts as a system disk.
func (g *Guard) SystemDisk(ctx context.Context, handle string) bool {
	mps, err := g.mounts.Mountpoints(ctx, handle)
	if err != nil {
		return true
	}
	for _, mp := range mps {
		if IsProtected(mp, g.protected) {
			return true
		}
	}
	return false
}

// RecordAttempt starts the cooldown of id, whatever the attempt's result.
func (g *Guard) RecordAttempt(id device.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts[id.Key()] = g.now()
}

// CooldownRemaining is zero when no attempt is recent enough.
func (g *Guard) CooldownRemaining(id device.Identity) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.attempts[id.Key()]
	if !ok {
		return 0
	}
	left := g.cooldown - g.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

func (g *Guard) Cooldowns() Cooldowns {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Cooldowns{Version: 1, Attempts: maps.Clone(g.attempts)}
}

// Restore replaces the attempt book, typically with a persisted one.
func (g *Guard) Restore(c Cooldowns) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = map[string]time.Time{}
	maps.Copy(g.attempts, c.Attempts)
}
