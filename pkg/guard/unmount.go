// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

const unmountTimeout = 10 * time.Second

// Unmounter performs the actual unmount.
type Unmounter interface {
	Unmount(ctx context.Context, mountpoint string) error
}

// CommandUnmounter runs umount(8).
type CommandUnmounter struct{}

func (CommandUnmounter) Unmount(ctx context.Context, mountpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, unmountTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "umount", mountpoint).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("umount %s: timeout after %s", mountpoint, unmountTimeout)
		}
		return fmt.Errorf("umount %s: %w: %s", mountpoint, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Action records what Executor did for one device.
type Action struct {
	Verdict  Verdict `json:"verdict"`
	Mode     Mode    `json:"mode"`
	Executed bool    `json:"executed"`
	Error    string  `json:"error,omitempty"`
}

// Executor combines the guard with the configured safety mode.
type Executor struct {
	guard     *Guard
	unmounter Unmounter
	mode      atomic.Value
}

func NewExecutor(g *Guard, u Unmounter, mode Mode) *Executor {
	e := &Executor{guard: g, unmounter: u}
	e.SetMode(mode)
	return e
}

func (e *Executor) SetMode(m Mode) {
	e.mode.Store(ParseMode(string(m)))
}

func (e *Executor) Mode() Mode {
	return e.mode.Load().(Mode)
}

func (e *Executor) Guard() *Guard {
	return e.guard
}

// Handle authorizes and, in ACTIVE mode, unmounts every mountpoint of the
// device. The cooldown starts on every authorized attempt, including
// PASSIVE ones and failed unmounts.
func (e *Executor) Handle(ctx context.Context, id device.Identity, d decision.Result) Action {
	mode := e.Mode()
	v := e.guard.Authorize(ctx, id, d)
	act := Action{Verdict: v, Mode: mode}
	if !v.Allowed {
		if d.Status == decision.StatusEmergency {
			log.Warn().Str("disk", id.Key()).Str("reason", v.Reason).Msg("emergency_unmount_blocked")
		}
		return act
	}
	defer e.guard.RecordAttempt(id)

	if mode != ModeActive {
		log.Warn().
			Str("disk", id.Key()).
			Strs("mountpoints", v.Mountpoints).
			Strs("reasons", d.Reasons).
			Msg("emergency_unmount_passive: would unmount")
		return act
	}

	log.Warn().Str("disk", id.Key()).Strs("mountpoints", v.Mountpoints).Strs("reasons", d.Reasons).Msg("emergency_unmount_start")
	for _, mp := range v.Mountpoints {
		if err := e.unmounter.Unmount(ctx, mp); err != nil {
			act.Error = err.Error()
			log.Error().Err(err).Str("disk", id.Key()).Str("mountpoint", mp).Msg("emergency_unmount_failed")
			return act
		}
	}
	act.Executed = true
	log.Error().Str("disk", id.Key()).Msg("emergency_unmount_done: disk removed from system")
	return act
}
