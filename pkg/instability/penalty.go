// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package instability

import "time"

const (
	WindowShort  = 60 * time.Second
	WindowMedium = 5 * time.Minute
	WindowLong   = 24 * time.Hour

	LockShort   = 3
	LockMedium  = 5
	LockLong    = 10
	LockRelease = 30 * time.Minute

	// GracePeriod after first detection during which restarts are ignored.
	GracePeriod = 10 * time.Second

	reconnectWindow          = 60 * time.Second
	reconnectExceptionWindow = 30 * time.Second
	postDetectionWindowEnd   = 30 * time.Second

	transientSpamCount   = 5
	transientRepeatCount = 3

	jumpLoadCycles = 100

	TimeoutWindow      = 72 * time.Hour
	shortUptime        = 2 * time.Hour
	powerEventGrace    = 2 * time.Hour
	rebootDriftAllowed = 5 * time.Minute

	// improvementRate is the share of an improving penalty applied per scan.
	improvementRate = 0.1
)

// restartPenalty is indexed by FAULT restarts in the last 24h.
var restartPenalty = []int{0, 0, 0, 0, -5, -10, -15, -20, -25, -30, -40, -50, -55, -60, -65, -70, -100}

// timeoutPenalty is indexed by STABLE command-timeout increases in 72h.
var timeoutPenalty = []int{0, -1, -2, -3, -5, -7, -9, -12, -15, -18, -20}

func tableLookup(table []int, n int) int {
	if n >= len(table) {
		return table[len(table)-1]
	}
	return table[n]
}

// targetPenalty is the penalty the current windows call for, before the
// asymmetric update is applied.
func (r *Record) targetPenalty(now time.Time) int {
	p := tableLookup(restartPenalty, r.FaultRestarts24h(now)) +
		tableLookup(timeoutPenalty, r.countStableTimeouts(now))
	return max(-100, min(0, p))
}

// degrade applies a worsening target penalty and leaves an improving one
// for the next settle.
func (r *Record) degrade(now time.Time) {
	if target := r.targetPenalty(now); target < r.Score {
		r.Score = target
	}
}

// settle moves Score towards the target penalty. Degradation is immediate.
// Improvement is blocked while locked and otherwise limited to a tenth of
// the gap per call, at least one point, never past the target. It runs once
// per scan.
func (r *Record) settle(now time.Time) {
	target := r.targetPenalty(now)
	if target <= r.Score {
		r.Score = target
		return
	}
	if r.Locked {
		return
	}
	step := int(float64(target-r.Score) * improvementRate)
	if step == 0 {
		step = 1
	}
	r.Score = min(r.Score+step, target)
}
