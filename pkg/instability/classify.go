// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package instability

import "time"

// Restart describes a restart-like signal. Jump is the counter increase
// behind jump-detected restarts, zero otherwise.
type Restart struct {
	Source Source
	Reason string
	Jump   int64
}

// escalate reports whether recent TRANSIENT events form a pattern that
// should be treated as a fault: spam within a minute, or the same source
// repeating within five minutes.
func (r *Record) escalate(now time.Time, s Source) bool {
	if r.countRestarts(now, WindowShort, CategoryTransient) >= transientSpamCount {
		return true
	}
	return r.countSourceRestarts(now, WindowMedium, CategoryTransient, s) >= transientRepeatCount
}

func (r *Record) classify(now time.Time, rs Restart) Category {
	if rs.Source.Expected() {
		return CategoryExpected
	}
	if r.escalate(now, rs.Source) {
		return CategoryFault
	}

	if r.LastDisconnect != nil {
		gap := now.Sub(*r.LastDisconnect)
		if gap < reconnectWindow {
			if rs.Source == SourcePowerCycleJump && rs.Jump == 1 {
				return CategoryTransient
			}
			if rs.Source == SourceSmartException && gap < reconnectExceptionWindow {
				return CategoryTransient
			}
		}
	}

	if rs.Source == SourceSmartException {
		sinceFirst := now.Sub(r.FirstSeen)
		if sinceFirst > GracePeriod && sinceFirst < postDetectionWindowEnd {
			return CategoryTransient
		}
	}
	return CategoryFault
}

// classifyTimeout decides whether a command-timeout increase is explained
// by a reboot or power event.
func classifyTimeout(now time.Time, rebooted bool, uptime *time.Duration, systemEvent *time.Time) TimeoutCategory {
	switch {
	case rebooted:
		return TimeoutPower
	case uptime != nil && *uptime < shortUptime:
		return TimeoutPower
	case systemEvent != nil && now.Sub(*systemEvent) < powerEventGrace:
		return TimeoutPower
	}
	return TimeoutStable
}
