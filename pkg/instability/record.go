// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package instability

import "time"

// RecordVersion is bumped whenever the persisted layout of Record changes.
const RecordVersion = 1

// Category classifies a restart-like signal.
type Category string

const (
	CategoryFault     Category = "FAULT"
	CategoryTransient Category = "TRANSIENT"
	CategoryExpected  Category = "EXPECTED"
)

// TimeoutCategory classifies an increase of the command-timeout counter.
type TimeoutCategory string

const (
	TimeoutStable TimeoutCategory = "STABLE"
	TimeoutPower  TimeoutCategory = "POWER"
)

// Source names where a restart signal came from. The acquisition side and
// this package share this vocabulary; renaming a source silently disables
// TRANSIENT escalation and the reconnect window.
type Source string

const (
	SourceUSBDisconnect   Source = "usb_disconnect"
	SourceUserInitiated   Source = "user_initiated"
	SourceShutdown        Source = "shutdown"
	SourceCableDisconnect Source = "cable_disconnect"
	SourcePowerCycleJump  Source = "power_cycle_jump"
	SourceLoadCycleJump   Source = "load_cycle_jump"
	SourceSmartException  Source = "smart_exception"
)

// Expected reports whether s is an explicit, never-penalized disconnect.
func (s Source) Expected() bool {
	switch s {
	case SourceUSBDisconnect, SourceUserInitiated, SourceShutdown, SourceCableDisconnect:
		return true
	}
	return false
}

// RestartEvent is one registered restart.
type RestartEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Source    Source    `json:"source"`
	Category  Category  `json:"category"`
}

// TimeoutEvent is one observed increase of the command-timeout counter.
type TimeoutEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Delta     int64           `json:"delta"`
	Category  TimeoutCategory `json:"category"`
}

// Record is the persisted instability state of one device.
type Record struct {
	Version        int        `json:"version"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	LastDisconnect *time.Time `json:"last_disconnect,omitempty"`

	Score       int        `json:"score"`
	Locked      bool       `json:"locked"`
	LockedSince *time.Time `json:"locked_since,omitempty"`

	Restarts        []RestartEvent `json:"restarts"`
	CommandTimeouts []TimeoutEvent `json:"command_timeouts"`

	LastPowerCycles     *int64     `json:"last_power_cycles,omitempty"`
	LastLoadCycles      *int64     `json:"last_load_cycles,omitempty"`
	LastCommandTimeouts *int64     `json:"last_command_timeouts,omitempty"`
	LastBootTime        *time.Time `json:"last_boot_time,omitempty"`
}

// NewRecord returns the record of a device first seen at now.
func NewRecord(now time.Time) *Record {
	return &Record{
		Version:         RecordVersion,
		FirstSeen:       now,
		LastSeen:        now,
		Restarts:        []RestartEvent{},
		CommandTimeouts: []TimeoutEvent{},
	}
}

// inGrace reports whether the device was first seen less than GracePeriod ago.
func (r *Record) inGrace(now time.Time) bool {
	return now.Sub(r.FirstSeen) < GracePeriod
}

// countRestarts counts events of category c newer than window.
func (r *Record) countRestarts(now time.Time, window time.Duration, c Category) int {
	cutoff := now.Add(-window)
	n := 0
	for _, e := range r.Restarts {
		if e.Timestamp.After(cutoff) && e.Category == c {
			n++
		}
	}
	return n
}

func (r *Record) countSourceRestarts(now time.Time, window time.Duration, c Category, s Source) int {
	cutoff := now.Add(-window)
	n := 0
	for _, e := range r.Restarts {
		if e.Timestamp.After(cutoff) && e.Category == c && e.Source == s {
			n++
		}
	}
	return n
}

func (r *Record) countStableTimeouts(now time.Time) int {
	cutoff := now.Add(-TimeoutWindow)
	n := 0
	for _, e := range r.CommandTimeouts {
		if e.Timestamp.After(cutoff) && e.Category == TimeoutStable {
			n++
		}
	}
	return n
}

// FaultRestarts24h is the number of FAULT restarts in the trailing day.
func (r *Record) FaultRestarts24h(now time.Time) int {
	return r.countRestarts(now, WindowLong, CategoryFault)
}

// prune drops restarts older than a day and timeout events older than the
// timeout window.
func (r *Record) prune(now time.Time) {
	cutoff := now.Add(-WindowLong)
	kept := r.Restarts[:0]
	for _, e := range r.Restarts {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.Restarts = kept

	cutoff = now.Add(-TimeoutWindow)
	keptTimeouts := r.CommandTimeouts[:0]
	for _, e := range r.CommandTimeouts {
		if e.Timestamp.After(cutoff) {
			keptTimeouts = append(keptTimeouts, e)
		}
	}
	r.CommandTimeouts = keptTimeouts
}

func (r *Record) shouldLock(now time.Time) bool {
	return r.countRestarts(now, WindowShort, CategoryFault) >= LockShort ||
		r.countRestarts(now, WindowMedium, CategoryFault) >= LockMedium ||
		r.countRestarts(now, WindowLong, CategoryFault) >= LockLong
}

// shouldRelease reports whether the last FAULT restart is at least
// LockRelease in the past.
func (r *Record) shouldRelease(now time.Time) bool {
	var last time.Time
	for _, e := range r.Restarts {
		if e.Category == CategoryFault && e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last.IsZero() || now.Sub(last) >= LockRelease
}

// Summary is a read-only view for status output.
type Summary struct {
	Score         int  `json:"score"`
	Locked        bool `json:"locked"`
	Restarts60s   int  `json:"restarts_60s"`
	Restarts5m    int  `json:"restarts_5m"`
	Restarts24h   int  `json:"restarts_24h"`
	StableTimeout int  `json:"stable_timeouts_72h"`
}

func (r *Record) Summary(now time.Time) Summary {
	return Summary{
		Score:         r.Score,
		Locked:        r.Locked,
		Restarts60s:   r.countRestarts(now, WindowShort, CategoryFault),
		Restarts5m:    r.countRestarts(now, WindowMedium, CategoryFault),
		Restarts24h:   r.countRestarts(now, WindowLong, CategoryFault),
		StableTimeout: r.countStableTimeouts(now),
	}
}
