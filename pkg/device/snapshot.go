// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package device

import "time"

// SentinelValue is reported by some bridges and firmwares for attributes
// they cannot read. Values at or above it are treated as absent.
const SentinelValue int64 = 4294967295

// Snapshot is one scan's worth of diagnostic attributes for a device.
// A nil pointer means the attribute was not reported, which is distinct
// from a reported zero.
type Snapshot struct {
	Identity Identity  `json:"identity"`
	Taken    time.Time `json:"taken"`

	ReallocatedSectors  *int64 `json:"reallocated_sectors,omitempty"`
	PendingSectors      *int64 `json:"pending_sectors,omitempty"`
	UncorrectableErrors *int64 `json:"uncorrectable_errors,omitempty"`
	CommandTimeouts     *int64 `json:"command_timeouts,omitempty"`
	Temperature         *int64 `json:"temperature,omitempty"`
	PowerOnHours        *int64 `json:"power_on_hours,omitempty"`
	PowerCycles         *int64 `json:"power_cycles,omitempty"`
	LoadCycles          *int64 `json:"load_cycles,omitempty"` // secondary wear indicator, used for jump detection
	BytesWritten        *int64 `json:"bytes_written,omitempty"`
	CapacityBytes       *int64 `json:"capacity_bytes,omitempty"`
	LifetimeRemaining   *int64 `json:"lifetime_remaining,omitempty"` // percent

	IsSSD        bool  `json:"is_ssd"`
	IsUSB        bool  `json:"is_usb"`
	Responsive   bool  `json:"responsive"`
	HasSmartData bool  `json:"has_smart_data"`
	SmartPassed  *bool `json:"smart_passed,omitempty"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// Valid drops negative and sentinel readings.
func Valid(v *int64) *int64 {
	if v == nil || *v < 0 || *v >= SentinelValue {
		return nil
	}
	return v
}

// Quantity drops negative byte quantities. Capacities and write totals
// routinely exceed the 32-bit sentinel, so it does not apply to them.
func Quantity(v *int64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

// Value returns the attribute value or def when it is absent.
func Value(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}

// LimitedSmart reports whether the device answered but exposes neither of the
// sector counters the decision engine relies on.
func (s Snapshot) LimitedSmart() bool {
	return s.HasSmartData && s.ReallocatedSectors == nil && s.PendingSectors == nil
}
