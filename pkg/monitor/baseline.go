// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

const BaselineVersion = 1

// Baseline is what the previous successful scan saw. It feeds the decision
// engine's previous values across restarts and tracks the peak temperature.
type Baseline struct {
	Version           int        `json:"version"`
	Model             string     `json:"model"`
	Serial            string     `json:"serial"`
	Handle            string     `json:"handle"`
	IsUSB             bool       `json:"is_usb"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `json:"last_seen"`
	Reallocated       *int64     `json:"reallocated,omitempty"`
	Pending           *int64     `json:"pending,omitempty"`
	HealthScore       *int       `json:"health_score,omitempty"`
	PeakTemperature   *int64     `json:"peak_temperature,omitempty"`
	PeakTemperatureAt *time.Time `json:"peak_temperature_at,omitempty"`

	LastStatus *decision.Status `json:"last_status,omitempty"`
}

func NewBaseline() *Baseline {
	return &Baseline{Version: BaselineVersion}
}

// Known reports whether the device was ever scanned successfully.
func (b *Baseline) Known() bool {
	return !b.FirstSeen.IsZero()
}

// Update records a successful snapshot and its score.
func (b *Baseline) Update(s device.Snapshot, score int) {
	if b.FirstSeen.IsZero() {
		b.FirstSeen = s.Taken
	}
	b.LastSeen = s.Taken
	b.Model = s.Identity.Model
	b.Serial = s.Identity.Serial
	b.Handle = s.Identity.Handle
	b.IsUSB = s.IsUSB
	b.Reallocated = device.Valid(s.ReallocatedSectors)
	b.Pending = device.Valid(s.PendingSectors)
	b.HealthScore = &score

	if t := device.Valid(s.Temperature); t != nil && (b.PeakTemperature == nil || *t > *b.PeakTemperature) {
		v, at := *t, s.Taken
		b.PeakTemperature = &v
		b.PeakTemperatureAt = &at
	}
}
