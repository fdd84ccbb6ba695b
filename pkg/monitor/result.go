// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/decision"
	"github.com/cobaltcore-dev/diskverdict/pkg/device"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/health"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
)

type ScanState string

const (
	ScanStateScanning ScanState = "scanning"
	ScanStateDone     ScanState = "done"
	ScanStateFailed   ScanState = "failed"
)

// Result is the latest evaluation of one device. Health and Decision are
// nil unless the read succeeded.
type Result struct {
	Identity device.Identity `json:"identity"`
	DiskID   string          `json:"disk_id"`
	State    ScanState       `json:"state"`
	Started  time.Time       `json:"started"`
	Finished *time.Time      `json:"finished,omitempty"`
	Forced   bool            `json:"forced,omitempty"`

	Outcome  device.Outcome   `json:"outcome"`
	Detail   string           `json:"detail,omitempty"`
	Snapshot *device.Snapshot `json:"snapshot,omitempty"`

	Health   *health.Result   `json:"health,omitempty"`
	Decision *decision.Result `json:"decision,omitempty"`

	GDC         gdc.State           `json:"gdc_state"`
	GDCCounters gdc.Counters        `json:"gdc_counters"`
	Instability instability.Summary `json:"instability"`

	// TimeoutCategory is set when this scan saw the command-timeout counter grow.
	TimeoutCategory instability.TimeoutCategory `json:"timeout_category,omitempty"`

	Alerts      []alerts.Alert   `json:"alerts,omitempty"`
	AlertStatus alerts.Indicator `json:"alert_status"`
	Guard       *guard.Action    `json:"guard,omitempty"`

	PeakTemperature *int64 `json:"peak_temperature,omitempty"`
	IsUSB           bool   `json:"is_usb"`

	stuckReported bool
}
