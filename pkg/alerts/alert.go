// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Type string

const (
	TypeScoreChange           Type = "score_change"
	TypeScoreCritical         Type = "score_critical"
	TypeReallocatedMilestone  Type = "reallocated_milestone"
	TypePendingMilestone      Type = "pending_milestone"
	TypeTemperatureWarning    Type = "temperature_warning"
	TypeTemperatureCritical   Type = "temperature_critical"
	TypeTemperatureNormalized Type = "temperature_normalized"
	TypeGDCDetected           Type = "gdc_detected"
	TypeLifetimeCritical      Type = "lifetime_remaining_critical"
)

// Alert is one notification handed to the dispatch side.
type Alert struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	DiskID    string          `json:"disk_id"`
	Identity  device.Identity `json:"identity"`
	Type      Type            `json:"alert_type"`
	Severity  Severity        `json:"severity"`
	Metric    string          `json:"metric"`
	OldValue  any             `json:"old_value"`
	NewValue  any             `json:"new_value"`
	Message   string          `json:"message"`
}
