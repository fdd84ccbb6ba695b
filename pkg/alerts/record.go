// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"slices"
	"time"
)

// RecordVersion is bumped whenever the persisted layout of Record changes.
const RecordVersion = 1

const (
	smartStatusOK           = "ok"
	smartStatusFailed       = "failed"
	smartStatusUnassessable = "unassessable"

	levelNormal   = "normal"
	levelWarning  = "warning"
	levelCritical = "critical"
)

// Record holds the last known values of one device. Milestone sets only ever
// grow, so a milestone alerts at most once for the life of the record.
type Record struct {
	Version            int        `json:"version"`
	LastScore          *int       `json:"last_score"`
	LastReallocated    int64      `json:"last_reallocated"`
	LastPending        int64      `json:"last_pending"`
	AlertedReallocated []int64    `json:"alerted_reallocated_milestones"`
	AlertedPending     []int64    `json:"alerted_pending_milestones"`
	TemperatureHistory []int64    `json:"temperature_history"`
	LastTemperature    *int64     `json:"last_temperature"`
	TemperatureLevel   string     `json:"temperature_level,omitempty"`
	LastSmartStatus    string     `json:"last_smart_status,omitempty"`
	GDCAlerted         bool       `json:"gdc_flag"`
	LifetimeAlerted    bool       `json:"lifetime_remaining_critical_alerted"`
	LastUpdate         *time.Time `json:"last_update,omitempty"`
}

func NewRecord() *Record {
	return &Record{
		Version:            RecordVersion,
		AlertedReallocated: []int64{},
		AlertedPending:     []int64{},
		TemperatureHistory: []int64{},
	}
}

func alerted(set []int64, m int64) bool {
	return slices.Contains(set, m)
}

// pushTemperature appends t and keeps the newest n readings.
func (r *Record) pushTemperature(t int64, n int) {
	r.TemperatureHistory = append(r.TemperatureHistory, t)
	if n > 0 && len(r.TemperatureHistory) > n {
		r.TemperatureHistory = slices.Clone(r.TemperatureHistory[len(r.TemperatureHistory)-n:])
	}
}
