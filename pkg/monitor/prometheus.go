// Copyright (C) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	healthScoreGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_health_score",
			Help: "Weighted health score of the disk",
		},
		[]string{"disk", "device", "node"},
	)

	decisionStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_decision_status",
			Help: "Decision status of the disk (0=OK, 1=WARNING, 2=CRITICAL, 3=EMERGENCY)",
		},
		[]string{"disk", "device", "node"},
	)

	gdcStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_gdc_state",
			Help: "Ghost drive condition state (0=OK, 1=SUSPECT, 2=CONFIRMED, 3=TERMINAL, 4=UNASSESSABLE)",
		},
		[]string{"disk", "device", "node"},
	)

	instabilityPenaltyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_instability_penalty",
			Help: "Instability penalty of the disk (-100..0)",
		},
		[]string{"disk", "device", "node"},
	)

	instabilityLockGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_instability_locked",
			Help: "1 while the instability penalty is locked",
		},
		[]string{"disk", "device", "node"},
	)

	temperatureGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_temperature_celsius",
			Help: "Disk temperature in Celsius",
		},
		[]string{"disk", "device", "node"},
	)

	peakTemperatureGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diskverdict_peak_temperature_celsius",
			Help: "Highest temperature observed for the disk",
		},
		[]string{"disk", "device", "node"},
	)

	alertsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskverdict_alerts_total",
			Help: "Alerts raised per disk, type and severity",
		},
		[]string{"disk", "node", "alert_type", "severity"},
	)

	readOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskverdict_read_outcomes_total",
			Help: "Acquisition attempts per disk and outcome",
		},
		[]string{"disk", "node", "outcome"},
	)

	stuckScansCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskverdict_stuck_scans_total",
			Help: "Scans reported by the watchdog as stuck",
		},
		[]string{"device", "node"},
	)

	scanDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diskverdict_scan_cycle_seconds",
			Help:    "Duration of a full scan cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(healthScoreGauge)
	prometheus.MustRegister(decisionStatusGauge)
	prometheus.MustRegister(gdcStateGauge)
	prometheus.MustRegister(instabilityPenaltyGauge)
	prometheus.MustRegister(instabilityLockGauge)
	prometheus.MustRegister(temperatureGauge)
	prometheus.MustRegister(peakTemperatureGauge)
	prometheus.MustRegister(alertsCounter)
	prometheus.MustRegister(readOutcomeCounter)
	prometheus.MustRegister(stuckScansCounter)
	prometheus.MustRegister(scanDurationHistogram)
}

// publishToPrometheus updates the per-disk gauges from one scan result.
func publishToPrometheus(r Result, node string) {
	labels := prometheus.Labels{"disk": r.Identity.Key(), "device": r.Identity.Handle, "node": node}

	readOutcomeCounter.With(prometheus.Labels{"disk": r.Identity.Key(), "node": node, "outcome": r.Outcome.String()}).Inc()
	gdcStateGauge.With(labels).Set(float64(r.GDC))
	instabilityPenaltyGauge.With(labels).Set(float64(r.Instability.Score))
	lock := 0.0
	if r.Instability.Locked {
		lock = 1
	}
	instabilityLockGauge.With(labels).Set(lock)

	if r.Health != nil {
		healthScoreGauge.With(labels).Set(float64(r.Health.Total))
	}
	if r.Decision != nil {
		decisionStatusGauge.With(labels).Set(float64(r.Decision.Status))
	}
	if r.Snapshot != nil && r.Snapshot.Temperature != nil {
		temperatureGauge.With(labels).Set(float64(*r.Snapshot.Temperature))
	}
	if r.PeakTemperature != nil {
		peakTemperatureGauge.With(labels).Set(float64(*r.PeakTemperature))
	}
	for _, a := range r.Alerts {
		alertsCounter.With(prometheus.Labels{
			"disk":       r.Identity.Key(),
			"node":       node,
			"alert_type": string(a.Type),
			"severity":   string(a.Severity),
		}).Inc()
	}
}
