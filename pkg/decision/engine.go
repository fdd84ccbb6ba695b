// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package decision

import "fmt"

// Thresholds for the sector counters. USB bridges misreport often, so every
// threshold except the reallocated delta warning is doubled for USB devices.
const (
	reallocatedAbsoluteWarning   = 5
	reallocatedAbsoluteCritical  = 50
	reallocatedAbsoluteEmergency = 500
	reallocatedDeltaWarning      = 1
	reallocatedDeltaCritical     = 10
	reallocatedDeltaEmergency    = 100

	pendingAbsoluteCritical = 50

	temperatureElevated = 50
	temperatureHigh     = 60
	temperatureCritical = 65

	healthScoreDropThreshold = 3
)

// Reason and action strings that callers and tests match on.
const (
	ReasonCombination = "EMERGENCY: Both reallocated and pending sectors increasing"
	ReasonDowngrade   = "Single emergency signal - downgraded to CRITICAL"

	NoteUSB          = "USB connection: SMART data may be unreliable"
	NoteLimitedSmart = "Limited SMART support detected"
	NoteSystemDisk   = "System disk - emergency unmount not permitted"
	NoteUSBUnmount   = "USB emergency unmount requires opt-in"

	ActionMonitor         = "Monitor disk closely"
	ActionScheduleBackup  = "Schedule backup if not recent"
	ActionBackupNow       = "**BACKUP IMMEDIATELY**"
	ActionPlanReplacement = "Plan disk replacement"
	ActionImproveCooling  = "Improve cooling immediately"
	ActionFailureImminent = "**BACKUP IN PROGRESS OR DISK FAILURE IMMINENT**"
	ActionReplaceUrgently = "Replace disk urgently"
	ActionUnmount         = "Emergency unmount recommended"
)

// Counter is a current reading and the reading of the previous scan.
type Counter struct {
	Current  *int64
	Previous *int64
}

// Input is everything the engine looks at. The previous values are supplied
// by the caller; the engine keeps no state.
type Input struct {
	Reallocated         Counter
	Pending             Counter
	Temperature         *int64
	HealthScore         *int
	PreviousHealthScore *int
	USB                 bool
	LimitedSmart        bool
	SystemDisk          bool
}

// Result is the verdict for one device and scan.
type Result struct {
	Status              Status   `json:"status"`
	Reasons             []string `json:"reasons"`
	RecommendedActions  []string `json:"recommended_actions"`
	CanEmergencyUnmount bool     `json:"can_emergency_unmount"`
	Notes               []string `json:"notes"`
}

type signal struct {
	severity   Status
	increasing bool
	message    string
}

func multiplier(usb bool) int64 {
	if usb {
		return 2
	}
	return 1
}

func evaluateReallocated(c Counter, usb bool) signal {
	var sig signal
	if c.Current == nil {
		return sig
	}
	current, mult := *c.Current, multiplier(usb)

	if c.Previous != nil {
		previous := *c.Previous
		delta := current - previous
		sig.increasing = delta > 0
		switch {
		case delta >= reallocatedDeltaEmergency*mult:
			sig.severity = StatusEmergency
			sig.message = fmt.Sprintf("Reallocated sectors increased rapidly by %d (%d → %d)", delta, previous, current)
			return sig
		case delta >= reallocatedDeltaCritical*mult:
			sig.severity = StatusCritical
			sig.message = fmt.Sprintf("Reallocated sectors increased by %d (%d → %d)", delta, previous, current)
			return sig
		case delta >= reallocatedDeltaWarning:
			sig.severity = StatusWarning
			sig.message = fmt.Sprintf("Reallocated sectors increased by %d (%d → %d)", delta, previous, current)
			return sig
		}
	}

	switch {
	case current >= reallocatedAbsoluteEmergency*mult:
		sig.severity = StatusEmergency
		sig.message = fmt.Sprintf("Reallocated sectors critically high: %d", current)
	case current >= reallocatedAbsoluteCritical*mult:
		sig.severity = StatusCritical
		sig.message = fmt.Sprintf("Reallocated sectors high: %d", current)
	case current >= reallocatedAbsoluteWarning*mult:
		sig.severity = StatusWarning
		sig.message = fmt.Sprintf("Reallocated sectors detected: %d", current)
	}
	return sig
}

func evaluatePending(c Counter, usb bool) signal {
	var sig signal
	if c.Current == nil || *c.Current == 0 {
		return sig
	}
	current := *c.Current

	sig.severity = StatusWarning
	sig.message = fmt.Sprintf("Pending sectors detected: %d", current)

	if c.Previous != nil && *c.Previous != 0 && current > *c.Previous {
		sig.increasing = true
		sig.severity = StatusCritical
		sig.message = fmt.Sprintf("Pending sectors increasing (%d → %d)", *c.Previous, current)
	}

	if current >= pendingAbsoluteCritical*multiplier(usb) {
		sig.severity = StatusCritical
		sig.message = fmt.Sprintf("Pending sectors critically high: %d", current)
	}
	return sig
}

func evaluateTemperature(temp *int64) signal {
	var sig signal
	if temp == nil {
		return sig
	}
	switch t := *temp; {
	case t >= temperatureCritical:
		sig.severity = StatusEmergency
		sig.message = fmt.Sprintf("Temperature critical: %d°C (≥%d°C)", t, temperatureCritical)
	case t >= temperatureHigh:
		sig.severity = StatusCritical
		sig.message = fmt.Sprintf("Temperature high: %d°C (≥%d°C)", t, temperatureHigh)
	case t >= temperatureElevated:
		sig.severity = StatusWarning
		sig.message = fmt.Sprintf("Temperature elevated: %d°C (≥%d°C)", t, temperatureElevated)
	}
	return sig
}

// Evaluate aggregates the sector and temperature signals into one verdict.
// A single runaway metric never yields EMERGENCY on its own: it needs either
// two metrics at EMERGENCY or both sector counters rising with one of them
// already CRITICAL. The health score only contributes an informational reason.
func Evaluate(in Input) Result {
	res := Result{
		Reasons:            []string{},
		RecommendedActions: []string{},
		Notes:              []string{},
	}
	if in.USB {
		res.Notes = append(res.Notes, NoteUSB)
	}
	if in.LimitedSmart {
		res.Notes = append(res.Notes, NoteLimitedSmart)
	}

	realloc := evaluateReallocated(in.Reallocated, in.USB)
	pending := evaluatePending(in.Pending, in.USB)
	temp := evaluateTemperature(in.Temperature)
	signals := []signal{realloc, pending, temp}

	res.Status = maxStatus(realloc.severity, pending.severity, temp.severity)

	combination := realloc.increasing && pending.increasing &&
		(realloc.severity >= StatusCritical || pending.severity >= StatusCritical)
	if combination {
		res.Status = StatusEmergency
		res.Reasons = append(res.Reasons, ReasonCombination)
	}

	if res.Status == StatusEmergency && !combination {
		emergencies := 0
		for _, s := range signals {
			if s.severity >= StatusEmergency {
				emergencies++
			}
		}
		if emergencies < 2 {
			res.Status = StatusCritical
			res.Reasons = append(res.Reasons, ReasonDowngrade)
		}
	}

	for _, s := range signals {
		if s.severity >= StatusWarning && s.message != "" {
			res.Reasons = append(res.Reasons, s.message)
		}
	}

	if in.HealthScore != nil && in.PreviousHealthScore != nil {
		drop := *in.PreviousHealthScore - *in.HealthScore
		if drop > healthScoreDropThreshold*int(multiplier(in.USB)) {
			res.Reasons = append(res.Reasons, fmt.Sprintf("Health score dropped %d points (informational)", drop))
		}
	}

	switch res.Status {
	case StatusWarning:
		res.RecommendedActions = append(res.RecommendedActions, ActionMonitor, ActionScheduleBackup)
	case StatusCritical:
		res.RecommendedActions = append(res.RecommendedActions, ActionBackupNow, ActionPlanReplacement)
		if temp.severity >= StatusCritical {
			res.RecommendedActions = append(res.RecommendedActions, ActionImproveCooling)
		}
	case StatusEmergency:
		res.RecommendedActions = append(res.RecommendedActions, ActionFailureImminent, ActionReplaceUrgently)
		if !in.SystemDisk {
			res.RecommendedActions = append(res.RecommendedActions, ActionUnmount)
		}
	}

	if res.Status == StatusEmergency {
		switch {
		case in.SystemDisk:
			res.Notes = append(res.Notes, NoteSystemDisk)
		case in.USB:
			res.Notes = append(res.Notes, NoteUSBUnmount)
		default:
			res.CanEmergencyUnmount = true
		}
	}

	return res
}
