// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"fmt"
	"math"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

// Component names used as keys in Result.Components.
const (
	ComponentReallocated   = "reallocated"
	ComponentPending       = "pending"
	ComponentUncorrectable = "uncorrectable"
	ComponentTimeout       = "timeout"
	ComponentInstability   = "instability"
	ComponentAge           = "age"
	ComponentTemperature   = "temperature"
	ComponentPowerCycles   = "power_cycles"
	ComponentWear          = "wear"
	ComponentLifetime      = "lifetime_remaining"
)

// PenaltyWeight labels components that are subtracted rather than weighted.
const PenaltyWeight = "penalty"

// Component is one line of the score breakdown.
type Component struct {
	Value  *int64  `json:"value"`
	Score  float64 `json:"score"`
	Weight string  `json:"weight"`
}

// Result is the outcome of Score.
type Result struct {
	Total      int                  `json:"total"`
	IsSSD      bool                 `json:"is_ssd"`
	Profile    string               `json:"profile"`
	Components map[string]Component `json:"components"`
}

// Profile is a weight table in whole percent. Every profile sums to 100.
type Profile struct {
	Name    string
	Weights map[string]int
}

var (
	ProfileSSDWear = Profile{
		Name: "ssd_wear",
		Weights: map[string]int{
			ComponentReallocated:   30,
			ComponentPending:       25,
			ComponentWear:          15,
			ComponentTemperature:   10,
			ComponentUncorrectable: 8,
			ComponentInstability:   5,
			ComponentTimeout:       5,
			ComponentAge:           2,
		},
	}
	ProfileSSD = Profile{
		Name: "ssd",
		Weights: map[string]int{
			ComponentReallocated:   35,
			ComponentPending:       25,
			ComponentInstability:   10,
			ComponentUncorrectable: 10,
			ComponentTemperature:   10,
			ComponentTimeout:       5,
			ComponentAge:           5,
		},
	}
	ProfileHDD = Profile{
		Name: "hdd",
		Weights: map[string]int{
			ComponentReallocated:   30,
			ComponentPending:       25,
			ComponentInstability:   10,
			ComponentPowerCycles:   10,
			ComponentUncorrectable: 10,
			ComponentAge:           5,
			ComponentTimeout:       5,
			ComponentTemperature:   5,
		},
	}
)

// hasWearData reports whether both inputs of the endurance estimate are present.
func hasWearData(s device.Snapshot) bool {
	written := device.Quantity(s.BytesWritten)
	capacity := device.Quantity(s.CapacityBytes)
	return s.IsSSD && written != nil && capacity != nil && *capacity > 0
}

// SelectProfile picks the weight profile for a snapshot.
func SelectProfile(s device.Snapshot) Profile {
	switch {
	case hasWearData(s):
		return ProfileSSDWear
	case s.IsSSD:
		return ProfileSSD
	default:
		return ProfileHDD
	}
}

// Score computes the weighted health score of a snapshot. instabilityPenalty
// is the current penalty of the instability tracker (-100..0) and faultRestarts
// the number of FAULT restarts behind it, reported as the component's value.
// Absent attributes score as healthy; absence is never evidence of damage.
func Score(s device.Snapshot, instabilityPenalty int, faultRestarts int) Result {
	profile := SelectProfile(s)
	res := Result{
		IsSSD:      s.IsSSD,
		Profile:    profile.Name,
		Components: make(map[string]Component, len(profile.Weights)+1),
	}

	scores := map[string]Component{
		ComponentReallocated:   counter(s.ReallocatedSectors, scoreReallocated),
		ComponentPending:       counter(s.PendingSectors, scorePending),
		ComponentUncorrectable: counter(s.UncorrectableErrors, scoreUncorrectable),
		ComponentTimeout:       counter(s.CommandTimeouts, scoreTimeouts),
		ComponentInstability: {
			Value: device.Int64(int64(faultRestarts)),
			Score: scoreInstability(clampPenalty(instabilityPenalty)),
		},
		ComponentAge: counter(s.PowerOnHours, func(v int64) float64 {
			return scoreAge(v, s.IsSSD)
		}),
		ComponentTemperature: counter(s.Temperature, func(v int64) float64 {
			return scoreTemperature(v, s.IsSSD)
		}),
		ComponentPowerCycles: counter(s.PowerCycles, scorePowerCycles),
	}
	if profile.Name == ProfileSSDWear.Name {
		scores[ComponentWear] = Component{
			Value: device.Quantity(s.BytesWritten),
			Score: scoreWear(wearPercent(*s.BytesWritten, *s.CapacityBytes)),
		}
	}

	var total float64
	for name, weight := range profile.Weights {
		c := scores[name]
		c.Weight = fmt.Sprintf("%d%%", weight)
		res.Components[name] = c
		total += c.Score * float64(weight) / 100
	}

	if remaining := device.Valid(s.LifetimeRemaining); s.IsSSD && remaining != nil {
		r := min(*remaining, 100)
		penalty := lifetimePenalty(r)
		total -= penalty
		res.Components[ComponentLifetime] = Component{
			Value:  device.Int64(r),
			Score:  -math.Round(penalty*100) / 100,
			Weight: PenaltyWeight,
		}
	}

	res.Total = min(100, int(math.Round(total)))
	return res
}

func counter(v *int64, fn func(int64) float64) Component {
	v = device.Valid(v)
	if v == nil {
		return Component{Score: 100}
	}
	return Component{Value: v, Score: fn(*v)}
}

func clampPenalty(p int) int {
	return max(-100, min(0, p))
}

// Rating returns a coarse label for a total score.
func Rating(total int) string {
	switch {
	case total >= 95:
		return "excellent"
	case total >= 80:
		return "good"
	case total >= 60:
		return "acceptable"
	case total >= 40:
		return "warning"
	case total >= 20:
		return "poor"
	case total >= 0:
		return "critical"
	case total >= -50:
		return "dead"
	default:
		return "zombie"
	}
}
