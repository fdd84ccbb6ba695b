// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package health

import "math"

const hoursPerYear = 8760.0

// step maps a value to the score of the first breakpoint it does not exceed.
type step struct {
	upTo  int64
	score float64
}

func lookup(v int64, table []step, beyond float64) float64 {
	for _, s := range table {
		if v <= s.upTo {
			return s.score
		}
	}
	return beyond
}

var reallocatedSteps = []step{
	{0, 100}, {10, 90}, {100, 70}, {500, 40}, {1000, 20},
	{5000, 5}, {10000, -10}, {20000, -50},
}

// Pending sectors are active degradation and drop faster than reallocated ones.
var pendingSteps = []step{
	{0, 100}, {1, 85}, {5, 60}, {20, 30}, {100, 10}, {300, -30}, {500, -70},
}

var uncorrectableSteps = []step{
	{0, 100}, {1, 60}, {5, 20}, {10, -30}, {20, -70},
}

var timeoutSteps = []step{
	{0, 100}, {5, 70}, {50, 40}, {200, 20},
}

func scoreReallocated(v int64) float64   { return lookup(v, reallocatedSteps, -100) }
func scorePending(v int64) float64       { return lookup(v, pendingSteps, -100) }
func scoreUncorrectable(v int64) float64 { return lookup(v, uncorrectableSteps, -100) }
func scoreTimeouts(v int64) float64      { return lookup(v, timeoutSteps, 0) }

// scoreInstability converts an instability penalty in [-100,0] to a component score.
func scoreInstability(penalty int) float64 {
	return float64(100 + penalty)
}

func scoreAge(hours int64, ssd bool) float64 {
	years := float64(hours) / hoursPerYear
	if ssd {
		switch {
		case years < 3:
			return 100
		case years < 5:
			return 90
		case years < 7:
			return 75
		case years < 10:
			return 50
		default:
			return 25
		}
	}
	switch {
	case years < 2:
		return 100
	case years < 3:
		return 90
	case years < 5:
		return 70
	case years < 7:
		return 50
	case years < 10:
		return 30
	default:
		return 10
	}
}

func scorePowerCycles(cycles int64) float64 {
	switch {
	case cycles < 1000:
		return 100
	case cycles < 5000:
		return 90
	case cycles < 10000:
		return 80
	case cycles < 20000:
		return 70
	case cycles < 50000:
		return 50
	default:
		return 30
	}
}

func scoreTemperature(celsius int64, ssd bool) float64 {
	if celsius == 0 {
		return 100
	}
	if ssd {
		switch {
		case celsius < 40:
			return 100
		case celsius < 50:
			return 90
		case celsius < 60:
			return 70
		case celsius < 70:
			return 40
		default:
			return 10
		}
	}
	switch {
	case celsius < 35:
		return 100
	case celsius < 40:
		return 90
	case celsius < 45:
		return 70
	case celsius < 50:
		return 40
	default:
		return 10
	}
}

// ratedEnduranceFactor is the conservative endurance estimate in bytes
// written per byte of capacity (200 TBW per TB).
const ratedEnduranceFactor = 200.0

// wearPercent returns the share of rated endurance already written.
func wearPercent(bytesWritten, capacityBytes int64) float64 {
	return float64(bytesWritten) / (float64(capacityBytes) * ratedEnduranceFactor) * 100
}

func scoreWear(percent float64) float64 {
	switch {
	case percent < 10:
		return 100
	case percent < 25:
		return 95
	case percent < 50:
		return 85
	case percent < 75:
		return 70
	case percent < 90:
		return 50
	case percent < 100:
		return 25
	case percent < 120:
		return 10
	default:
		return 0
	}
}

// lifetimePenalty is subtracted from the weighted total: nothing above 20%
// remaining, linear up to 10 points down to 11%, then quadratic up to 35.
func lifetimePenalty(remaining int64) float64 {
	switch {
	case remaining >= 21:
		return 0
	case remaining >= 11:
		return math.Min(10, float64(20-remaining)/9*10)
	}
	if remaining < 0 {
		remaining = 0
	}
	ratio := float64(10-remaining) / 10
	return math.Min(35, 10+25*ratio*ratio)
}
