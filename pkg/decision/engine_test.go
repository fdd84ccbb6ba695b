// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package decision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

func counter(current, previous int64) Counter {
	return Counter{Current: device.Int64(current), Previous: device.Int64(previous)}
}

func intp(v int) *int { return &v }

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusEmergency > StatusCritical)
	assert.True(t, StatusCritical > StatusWarning)
	assert.True(t, StatusWarning > StatusOK)
	assert.Equal(t, StatusCritical, maxStatus(StatusOK, StatusCritical, StatusWarning))

	b, err := json.Marshal(StatusEmergency)
	require.NoError(t, err)
	assert.Equal(t, `"EMERGENCY"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"warning"`), &s))
	assert.Equal(t, StatusWarning, s)
}

func TestReallocatedDeltaCritical(t *testing.T) {
	res := Evaluate(Input{Reallocated: counter(20, 5)})
	assert.GreaterOrEqual(t, res.Status, StatusCritical)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "15")
	assert.Equal(t, []string{ActionBackupNow, ActionPlanReplacement}, res.RecommendedActions)
}

func TestReallocatedDeltaDoubledForUSB(t *testing.T) {
	res := Evaluate(Input{Reallocated: counter(20, 5), USB: true})
	assert.Equal(t, StatusWarning, res.Status)
	assert.Contains(t, res.Notes, NoteUSB)
}

func TestReallocatedAbsoluteFallback(t *testing.T) {
	res := Evaluate(Input{Reallocated: Counter{Current: device.Int64(60)}})
	assert.Equal(t, StatusCritical, res.Status)
	assert.Equal(t, []string{"Reallocated sectors high: 60"}, res.Reasons)

	// unchanged counter falls through to the absolute thresholds
	res = Evaluate(Input{Reallocated: counter(7, 7)})
	assert.Equal(t, StatusWarning, res.Status)
}

func TestCombinationRuleEscalates(t *testing.T) {
	res := Evaluate(Input{
		Reallocated: counter(250, 50),
		Pending:     counter(12, 3),
	})
	assert.Equal(t, StatusEmergency, res.Status)
	assert.Equal(t, ReasonCombination, res.Reasons[0])
	assert.NotContains(t, res.Reasons, ReasonDowngrade)
	assert.True(t, res.CanEmergencyUnmount)
	assert.Contains(t, res.RecommendedActions, ActionUnmount)
}

func TestSingleEmergencyDowngraded(t *testing.T) {
	res := Evaluate(Input{Temperature: device.Int64(66)})
	assert.Equal(t, StatusCritical, res.Status)
	assert.Contains(t, res.Reasons, ReasonDowngrade)
	assert.Contains(t, res.RecommendedActions, ActionImproveCooling)
	assert.False(t, res.CanEmergencyUnmount)
}

func TestTwoEmergencySignalsKeepEmergency(t *testing.T) {
	res := Evaluate(Input{
		Reallocated: Counter{Current: device.Int64(600)},
		Temperature: device.Int64(70),
	})
	assert.Equal(t, StatusEmergency, res.Status)
	assert.NotContains(t, res.Reasons, ReasonDowngrade)
}

func TestPendingSeverities(t *testing.T) {
	assert.Equal(t, StatusOK, Evaluate(Input{Pending: Counter{Current: device.Int64(0)}}).Status)
	assert.Equal(t, StatusWarning, Evaluate(Input{Pending: Counter{Current: device.Int64(2)}}).Status)
	assert.Equal(t, StatusCritical, Evaluate(Input{Pending: counter(3, 2)}).Status)
	// growth from zero is not "increasing"
	assert.Equal(t, StatusWarning, Evaluate(Input{Pending: counter(3, 0)}).Status)
	assert.Equal(t, StatusCritical, Evaluate(Input{Pending: Counter{Current: device.Int64(50)}}).Status)
}

func TestHealthScoreDropIsInformationalOnly(t *testing.T) {
	res := Evaluate(Input{
		Pending:             Counter{Current: device.Int64(0)},
		HealthScore:         intp(60),
		PreviousHealthScore: intp(90),
	})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"Health score dropped 30 points (informational)"}, res.Reasons)
	assert.Empty(t, res.RecommendedActions)
}

func TestEmergencyUnmountEligibility(t *testing.T) {
	in := Input{Reallocated: counter(250, 50), Pending: counter(12, 3)}

	in.SystemDisk = true
	res := Evaluate(in)
	assert.Equal(t, StatusEmergency, res.Status)
	assert.False(t, res.CanEmergencyUnmount)
	assert.NotContains(t, res.RecommendedActions, ActionUnmount)
	assert.Contains(t, res.Notes, NoteSystemDisk)

	in.SystemDisk = false
	in.USB = true
	in.Reallocated = counter(450, 50)
	res = Evaluate(in)
	assert.Equal(t, StatusEmergency, res.Status)
	assert.False(t, res.CanEmergencyUnmount)
	assert.Contains(t, res.Notes, NoteUSBUnmount)
}

func TestLimitedSmartNote(t *testing.T) {
	res := Evaluate(Input{LimitedSmart: true})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{NoteLimitedSmart}, res.Notes)
}
