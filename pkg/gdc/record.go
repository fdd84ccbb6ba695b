// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package gdc

import (
	"fmt"
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

// RecordVersion is bumped whenever the persisted layout of Record changes.
const RecordVersion = 1

const (
	historyLength = 10

	neverSucceededFailures = 5
	neverSucceededTimeouts = 3
	terminalFailures       = 8
	confirmedFailures      = 5
	suspectFailures        = 3
	flapThreshold          = 4
	postMortemFailures     = 3
)

// Counters are the per-outcome event counts. A success resets the four
// failure counters; Successes is cumulative.
type Counters struct {
	Timeouts    int `json:"timeouts"`
	NoPayload   int `json:"no_payload"`
	Corrupt     int `json:"corrupt"`
	Disappeared int `json:"disappeared"`
	Successes   int `json:"successes"`
}

// Failures is the number of failed reads since the last success.
func (c Counters) Failures() int {
	return c.Timeouts + c.NoPayload + c.Corrupt + c.Disappeared
}

// Record is the persisted ghost-condition state of one device. Only
// inconsistent data (reads that worked and then stopped) escalates it;
// a device that never answered is not evidence of failure by itself.
type Record struct {
	Version          int              `json:"version"`
	State            State            `json:"state"`
	PreviousState    State            `json:"previous_state"`
	Counters         Counters         `json:"counters"`
	History          []device.Outcome `json:"history"`
	HasEverSucceeded bool             `json:"has_ever_succeeded"`
	Frozen           bool             `json:"frozen"`
	SmartSupported   *bool            `json:"smart_supported"`
	LastSuccess      *time.Time       `json:"last_success,omitempty"`
}

// NewRecord returns the record of a device seen for the first time.
func NewRecord() *Record {
	return &Record{
		Version: RecordVersion,
		History: []device.Outcome{},
	}
}

// Apply registers one read outcome and re-evaluates the state.
func (r *Record) Apply(o device.Outcome, now time.Time) {
	switch o {
	case device.OutcomeSuccess:
		r.Counters.Successes++
		r.HasEverSucceeded = true
		r.LastSuccess = &now
		r.Counters.Timeouts = 0
		r.Counters.NoPayload = 0
		r.Counters.Corrupt = 0
		r.Counters.Disappeared = 0
		if r.SmartSupported == nil {
			supported := true
			r.SmartSupported = &supported
		}
	case device.OutcomeTimeout:
		r.Counters.Timeouts++
	case device.OutcomeNoPayload:
		r.Counters.NoPayload++
	case device.OutcomeCorrupt:
		r.Counters.Corrupt++
	case device.OutcomeDisappeared:
		r.Counters.Disappeared++
	case device.OutcomeNoCapability:
		// Pinned until Reidentify; no evaluation.
		unsupported := false
		r.SmartSupported = &unsupported
		r.State = StateUnassessable
		r.push(o)
		return
	}
	r.push(o)
	r.evaluate()
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.History = append([]device.Outcome{}, r.History...)
	if r.SmartSupported != nil {
		v := *r.SmartSupported
		c.SmartSupported = &v
	}
	if r.LastSuccess != nil {
		t := *r.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

// Reidentify releases the UNASSESSABLE pin after the device was identified
// again, e.g. after it was replugged behind a different bridge.
func (r *Record) Reidentify() {
	r.SmartSupported = nil
	if r.State == StateUnassessable {
		r.State = StateOK
	}
	r.evaluate()
}

// Freeze suspends evaluation for diagnostic re-scans.
func (r *Record) Freeze()   { r.Frozen = true }
func (r *Record) Unfreeze() { r.Frozen = false }

// Restore prepares a record loaded from storage and re-evaluates it against
// its counters. PreviousState is kept as loaded, so a transition that was
// persisted but never committed is reported again.
func (r *Record) Restore() {
	if r.History == nil {
		r.History = []device.Outcome{}
	}
	r.evaluate()
}

func (r *Record) push(o device.Outcome) {
	r.History = append(r.History, o)
	if len(r.History) > historyLength {
		r.History = r.History[len(r.History)-historyLength:]
	}
}

// flaps counts success to non-success transitions in the history.
func (r *Record) flaps() int {
	n := 0
	for i := 1; i < len(r.History); i++ {
		if r.History[i-1] == device.OutcomeSuccess && r.History[i] != device.OutcomeSuccess {
			n++
		}
	}
	return n
}

// evaluate applies the rules in fixed order: never-succeeded, failure
// buckets, flapping, post-mortem, idle reset. The post-mortem rule can only
// fire when an earlier rule did not return.
func (r *Record) evaluate() {
	if r.Frozen {
		return
	}
	if r.SmartSupported != nil && !*r.SmartSupported {
		r.State = StateUnassessable
		return
	}

	fails := r.Counters.Failures()

	if !r.HasEverSucceeded {
		if fails >= neverSucceededFailures && r.Counters.Timeouts >= neverSucceededTimeouts {
			r.State = StateConfirmed
		}
		if fails == 0 {
			r.State = StateOK
		}
		return
	}

	switch {
	case fails >= terminalFailures:
		r.State = StateTerminal
		return
	case fails >= confirmedFailures:
		r.State = StateConfirmed
		return
	case fails >= suspectFailures:
		r.State = StateSuspect
		return
	}

	if r.flaps() >= flapThreshold && r.State < StateSuspect {
		r.State = StateSuspect
	}

	if r.Counters.Successes == 1 && fails >= postMortemFailures {
		r.State = StateConfirmed
	}

	if fails == 0 {
		r.State = StateOK
	}
}

// Transition kinds reported to the lifecycle log.
const (
	KindSuspected   = "GDC_SUSPECTED"
	KindConfirmed   = "GDC_CONFIRMED"
	KindTerminal    = "GDC_TERMINAL"
	KindRevoked     = "GDC_REVOKED"
	KindStateChange = "STATE_CHANGE"
)

// Transition is an unacknowledged state change.
type Transition struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Transition returns the change since the last Commit, if any. Calling it
// does not acknowledge the change, so a caller that fails to log it will
// see it again on the next scan.
func (r *Record) Transition() (Transition, bool) {
	prev, curr := r.PreviousState, r.State
	if prev == curr {
		return Transition{}, false
	}
	t := Transition{From: prev, To: curr}
	switch {
	case prev == StateOK && curr == StateSuspect:
		t.Kind, t.Message = KindSuspected, "Ghost drive condition suspected: diagnostic reads started failing"
	case (prev == StateOK || prev == StateSuspect) && curr == StateConfirmed:
		t.Kind, t.Message = KindConfirmed, "Ghost drive condition confirmed: device reliability compromised"
	case curr == StateTerminal:
		t.Kind, t.Message = KindTerminal, "Ghost drive condition terminal: replace the device"
	case prev.Failing() && curr == StateOK:
		t.Kind, t.Message = KindRevoked, "Ghost drive condition revoked: device delivers reliable data again"
	default:
		t.Kind, t.Message = KindStateChange, fmt.Sprintf("GDC state change: %s → %s", prev, curr)
	}
	return t, true
}

// Commit acknowledges the current state after its transition was logged.
func (r *Record) Commit() {
	r.PreviousState = r.State
}
