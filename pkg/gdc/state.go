// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package gdc

import (
	"fmt"
	"strings"
)

// State of the ghost-condition machine. OK through TERMINAL escalate in
// order; UNASSESSABLE sits outside that order.
type State int

const (
	StateOK State = iota
	StateSuspect
	StateConfirmed
	StateTerminal
	StateUnassessable
)

var stateNames = [...]string{"OK", "SUSPECT", "CONFIRMED", "TERMINAL", "UNASSESSABLE"}

func (s State) String() string {
	if s < StateOK || s > StateUnassessable {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Rank returns the escalation level of s. ok is false for UNASSESSABLE,
// which cannot be compared with the other states.
func (s State) Rank() (rank int, ok bool) {
	if s == StateUnassessable {
		return 0, false
	}
	return int(s), true
}

// Failing reports whether s is one of the escalated failure states.
func (s State) Failing() bool {
	return s == StateSuspect || s == StateConfirmed || s == StateTerminal
}

func (s State) MarshalText() ([]byte, error) {
	if s < StateOK || s > StateUnassessable {
		return nil, fmt.Errorf("invalid gdc state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if strings.EqualFold(n, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown gdc state %q", string(b))
}
