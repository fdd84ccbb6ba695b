// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"sync"
	"time"
)

// DefaultTimeoutSchedule is the per-attempt acquisition deadline. Each
// consecutive timeout moves one step further; the last step repeats.
var DefaultTimeoutSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, 55 * time.Second}

// DefaultTimeoutReset is the observation gap after which a device starts
// over at the first step.
const DefaultTimeoutReset = 120 * time.Second

type attemptState struct {
	attempt int
	last    time.Time
}

// timeoutBook tracks the escalation step per device identity.
type timeoutBook struct {
	schedule []time.Duration
	reset    time.Duration

	mu    sync.Mutex
	state map[string]*attemptState
}

func newTimeoutBook(schedule []time.Duration, reset time.Duration) *timeoutBook {
	if len(schedule) == 0 {
		schedule = DefaultTimeoutSchedule
	}
	return &timeoutBook{schedule: schedule, reset: reset, state: map[string]*attemptState{}}
}

// Next returns the deadline for the next read of key.
func (b *timeoutBook) Next(key string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[key]
	if !ok {
		st = &attemptState{}
		b.state[key] = st
	}
	if !st.last.IsZero() && now.Sub(st.last) > b.reset {
		st.attempt = 0
	}
	st.last = now
	return b.schedule[min(st.attempt, len(b.schedule)-1)]
}

// Observe moves key one step up after a timeout and back to the start
// after any other outcome.
func (b *timeoutBook) Observe(key string, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[key]
	if !ok {
		st = &attemptState{}
		b.state[key] = st
	}
	if timedOut {
		st.attempt++
		return
	}
	st.attempt = 0
}

// Move carries the escalation state of from over to to, once the identity
// behind a handle becomes known. State already kept under to wins.
func (b *timeoutBook) Move(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[from]
	if !ok {
		return
	}
	delete(b.state, from)
	if _, exists := b.state[to]; !exists {
		b.state[to] = st
	}
}
