// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package guard

import "strings"

// Mode selects whether an authorized unmount is executed.
type Mode string

const (
	// ModePassive logs what would be unmounted.
	ModePassive Mode = "PASSIVE"
	ModeActive  Mode = "ACTIVE"
)

// ParseMode accepts "ACTIVE" in any case. Everything else, including empty
// or garbled input, is PASSIVE.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeActive)) {
		return ModeActive
	}
	return ModePassive
}
