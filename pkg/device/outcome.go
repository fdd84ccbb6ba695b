// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// Outcome classifies a single acquisition attempt. A failed read is an
// ordinary value consumed by the GDC and instability trackers.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeNoPayload
	OutcomeCorrupt
	OutcomeDisappeared
	OutcomeNoCapability
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:      "success",
	OutcomeTimeout:      "timeout",
	OutcomeNoPayload:    "no_payload",
	OutcomeCorrupt:      "corrupt",
	OutcomeDisappeared:  "disappeared",
	OutcomeNoCapability: "no_capability",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failed reports whether the outcome counts against the device.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeTimeout, OutcomeNoPayload, OutcomeCorrupt, OutcomeDisappeared:
		return true
	}
	return false
}

func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", string(b))
}

// Reading is what the acquisition collaborator returns for one device.
// Snapshot is only meaningful when Outcome is OutcomeSuccess.
type Reading struct {
	Identity Identity
	Outcome  Outcome
	Snapshot Snapshot
	Detail   string
}
