// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package decision

import (
	"fmt"
	"strings"
)

// Status is an ordered severity. Higher values are worse, so plain integer
// comparison is the severity order.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusEmergency
)

var statusNames = [...]string{"OK", "WARNING", "CRITICAL", "EMERGENCY"}

func (s Status) String() string {
	if s < StatusOK || s > StatusEmergency {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusOK || s > StatusEmergency {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return StatusOK, fmt.Errorf("unknown status %q", name)
}

// maxStatus returns the most severe of the given statuses.
func maxStatus(statuses ...Status) Status {
	m := StatusOK
	for _, s := range statuses {
		if s > m {
			m = s
		}
	}
	return m
}
