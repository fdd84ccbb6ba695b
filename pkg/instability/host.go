// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package instability

import (
	"time"

	"github.com/shirou/gopsutil/host"
)

// HostClock reports host boot time and uptime, used to tell power-related
// command timeouts from stable ones.
type HostClock interface {
	BootTime() (time.Time, error)
	Uptime() (time.Duration, error)
}

// SystemHost reads the running host through gopsutil.
type SystemHost struct{}

func (SystemHost) BootTime() (time.Time, error) {
	bt, err := host.BootTime()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(bt), 0), nil
}

func (SystemHost) Uptime() (time.Duration, error) {
	up, err := host.Uptime()
	if err != nil {
		return 0, err
	}
	return time.Duration(up) * time.Second, nil
}
