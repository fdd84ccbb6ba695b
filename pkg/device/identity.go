// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package device

import "strings"

// Identity is the stable key of a physical device. Model and serial survive
// path renumbering and reconnects; Handle (e.g. /dev/sdb) does not.
type Identity struct {
	Model  string `json:"model"`
	Serial string `json:"serial"`
	Handle string `json:"handle"`
}

func NewIdentity(model, serial, handle string) Identity {
	return Identity{
		Model:  strings.TrimSpace(model),
		Serial: strings.TrimSpace(serial),
		Handle: strings.TrimSpace(handle),
	}
}

// Known reports whether model and serial were both reported by the device.
func (i Identity) Known() bool {
	return i.Model != "" && i.Serial != ""
}

// Key returns the persistence key: "<model>_<serial>" with spaces replaced by
// underscores and slashes by dashes. Devices without a known identity fall
// back to the handle name.
func (i Identity) Key() string {
	if !i.Known() {
		return sanitize(strings.TrimPrefix(i.Handle, "/dev/"))
	}
	return sanitize(i.Model + "_" + i.Serial)
}

func (i Identity) String() string {
	return i.Key()
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "/", "-")
}
