// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/disk"
)

// MountTable lists the mountpoints backed by a device handle or any of its
// partitions.
type MountTable interface {
	Mountpoints(ctx context.Context, handle string) ([]string, error)
}

// SystemMounts reads the host mount table through gopsutil.
type SystemMounts struct{}

func (SystemMounts) Mountpoints(ctx context.Context, handle string) ([]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("error reading mount table: %w", err)
	}
	var out []string
	for _, p := range parts {
		if belongsTo(p.Device, handle) {
			out = append(out, p.Mountpoint)
		}
	}
	return out, nil
}

// belongsTo reports whether dev is handle itself or one of its partitions
// (/dev/sdb1, /dev/nvme0n1p2).
func belongsTo(dev, handle string) bool {
	if handle == "" || !strings.HasPrefix(dev, handle) {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(dev, handle), "p")
	if rest == "" {
		return dev == handle
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
