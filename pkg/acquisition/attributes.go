// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package acquisition

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

// ATA attribute IDs read into a snapshot.
const (
	attrReallocated       = 5
	attrPowerOnHours      = 9
	attrPowerCycles       = 12
	attrReportedUncorrect = 187
	attrCommandTimeout    = 188
	attrAirflowTemp       = 190
	attrLoadCycles        = 193
	attrTemperature       = 194
	attrPending           = 197
	attrUncorrectable     = 198
	attrLifetimeRemaining = 202
	attrLBAsWritten       = 241
	attrHostPagesWritten  = 247
)

const (
	lbaSize        = 512
	pageSize       = 4096
	nvmeDataUnit   = 512000
	maxPercent     = 100
	secondsPerHour = 3600
	minutesPerHour = 60
)

var durationRaw = regexp.MustCompile(`^(\d+)h\+(\d+)m(?:\+(\d+))?`)

var ssdModelHints = []string{"ssd", "nvme", "bx500", "crucial"}

// BuildSnapshot maps a smartctl payload into a snapshot. Attributes the
// payload does not carry stay nil.
func BuildSnapshot(out *SmartCtlOutput, isUSB bool, now time.Time) device.Snapshot {
	s := device.Snapshot{
		Identity:   device.NewIdentity(modelOf(out), out.SerialNumber, out.Device.Name),
		Taken:      now,
		IsUSB:      isUSB,
		Responsive: true,
	}
	s.IsSSD = isSSD(out)

	if out.SmartStatus != nil {
		passed := out.SmartStatus.Passed
		s.SmartPassed = &passed
	}
	if out.UserCapacity != nil && out.UserCapacity.Bytes > 0 {
		s.CapacityBytes = device.Int64(out.UserCapacity.Bytes)
	} else if out.NVMeTotalCapacity > 0 {
		s.CapacityBytes = device.Int64(out.NVMeTotalCapacity)
	}

	if out.ATASMARTAttributes != nil {
		applyATA(&s, out.ATASMARTAttributes.Table)
	}
	applyNVMe(&s, out.NVMeSmartHealth)
	applySCSI(&s, out)

	if s.Temperature == nil && out.Temperature != nil && out.Temperature.Current > 0 {
		s.Temperature = device.Int64(out.Temperature.Current)
	}
	if s.PowerOnHours == nil && out.PowerOnTime != nil && out.PowerOnTime.Hours > 0 {
		s.PowerOnHours = device.Int64(out.PowerOnTime.Hours)
	}
	if s.PowerCycles == nil && out.PowerCycleCount != nil {
		s.PowerCycles = device.Valid(device.Int64(*out.PowerCycleCount))
	}

	s.HasSmartData = s.ReallocatedSectors != nil || s.PendingSectors != nil ||
		s.UncorrectableErrors != nil || s.CommandTimeouts != nil ||
		s.Temperature != nil || s.PowerOnHours != nil || s.PowerCycles != nil ||
		s.LifetimeRemaining != nil
	return s
}

func applyATA(s *device.Snapshot, table []SmartCtlATASMARTEntry) {
	byID := make(map[int64]SmartCtlATASMARTEntry, len(table))
	for _, e := range table {
		byID[e.ID] = e
	}
	get := func(id int64) *int64 {
		e, ok := byID[id]
		if !ok {
			return nil
		}
		return rawValue(e)
	}

	s.ReallocatedSectors = get(attrReallocated)
	s.PendingSectors = get(attrPending)
	s.UncorrectableErrors = get(attrUncorrectable)
	if s.UncorrectableErrors == nil {
		s.UncorrectableErrors = get(attrReportedUncorrect)
	}
	s.CommandTimeouts = get(attrCommandTimeout)
	s.Temperature = get(attrTemperature)
	if s.Temperature == nil {
		s.Temperature = get(attrAirflowTemp)
	}
	s.PowerCycles = get(attrPowerCycles)
	s.LoadCycles = get(attrLoadCycles)
	if e, ok := byID[attrPowerOnHours]; ok {
		s.PowerOnHours = powerOnHours(e)
	}

	if !s.IsSSD {
		return
	}
	if v := get(attrLBAsWritten); v != nil {
		s.BytesWritten = device.Int64(*v * lbaSize)
	} else if v := get(attrHostPagesWritten); v != nil {
		s.BytesWritten = device.Int64(*v * pageSize)
	}
	if e, ok := byID[attrLifetimeRemaining]; ok {
		if v := rawValue(e); v != nil {
			remaining := *v
			if strings.Contains(strings.ToLower(e.Name), "percent_used") {
				remaining = maxPercent - remaining
			}
			s.LifetimeRemaining = device.Int64(clampPercent(remaining))
		}
	}
}

func applyNVMe(s *device.Snapshot, h *SmartCtlNVMeSmartHealthInfoLog) {
	if h == nil {
		return
	}
	s.IsSSD = true
	s.UncorrectableErrors = device.Int64(h.MediaErrors)
	s.LifetimeRemaining = device.Int64(clampPercent(maxPercent - h.PercentageUsed))
	s.PowerCycles = device.Valid(device.Int64(h.PowerCycles))
	if h.PowerOnHours > 0 {
		s.PowerOnHours = device.Int64(h.PowerOnHours)
	}
	if h.Temperature > 0 {
		s.Temperature = device.Int64(h.Temperature)
	}
	if h.DataUnitsWritten > 0 && h.DataUnitsWritten < uint64(device.SentinelValue) {
		s.BytesWritten = device.Int64(int64(h.DataUnitsWritten) * nvmeDataUnit)
	}
}

func applySCSI(s *device.Snapshot, out *SmartCtlOutput) {
	if out.SCSIGrownDefects != nil {
		s.ReallocatedSectors = device.Valid(device.Int64(*out.SCSIGrownDefects))
	}
	if out.SCSIErrorCounters != nil {
		l := out.SCSIErrorCounters
		s.UncorrectableErrors = device.Int64(l.Read.TotalUncorrectedErrors + l.Write.TotalUncorrectedErrors + l.Verify.TotalUncorrectedErrors)
	}
	if out.SCSIStartStop != nil {
		if s.PowerCycles == nil && out.SCSIStartStop.AccumulatedStartStopCycles > 0 {
			s.PowerCycles = device.Int64(out.SCSIStartStop.AccumulatedStartStopCycles)
		}
		if s.LoadCycles == nil && out.SCSIStartStop.AccumulatedLoadUnloadCycles > 0 {
			s.LoadCycles = device.Int64(out.SCSIStartStop.AccumulatedLoadUnloadCycles)
		}
	}
}

// rawValue prefers the leading number of the rendered raw string, since the
// packed raw integer of some attributes (temperature) carries min/max bytes.
func rawValue(e SmartCtlATASMARTEntry) *int64 {
	if fields := strings.Fields(e.Raw.String); len(fields) > 0 {
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			return device.Valid(&v)
		}
	}
	if e.Raw.Value >= uint64(device.SentinelValue) {
		return nil
	}
	return device.Int64(int64(e.Raw.Value))
}

// powerOnHours handles drives that report Power_On_Seconds or an
// "XXh+YYm+ZZs" rendering instead of plain hours.
func powerOnHours(e SmartCtlATASMARTEntry) *int64 {
	if m := durationRaw.FindStringSubmatch(strings.TrimSpace(e.Raw.String)); m != nil {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		return device.Int64(h)
	}
	v := rawValue(e)
	if v == nil {
		return nil
	}
	if strings.Contains(e.Name, "Second") {
		return device.Int64(*v / secondsPerHour)
	}
	if strings.Contains(e.Name, "Minute") {
		return device.Int64(*v / minutesPerHour)
	}
	return v
}

func clampPercent(v int64) int64 {
	return max(0, min(maxPercent, v))
}

func modelOf(out *SmartCtlOutput) string {
	for _, m := range []string{out.ModelName, out.DeviceModel, out.ModelNumber, out.SCSIModelName, out.Product} {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	return ""
}

func isSSD(out *SmartCtlOutput) bool {
	if out.NVMeSmartHealth != nil || out.Device.Protocol == "NVMe" {
		return true
	}
	if out.RotationRate != nil {
		return *out.RotationRate == 0
	}
	model := strings.ToLower(modelOf(out))
	for _, hint := range ssdModelHints {
		if strings.Contains(model, hint) {
			return true
		}
	}
	return false
}

// IsUSB reports whether the device sits behind a USB bridge, either by the
// smartctl device type or by its sysfs path.
func (c *Collector) IsUSB(d Device) bool {
	if strings.HasPrefix(d.Type, "usb") {
		return true
	}
	name := filepath.Base(d.Handle)
	target, err := filepath.EvalSymlinks(filepath.Join(c.sysfsRoot, "block", name))
	if err != nil {
		return false
	}
	return strings.Contains(target, "/usb")
}
