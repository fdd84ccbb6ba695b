// Copyright 2024 Clyso GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acquisition

// SmartCtlScanOutput is the result of `smartctl --scan-open -j`.
type SmartCtlScanOutput struct {
	JSONFormatVersion []int64          `json:"json_format_version"`
	Smartctl          SmartCtlDetails  `json:"smartctl"`
	Devices           []SmartCtlDevice `json:"devices"`
}

// SmartCtlOutput holds the subset of `smartctl --json` output the collector
// maps into a snapshot. Optional sections are pointers so that a missing
// section is distinguishable from a reported zero.
type SmartCtlOutput struct {
	Device             SmartCtlDevice                  `json:"device"`
	DeviceModel        string                          `json:"device_model,omitempty"`
	ModelName          string                          `json:"model_name,omitempty"`
	ModelNumber        string                          `json:"model_number,omitempty"`
	SCSIModelName      string                          `json:"scsi_model_name,omitempty"`
	Product            string                          `json:"product,omitempty"`
	SerialNumber       string                          `json:"serial_number,omitempty"`
	FirmwareVersion    string                          `json:"firmware_version,omitempty"`
	RotationRate       *int64                          `json:"rotation_rate,omitempty"`
	UserCapacity       *SmartCtlUserCapacity           `json:"user_capacity,omitempty"`
	NVMeTotalCapacity  int64                           `json:"nvme_total_capacity,omitempty"`
	SmartSupport       *SmartCtlSmartSupport           `json:"smart_support,omitempty"`
	SmartStatus        *SmartCtlSmartStatus            `json:"smart_status,omitempty"`
	Temperature        *SmartCtlTemperature            `json:"temperature,omitempty"`
	PowerOnTime        *SmartCtlPowerOnTime            `json:"power_on_time,omitempty"`
	PowerCycleCount    *int64                          `json:"power_cycle_count,omitempty"`
	ATASMARTAttributes *SmartCtlATASMARTAttributes     `json:"ata_smart_attributes,omitempty"`
	NVMeSmartHealth    *SmartCtlNVMeSmartHealthInfoLog `json:"nvme_smart_health_information_log,omitempty"`
	SCSIGrownDefects   *int64                          `json:"scsi_grown_defect_list,omitempty"`
	SCSIErrorCounters  *SmartCtlSCSIErrorCounterLog    `json:"scsi_error_counter_log,omitempty"`
	SCSIStartStop      *SmartCtlSCSIStartStopCycle     `json:"scsi_start_stop_cycle_counter,omitempty"`
	Trim               *SmartCtlTrimSupport            `json:"trim,omitempty"`
	Smartctl           SmartCtlDetails                 `json:"smartctl"`
}

type SmartCtlATASMARTAttributes struct {
	Revision int64                   `json:"revision"`
	Table    []SmartCtlATASMARTEntry `json:"table"`
}

type SmartCtlATASMARTEntry struct {
	ID         int64               `json:"id"`
	Name       string              `json:"name"`
	Value      int64               `json:"value"`
	Worst      int64               `json:"worst"`
	Thresh     int64               `json:"thresh"`
	WhenFailed string              `json:"when_failed,omitempty"`
	Raw        SmartCtlATASMARTRaw `json:"raw"`
}

// SmartCtlATASMARTRaw carries the raw counter. Bridges report all-ones
// values here, so Value is unsigned.
type SmartCtlATASMARTRaw struct {
	Value  uint64 `json:"value"`
	String string `json:"string"`
}

type SmartCtlDevice struct {
	InfoName string `json:"info_name"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Type     string `json:"type"`
}

type SmartCtlTrimSupport struct {
	Supported bool `json:"supported"`
}

type SmartCtlPowerOnTime struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes,omitempty"`
}

type SmartCtlSCSIErrorCounterLog struct {
	Read   SmartCtlSCSIErrorDetails `json:"read"`
	Verify SmartCtlSCSIErrorDetails `json:"verify"`
	Write  SmartCtlSCSIErrorDetails `json:"write"`
}

type SmartCtlSCSIErrorDetails struct {
	TotalErrorsCorrected   int64 `json:"total_errors_corrected"`
	TotalUncorrectedErrors int64 `json:"total_uncorrected_errors"`
}

type SmartCtlSCSIStartStopCycle struct {
	AccumulatedLoadUnloadCycles int64 `json:"accumulated_load_unload_cycles"`
	AccumulatedStartStopCycles  int64 `json:"accumulated_start_stop_cycles"`
}

type SmartCtlNVMeSmartHealthInfoLog struct {
	AvailableSpare   int64  `json:"available_spare"`
	CriticalWarning  int64  `json:"critical_warning"`
	DataUnitsWritten uint64 `json:"data_units_written"`
	MediaErrors      int64  `json:"media_errors"`
	PercentageUsed   int64  `json:"percentage_used"`
	PowerCycles      int64  `json:"power_cycles"`
	PowerOnHours     int64  `json:"power_on_hours"`
	Temperature      int64  `json:"temperature"`
	UnsafeShutdowns  int64  `json:"unsafe_shutdowns"`
}

type SmartCtlSmartStatus struct {
	Passed bool `json:"passed"`
}

type SmartCtlSmartSupport struct {
	Available bool `json:"available"`
	Enabled   bool `json:"enabled"`
}

type SmartCtlDetails struct {
	Argv       []string          `json:"argv"`
	ExitStatus int64             `json:"exit_status"`
	Messages   []SmartCtlMessage `json:"messages,omitempty"`
	Version    []int64           `json:"version"`
}

type SmartCtlMessage struct {
	String   string `json:"string"`
	Severity string `json:"severity"`
}

type SmartCtlTemperature struct {
	Current int64 `json:"current"`
}

type SmartCtlUserCapacity struct {
	Blocks int64 `json:"blocks"`
	Bytes  int64 `json:"bytes"`
}
