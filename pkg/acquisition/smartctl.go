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

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/device"
)

// smartctl exit status bits, see smartctl(8).
const (
	exitCommandLine  = 1 << 0
	exitDeviceOpen   = 1 << 1
	exitSmartCommand = 1 << 2
)

var readArgs = []string{
	"--json", "--info", "--health", "--attributes",
	"--tolerance=verypermissive", "--nocheck=standby", "--format=brief", "--log=error",
}

// Device is one entry of the discovery scan.
type Device struct {
	Handle   string `json:"handle"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
}

// Runner executes smartctl. The returned output is stdout even when the
// process exits non-zero.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	binary string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, r.binary, args...).Output()
}

// Collector reads devices through smartctl and turns each attempt into a
// device.Reading.
type Collector struct {
	runner    Runner
	sysfsRoot string
	devices   []string
	now       func() time.Time
}

type Option func(*Collector)

func WithRunner(r Runner) Option {
	return func(c *Collector) { c.runner = r }
}

// WithSysfsRoot overrides /sys for USB transport detection.
func WithSysfsRoot(root string) Option {
	return func(c *Collector) { c.sysfsRoot = root }
}

// WithDevices restricts discovery to a fixed list of handles.
func WithDevices(handles []string) Option {
	return func(c *Collector) { c.devices = handles }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

func CheckSmartctlInstalled() bool {
	_, err := exec.LookPath("smartctl")
	return err == nil
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		runner:    execRunner{binary: "smartctl"},
		sysfsRoot: "/sys",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover lists the devices to read this cycle. A configured list wins over
// the smartctl scan.
func (c *Collector) Discover(ctx context.Context) ([]Device, error) {
	if len(c.devices) > 0 {
		out := make([]Device, 0, len(c.devices))
		for _, h := range c.devices {
			if !strings.HasPrefix(h, "/dev/") {
				h = "/dev/" + h
			}
			out = append(out, Device{Handle: h})
		}
		return out, nil
	}

	raw, err := c.runner.Run(ctx, "--scan-open", "-j")
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("error running smartctl --scan-open: %w", err)
	}

	var scan SmartCtlScanOutput
	if err := json.Unmarshal(raw, &scan); err != nil {
		return nil, fmt.Errorf("error parsing smartctl scan output: %w", err)
	}

	out := make([]Device, 0, len(scan.Devices))
	for _, d := range scan.Devices {
		if d.Name == "" {
			continue
		}
		out = append(out, Device{Handle: d.Name, Type: d.Type, Protocol: d.Protocol})
	}
	return out, nil
}

// Read performs one acquisition attempt. The caller bounds it with ctx; a
// deadline hit is reported as OutcomeTimeout, never as an error.
func (c *Collector) Read(ctx context.Context, d Device) device.Reading {
	reading := device.Reading{Identity: device.NewIdentity("", "", d.Handle)}

	args := append([]string{}, readArgs...)
	if d.Type != "" && d.Type != "scsi" && d.Type != "nvme" && d.Type != "ata" {
		args = append(args, "-d", d.Type)
	}
	args = append(args, d.Handle)

	out, err := c.runner.Run(ctx, args...)
	if ctx.Err() != nil {
		reading.Outcome = device.OutcomeTimeout
		reading.Detail = ctx.Err().Error()
		return reading
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		reading.Outcome = device.OutcomeNoPayload
		reading.Detail = err.Error()
		return reading
	}

	if len(bytes.TrimSpace(out)) == 0 {
		reading.Outcome = device.OutcomeNoPayload
		reading.Detail = "smartctl returned no output"
		if c.missing(d.Handle) {
			reading.Outcome = device.OutcomeDisappeared
			reading.Detail = "device node is gone"
		}
		return reading
	}

	result, perr := ParseOutput(out)
	if perr != nil {
		reading.Outcome = device.OutcomeCorrupt
		reading.Detail = perr.Error()
		return reading
	}

	reading.Outcome, reading.Detail = c.classify(d, result)
	if reading.Outcome != device.OutcomeSuccess && reading.Outcome != device.OutcomeNoCapability {
		log.Debug().Str("device", d.Handle).Str("outcome", reading.Outcome.String()).Str("detail", reading.Detail).Msg("smartctl_read_failed")
		return reading
	}

	reading.Snapshot = BuildSnapshot(result, c.IsUSB(d), c.now())
	reading.Snapshot.Identity.Handle = d.Handle
	reading.Identity = reading.Snapshot.Identity
	return reading
}

func (c *Collector) classify(d Device, out *SmartCtlOutput) (device.Outcome, string) {
	status := out.Smartctl.ExitStatus
	switch {
	case status&exitDeviceOpen != 0:
		if c.missing(d.Handle) {
			return device.OutcomeDisappeared, "device node is gone"
		}
		return device.OutcomeNoPayload, firstMessage(out, "device open failed")
	case status&exitCommandLine != 0:
		return device.OutcomeCorrupt, firstMessage(out, "smartctl rejected the command line")
	case out.SmartSupport != nil && !out.SmartSupport.Available:
		return device.OutcomeNoCapability, "device does not support SMART"
	case status&exitSmartCommand != 0 && !hasData(out):
		return device.OutcomeNoPayload, firstMessage(out, "SMART command failed")
	case !hasData(out) && out.SerialNumber == "":
		return device.OutcomeNoPayload, "payload carries no attributes"
	}
	return device.OutcomeSuccess, ""
}

func (c *Collector) missing(handle string) bool {
	_, err := os.Stat(handle)
	return errors.Is(err, os.ErrNotExist)
}

func firstMessage(out *SmartCtlOutput, def string) string {
	for _, m := range out.Smartctl.Messages {
		if m.String != "" {
			return m.String
		}
	}
	return def
}

func hasData(out *SmartCtlOutput) bool {
	return (out.ATASMARTAttributes != nil && len(out.ATASMARTAttributes.Table) > 0) ||
		out.NVMeSmartHealth != nil ||
		out.SCSIGrownDefects != nil ||
		out.SCSIErrorCounters != nil
}

// ParseOutput decodes a smartctl --json payload.
func ParseOutput(raw []byte) (*SmartCtlOutput, error) {
	var out SmartCtlOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error parsing smartctl JSON: %w", err)
	}
	return &out, nil
}

// ReadFile loads a captured smartctl payload, e.g. for offline analysis.
func ReadFile(path string) (*SmartCtlOutput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return ParseOutput(raw)
}
