// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	eventFileName = "events.jsonl"

	DefaultMaxSizeKB     = 1024
	DefaultRetentionDays = 365
)

// EventType tags a line of the per-device event log.
type EventType string

const (
	EventScan              EventType = "SCAN"
	EventGDCTransition     EventType = "GDC_TRANSITION"
	EventSystem            EventType = "SYSTEM_EVENT"
	EventGuard             EventType = "EMERGENCY_GUARD"
	EventAlert             EventType = "ALERT"
	EventDeviceAdded       EventType = "DEVICE_ADDED"
	EventDeviceRemoved     EventType = "DEVICE_REMOVED"
	EventDeviceReconnected EventType = "DEVICE_RECONNECTED"
	EventPathChanged       EventType = "PATH_CHANGED"
	EventUSBDisconnected   EventType = "USB_DISCONNECTED"
	EventDeviceStuck       EventType = "DEVICE_STUCK"
	EventStateReidentified EventType = "STATE_REIDENTIFIED"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	DiskID    string         `json:"disk_id"`
	Type      EventType      `json:"event_type"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Archiver receives rotated files before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, diskID, path string) error
}

// EventLog is an append-only NDJSON log per device under <dir>/<disk_id>/.
// The active file is rotated once it reaches the size limit; rotated files
// older than the retention period are archived (if configured) and removed.
type EventLog struct {
	dir           string
	maxSize       int64
	retentionDays int
	archiver      Archiver
	now           func() time.Time

	mu sync.Mutex
}

type EventLogOption func(*EventLog)

func WithArchiver(a Archiver) EventLogOption {
	return func(l *EventLog) { l.archiver = a }
}

func WithEventClock(now func() time.Time) EventLogOption {
	return func(l *EventLog) { l.now = now }
}

func NewEventLog(dir string, maxSizeKB, retentionDays int, opts ...EventLogOption) (*EventLog, error) {
	if maxSizeKB <= 0 {
		maxSizeKB = DefaultMaxSizeKB
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("error creating log directory: %w", err)
	}
	l := &EventLog{
		dir:           dir,
		maxSize:       int64(maxSizeKB) * 1024,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *EventLog) diskDir(diskID string) string {
	return filepath.Join(l.dir, filepath.Base(diskID))
}

// Append writes ev as one line. Timestamp defaults to now.
func (l *EventLog) Append(diskID string, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	ev.DiskID = diskID
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.diskDir(diskID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating log directory: %w", err)
	}
	path := filepath.Join(dir, eventFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("error opening event log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("error writing event log: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return fmt.Errorf("error checking event log size: %w", err)
	}
	if info.Size() >= l.maxSize {
		if _, err := rotateLogFile(path, l.now()); err != nil {
			return err
		}
	}
	return nil
}

// AppendAll writes ev to the log of every listed device.
func (l *EventLog) AppendAll(diskIDs []string, ev Event) {
	for _, id := range diskIDs {
		if err := l.Append(id, ev); err != nil {
			log.Error().Err(err).Str("disk", id).Msg("event_log_write_failed")
		}
	}
}

// Read returns the events of a device newer than since, oldest first,
// including rotated files. Lines that fail to decode are skipped.
func (l *EventLog) Read(diskID string, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.diskDir(diskID), eventFileName+"*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		// the active file has no suffix and is the newest
		if strings.HasSuffix(files[i], eventFileName) {
			return false
		}
		if strings.HasSuffix(files[j], eventFileName) {
			return true
		}
		return files[i] < files[j]
	})

	var out []Event
	for _, p := range files {
		f, err := os.Open(p)
		if err != nil {
			log.Warn().Err(err).Str("file", p).Msg("skipping unreadable event log")
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			var ev Event
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				continue
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			out = append(out, ev)
		}
		f.Close()
	}
	return out, nil
}

// Last returns the newest event of the given type, if any.
func (l *EventLog) Last(diskID string, t EventType) (Event, bool, error) {
	events, err := l.Read(diskID, time.Time{})
	if err != nil {
		return Event{}, false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true, nil
		}
	}
	return Event{}, false, nil
}

// Prune applies the retention policy to every device directory and returns
// the number of removed files.
func (l *EventLog) Prune(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("error listing log directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n := deleteOldLogs(ctx, filepath.Join(l.dir, e.Name(), eventFileName), e.Name(), l.retentionDays, l.now(), l.archiver)
		removed += n
	}
	return removed, nil
}

// DiskIDs lists every device with a log directory.
func (l *EventLog) DiskIDs() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
