// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
)

const sampleConfig = `
general:
  polling_interval: 30s
  node_name: storage-01
  disks: [sda, sdb]
health_alerts:
  score_change_threshold: 5
smart_alerts:
  reallocated_milestones: [1, 50]
temperature_alerts:
  hdd_warning: 45
emergency_unmount:
  mode: active
  cooldown_minutes: 10
state:
  backend: nats
archive:
  s3_bucket: disk-logs
  s3_prefix: node1
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "diskverdict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.General.PollingInterval)
	assert.Equal(t, 4, cfg.General.Workers)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, 1024, cfg.Logging.RetentionSizeKB)
	assert.Equal(t, 365, cfg.Logging.RetentionDays)
	assert.Equal(t, guard.ModePassive, cfg.SafetyMode())
	assert.Equal(t, 30*time.Minute, cfg.Cooldown())
	assert.Equal(t, guard.DefaultProtectedPaths, cfg.EmergencyUnmount.ProtectedPaths)
	assert.Equal(t, alerts.DefaultConfig(), cfg.Alerts())

	_, ok := cfg.ArchiveTarget()
	assert.False(t, ok)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.General.PollingInterval)
	assert.Equal(t, "storage-01", cfg.General.NodeName)
	assert.Equal(t, []string{"sda", "sdb"}, cfg.General.Disks)
	assert.Equal(t, "nats", cfg.State.Backend)
	assert.Equal(t, guard.ModeActive, cfg.SafetyMode())
	assert.Equal(t, 10*time.Minute, cfg.Cooldown())

	ac := cfg.Alerts()
	assert.Equal(t, 5, ac.ScoreChangeThreshold)
	assert.Equal(t, 40, ac.CriticalScore)
	assert.Equal(t, []int64{1, 50}, ac.ReallocatedMilestones)
	assert.Equal(t, []int64{1, 5, 10, 50, 100}, ac.PendingMilestones)
	assert.Equal(t, int64(45), ac.HDD.Warning)
	assert.Equal(t, int64(60), ac.HDD.Critical)

	target, ok := cfg.ArchiveTarget()
	require.True(t, ok)
	assert.Equal(t, "disk-logs", target.Bucket)
	assert.Equal(t, "node1", target.Prefix)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISKVERDICT_GENERAL_NODE_NAME", "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.General.NodeName)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, t.TempDir(), "state:\n  backend: etcd\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.backend")

	_, err = Load(writeConfig(t, t.TempDir(), "general:\n  polling_interval: 0s\n  workers: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling_interval")
	assert.Contains(t, err.Error(), "workers")
}

func TestSafetyModeFallsBackToPassive(t *testing.T) {
	for _, mode := range []string{"", "activ", "yes", "ACTIVE!"} {
		cfg := Default()
		cfg.EmergencyUnmount.Mode = mode
		assert.Equal(t, guard.ModePassive, cfg.SafetyMode(), mode)
	}
}

func TestWatchReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var threshold atomic.Int64
	loader.Watch(func(c *Config) {
		threshold.Store(int64(c.HealthAlerts.ScoreChangeThreshold))
	})

	updated := "health_alerts:\n  score_change_threshold: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool { return threshold.Load() == 9 }, 5*time.Second, 50*time.Millisecond)
}
