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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
)

const envPrefix = "DISKVERDICT"

type GeneralConfig struct {
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	NodeName        string        `mapstructure:"node_name"`
	Disks           []string      `mapstructure:"disks"`
	Workers         int           `mapstructure:"workers"`
}

type HealthAlertsConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	ScoreChangeThreshold   int  `mapstructure:"score_change_threshold"`
	CriticalScoreThreshold int  `mapstructure:"critical_score_threshold"`
}

type SmartAlertsConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	ReallocatedMilestones []int64 `mapstructure:"reallocated_milestones"`
	PendingMilestones     []int64 `mapstructure:"pending_milestones"`
}

type TemperatureAlertsConfig struct {
	Enabled             bool  `mapstructure:"enabled"`
	ConsecutiveReadings int   `mapstructure:"consecutive_readings"`
	SSDWarning          int64 `mapstructure:"ssd_warning"`
	SSDCritical         int64 `mapstructure:"ssd_critical"`
	HDDWarning          int64 `mapstructure:"hdd_warning"`
	HDDCritical         int64 `mapstructure:"hdd_critical"`
	AlertOnNormalize    bool  `mapstructure:"alert_on_normalize"`
}

type GDCConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Dir             string `mapstructure:"dir"`
	RetentionSizeKB int    `mapstructure:"retention_size_kb"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

type EmergencyUnmountConfig struct {
	Mode            string   `mapstructure:"mode"`
	CooldownMinutes int      `mapstructure:"cooldown_minutes"`
	ProtectedPaths  []string `mapstructure:"protected_paths"`
}

type StateConfig struct {
	Backend        string `mapstructure:"backend"`
	Dir            string `mapstructure:"dir"`
	KVBucketPrefix string `mapstructure:"kv_bucket_prefix"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Subject  string `mapstructure:"subject"`
	Embedded bool   `mapstructure:"embedded"`
	StoreDir string `mapstructure:"store_dir"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HistoryConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type ArchiveConfig struct {
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
}

type Config struct {
	General           GeneralConfig           `mapstructure:"general"`
	HealthAlerts      HealthAlertsConfig      `mapstructure:"health_alerts"`
	SmartAlerts       SmartAlertsConfig       `mapstructure:"smart_alerts"`
	TemperatureAlerts TemperatureAlertsConfig `mapstructure:"temperature_alerts"`
	GDC               GDCConfig               `mapstructure:"gdc"`
	Logging           LoggingConfig           `mapstructure:"logging"`
	EmergencyUnmount  EmergencyUnmountConfig  `mapstructure:"emergency_unmount"`
	State             StateConfig             `mapstructure:"state"`
	NATS              NATSConfig              `mapstructure:"nats"`
	Prometheus        PrometheusConfig        `mapstructure:"prometheus"`
	History           HistoryConfig           `mapstructure:"history"`
	Archive           ArchiveConfig           `mapstructure:"archive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.polling_interval", "60s")
	v.SetDefault("general.node_name", "")
	v.SetDefault("general.disks", []string{})
	v.SetDefault("general.workers", 4)

	v.SetDefault("health_alerts.enabled", true)
	v.SetDefault("health_alerts.score_change_threshold", 3)
	v.SetDefault("health_alerts.critical_score_threshold", 40)

	v.SetDefault("smart_alerts.enabled", true)
	v.SetDefault("smart_alerts.reallocated_milestones", []int64{5, 10, 100, 1000, 10000})
	v.SetDefault("smart_alerts.pending_milestones", []int64{1, 5, 10, 50, 100})

	v.SetDefault("temperature_alerts.enabled", true)
	v.SetDefault("temperature_alerts.consecutive_readings", 4)
	v.SetDefault("temperature_alerts.ssd_warning", 60)
	v.SetDefault("temperature_alerts.ssd_critical", 70)
	v.SetDefault("temperature_alerts.hdd_warning", 50)
	v.SetDefault("temperature_alerts.hdd_critical", 60)
	v.SetDefault("temperature_alerts.alert_on_normalize", true)

	v.SetDefault("gdc.enabled", true)

	v.SetDefault("logging.dir", "/var/lib/diskverdict/logs")
	v.SetDefault("logging.retention_size_kb", 1024)
	v.SetDefault("logging.retention_days", 365)

	v.SetDefault("emergency_unmount.mode", string(guard.ModePassive))
	v.SetDefault("emergency_unmount.cooldown_minutes", 30)
	v.SetDefault("emergency_unmount.protected_paths", guard.DefaultProtectedPaths)

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.dir", "/var/lib/diskverdict/state")
	v.SetDefault("state.kv_bucket_prefix", "diskverdict")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "diskverdict.events")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.store_dir", "/var/lib/diskverdict/nats")

	v.SetDefault("prometheus.enabled", false)
	v.SetDefault("prometheus.port", 8080)

	v.SetDefault("history.db_path", "/var/lib/diskverdict/alerts.db")
	v.SetDefault("history.retention_days", 365)
}

// Loader reads the YAML config file and keeps watching it.
type Loader struct {
	v    *viper.Viper
	path string
}

func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, path: path}
}

// Load reads the config file, if any, on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with every valid revision of the config file. Invalid
// revisions are logged and the previous config stays in effect.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config_reload_failed")
			return
		}
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config_reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := NewLoader("").decode()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.General.PollingInterval <= 0 {
		errs = append(errs, errors.New("general.polling_interval must be positive"))
	}
	if c.General.Workers < 1 {
		errs = append(errs, errors.New("general.workers must be at least 1"))
	}
	switch c.State.Backend {
	case "file", "nats":
	default:
		errs = append(errs, fmt.Errorf("state.backend must be file or nats, got %q", c.State.Backend))
	}
	if c.TemperatureAlerts.ConsecutiveReadings < 1 {
		errs = append(errs, errors.New("temperature_alerts.consecutive_readings must be at least 1"))
	}
	if c.EmergencyUnmount.CooldownMinutes < 0 {
		errs = append(errs, errors.New("emergency_unmount.cooldown_minutes must not be negative"))
	}
	return errors.Join(errs...)
}

// Alerts converts the alert sections into the alert engine's config.
func (c *Config) Alerts() alerts.Config {
	return alerts.Config{
		ScoreEnabled:          c.HealthAlerts.Enabled,
		ScoreChangeThreshold:  c.HealthAlerts.ScoreChangeThreshold,
		CriticalScore:         c.HealthAlerts.CriticalScoreThreshold,
		MilestonesEnabled:     c.SmartAlerts.Enabled,
		ReallocatedMilestones: c.SmartAlerts.ReallocatedMilestones,
		PendingMilestones:     c.SmartAlerts.PendingMilestones,
		TemperatureEnabled:    c.TemperatureAlerts.Enabled,
		TemperatureReadings:   c.TemperatureAlerts.ConsecutiveReadings,
		SSD:                   alerts.TemperatureThresholds{Warning: c.TemperatureAlerts.SSDWarning, Critical: c.TemperatureAlerts.SSDCritical},
		HDD:                   alerts.TemperatureThresholds{Warning: c.TemperatureAlerts.HDDWarning, Critical: c.TemperatureAlerts.HDDCritical},
		AlertOnNormalize:      c.TemperatureAlerts.AlertOnNormalize,
		GDCEnabled:            c.GDC.Enabled,
	}
}

// SafetyMode never returns ACTIVE unless the config says so explicitly.
func (c *Config) SafetyMode() guard.Mode {
	mode := guard.ParseMode(c.EmergencyUnmount.Mode)
	if string(mode) != strings.ToUpper(strings.TrimSpace(c.EmergencyUnmount.Mode)) {
		log.Warn().Str("mode", c.EmergencyUnmount.Mode).Msg("unknown_safety_mode_using_passive")
	}
	return mode
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.EmergencyUnmount.CooldownMinutes) * time.Minute
}

// ArchiveTarget returns the S3 settings, or false when archival is off.
func (c *Config) ArchiveTarget() (history.ArchiveConfig, bool) {
	if c.Archive.S3Bucket == "" {
		return history.ArchiveConfig{}, false
	}
	return history.ArchiveConfig{
		Bucket:    c.Archive.S3Bucket,
		Prefix:    c.Archive.S3Prefix,
		Region:    c.Archive.S3Region,
		Endpoint:  c.Archive.S3Endpoint,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
	}, true
}
