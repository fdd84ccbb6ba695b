// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/acquisition"
	"github.com/cobaltcore-dev/diskverdict/pkg/config"
)

const retentionInterval = 24 * time.Hour

var (
	monNatsURL     string
	monNatsSubject string
	monPromEnabled bool
	monPromPort    int
	monDisksFlag   string
	monNodeName    string
	monInterval    int
	monWorkers     int
	monSafetyMode  string
	monStateDir    string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously scan disks, raise alerts and guard emergency unmounts",
	Run: func(cmd *cobra.Command, args []string) {
		loader, cfg := loadConfig()
		applyMonitorFlags(cmd, cfg)
		cfg = mergeMonitorConfigWithEnv(cfg)

		event := log.Info()
		event.Bool("use_nats", cfg.NATS.URL != "" || cfg.NATS.Embedded)
		if cfg.NATS.URL != "" {
			event.Str("nats_url", cfg.NATS.URL)
			event.Str("nats_subject", cfg.NATS.Subject)
		}
		event.Bool("prometheus_enabled", cfg.Prometheus.Enabled)
		if cfg.Prometheus.Enabled {
			event.Int("prometheus_port", cfg.Prometheus.Port)
		}
		event.Str("disks", fmt.Sprintf("%v", cfg.General.Disks)).
			Str("node_name", nodeName(cfg)).
			Dur("interval", cfg.General.PollingInterval).
			Int("workers", cfg.General.Workers).
			Str("safety_mode", string(cfg.SafetyMode())).
			Str("state_backend", cfg.State.Backend).
			Msg("configuration_loaded")

		validateMonitorConfig(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening runtime")
		}
		defer rt.Close()
		if err := rt.connectDispatcher(); err != nil {
			log.Fatal().Err(err).Msg("error connecting to nats")
		}

		m, err := rt.newMonitor()
		if err != nil {
			log.Fatal().Err(err).Msg("error creating monitor")
		}

		if cfg.Prometheus.Enabled {
			srv := m.StartStatusServer(cfg.Prometheus.Port)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		loader.Watch(func(next *config.Config) {
			applyMonitorFlags(cmd, next)
			next = mergeMonitorConfigWithEnv(next)
			m.Alerts().SetConfig(next.Alerts())
			m.Executor().SetMode(next.SafetyMode())
			log.Info().Str("safety_mode", string(next.SafetyMode())).Msg("alert_and_safety_config_applied")
		})

		go runRetention(ctx, rt)

		if err := m.Run(ctx); err != nil {
			log.Error().Err(err).Msg("monitor stopped")
		}
		log.Info().Msg("monitor_shutdown")
	},
}

func runRetention(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			files, rows, err := rt.prune(ctx)
			if err != nil {
				log.Error().Err(err).Msg("retention_failed")
			}
			log.Info().Int("event_files", files).Int64("alert_rows", rows).Msg("retention_complete")
		}
	}
}

// applyMonitorFlags copies explicitly set flags over the file config.
func applyMonitorFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("nats-url") {
		cfg.NATS.URL = monNatsURL
	}
	if flags.Changed("nats-subject") {
		cfg.NATS.Subject = monNatsSubject
	}
	if flags.Changed("prometheus") {
		cfg.Prometheus.Enabled = monPromEnabled
	}
	if flags.Changed("prometheus-port") {
		cfg.Prometheus.Port = monPromPort
	}
	if flags.Changed("disks") {
		cfg.General.Disks = strings.Split(monDisksFlag, ",")
	}
	if flags.Changed("node-name") {
		cfg.General.NodeName = monNodeName
	}
	if flags.Changed("interval") {
		cfg.General.PollingInterval = time.Duration(monInterval) * time.Second
	}
	if flags.Changed("workers") {
		cfg.General.Workers = monWorkers
	}
	if flags.Changed("safety-mode") {
		cfg.EmergencyUnmount.Mode = monSafetyMode
	}
	if flags.Changed("state-dir") {
		cfg.State.Dir = monStateDir
	}
}

func mergeMonitorConfigWithEnv(cfg *config.Config) *config.Config {
	cfg.NATS.URL = envString("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = envString("NATS_SUBJECT", cfg.NATS.Subject)
	cfg.NATS.Embedded = envBool("NATS_EMBEDDED", cfg.NATS.Embedded)
	cfg.Prometheus.Enabled = envBool("PROMETHEUS", cfg.Prometheus.Enabled)
	cfg.Prometheus.Port = envInt("PROMETHEUS_PORT", cfg.Prometheus.Port)
	disksEnv := envString("DISKS", "")
	if disksEnv != "" {
		cfg.General.Disks = strings.Split(disksEnv, ",")
	}
	cfg.General.NodeName = envString("NODE_NAME", cfg.General.NodeName)
	cfg.General.PollingInterval = time.Duration(envInt("INTERVAL", int(cfg.General.PollingInterval/time.Second))) * time.Second
	cfg.General.Workers = envInt("WORKERS", cfg.General.Workers)
	cfg.EmergencyUnmount.Mode = envString("SAFETY_MODE", cfg.EmergencyUnmount.Mode)
	cfg.EmergencyUnmount.CooldownMinutes = envInt("COOLDOWN_MINUTES", cfg.EmergencyUnmount.CooldownMinutes)
	cfg.State.Backend = envString("STATE_BACKEND", cfg.State.Backend)
	cfg.State.Dir = envString("STATE_DIR", cfg.State.Dir)
	cfg.SmartAlerts.ReallocatedMilestones = envInt64List("REALLOCATED_MILESTONES", cfg.SmartAlerts.ReallocatedMilestones)
	cfg.SmartAlerts.PendingMilestones = envInt64List("PENDING_MILESTONES", cfg.SmartAlerts.PendingMilestones)
	cfg.TemperatureAlerts.HDDCritical = envInt64("HDD_CRITICAL_TEMP", cfg.TemperatureAlerts.HDDCritical)
	cfg.TemperatureAlerts.SSDCritical = envInt64("SSD_CRITICAL_TEMP", cfg.TemperatureAlerts.SSDCritical)

	return cfg
}

func init() {
	monitorCmd.Flags().StringVar(&monNatsURL, "nats-url", "", "NATS server URL")
	monitorCmd.Flags().StringVar(&monNatsSubject, "nats-subject", "diskverdict.events", "NATS subject prefix for events")
	monitorCmd.Flags().BoolVar(&monPromEnabled, "prometheus", false, "Enable Prometheus metrics and the status endpoint")
	monitorCmd.Flags().IntVar(&monPromPort, "prometheus-port", 8080, "Prometheus metrics port")
	monitorCmd.Flags().StringVar(&monDisksFlag, "disks", "*", "Comma separated list of disks to monitor, * to discover")
	monitorCmd.Flags().StringVar(&monNodeName, "node-name", "", "Node name reported with metrics and events")
	monitorCmd.Flags().IntVar(&monInterval, "interval", 60, "Interval in seconds between scan cycles")
	monitorCmd.Flags().IntVar(&monWorkers, "workers", 4, "Number of disks scanned in parallel")
	monitorCmd.Flags().StringVar(&monSafetyMode, "safety-mode", "PASSIVE", "Emergency unmount mode (PASSIVE or ACTIVE)")
	monitorCmd.Flags().StringVar(&monStateDir, "state-dir", "/var/lib/diskverdict/state", "Directory of the file state backend")
}

func validateMonitorConfig(cfg *config.Config) {
	missingParams := false

	if !acquisition.CheckSmartctlInstalled() {
		fmt.Println("Warning: smartctl is not installed or not in PATH")
		missingParams = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: %v\n", err)
		missingParams = true
	}

	if missingParams {
		fmt.Println("One or more required parameters are missing. Please provide them through flags or environment variables.")
		os.Exit(1)
	}
}
