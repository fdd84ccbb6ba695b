// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cobaltcore-dev/diskverdict/pkg/acquisition"
	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/config"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
	"github.com/cobaltcore-dev/diskverdict/pkg/monitor"
	"github.com/cobaltcore-dev/diskverdict/pkg/store"
)

// loadConfig returns the configuration read by the root command.
func loadConfig() (*config.Loader, *config.Config) {
	if activeConfig == nil {
		loader, cfg, err := readConfig(configFilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("config_load_failed")
		}
		activeLoader, activeConfig = loader, cfg
	}
	return activeLoader, activeConfig
}

// diskList turns the configured disks into a fixed device list. An empty
// list or "*" means discovery.
func diskList(disks []string) []string {
	var out []string
	for _, d := range disks {
		d = strings.TrimSpace(d)
		if d == "" || d == "*" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func nodeName(cfg *config.Config) string {
	if cfg.General.NodeName != "" {
		return cfg.General.NodeName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func openStore(cfg *config.Config) (store.Store, *store.KVStore, error) {
	if cfg.State.Backend != "nats" {
		s, err := store.NewFileStore(cfg.State.Dir)
		return s, nil, err
	}
	var (
		kv  *store.KVStore
		err error
	)
	if cfg.NATS.Embedded || cfg.NATS.URL == "" {
		kv, err = store.StartEmbeddedKVStore(cfg.NATS.StoreDir, cfg.State.KVBucketPrefix)
	} else {
		kv, err = store.ConnectKVStore(cfg.NATS.URL, cfg.State.KVBucketPrefix)
	}
	if err != nil {
		return nil, nil, err
	}
	return kv, kv, nil
}

func openEventLog(ctx context.Context, cfg *config.Config) (*history.EventLog, error) {
	var opts []history.EventLogOption
	if target, ok := cfg.ArchiveTarget(); ok {
		archiver, err := history.NewS3Archiver(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("error setting up event log archival: %w", err)
		}
		opts = append(opts, history.WithArchiver(archiver))
	}
	return history.NewEventLog(cfg.Logging.Dir, cfg.Logging.RetentionSizeKB, cfg.Logging.RetentionDays, opts...)
}

func newExecutor(cfg *config.Config) *guard.Executor {
	g := guard.New(guard.SystemMounts{},
		guard.WithCooldown(cfg.Cooldown()),
		guard.WithProtectedPaths(cfg.EmergencyUnmount.ProtectedPaths))
	return guard.NewExecutor(g, guard.CommandUnmounter{}, cfg.SafetyMode())
}

// runtime owns the stores and sinks shared by the commands.
type runtime struct {
	cfg        *config.Config
	store      store.Store
	kv         *store.KVStore
	events     *history.EventLog
	alertLog   *history.AlertLog
	dispatcher *monitor.NatsDispatcher
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	st, kv, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening state store: %w", err)
	}
	rt := &runtime{cfg: cfg, store: st, kv: kv}

	rt.events, err = openEventLog(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.alertLog, err = history.OpenAlertLog(cfg.History.DBPath)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// connectDispatcher publishes to the configured NATS server, or to the
// embedded one behind the KV store.
func (rt *runtime) connectDispatcher() error {
	switch {
	case rt.cfg.NATS.URL != "" && !rt.cfg.NATS.Embedded:
		d, err := monitor.ConnectNatsDispatcher(rt.cfg.NATS.URL, rt.cfg.NATS.Subject)
		if err != nil {
			return err
		}
		rt.dispatcher = d
	case rt.kv != nil && rt.kv.Conn() != nil:
		rt.dispatcher = monitor.NewNatsDispatcher(rt.kv.Conn(), rt.cfg.NATS.Subject)
	}
	return nil
}

func (rt *runtime) newMonitor(opts ...monitor.Option) (*monitor.Monitor, error) {
	deps := monitor.Deps{
		Acquirer: acquisition.NewCollector(acquisition.WithDevices(diskList(rt.cfg.General.Disks))),
		Store:    rt.store,
		Alerts:   alerts.NewEngine(rt.cfg.Alerts()),
		Executor: newExecutor(rt.cfg),
		Events:   rt.events,
		AlertLog: rt.alertLog,
		Host:     instability.SystemHost{},
	}
	if rt.dispatcher != nil {
		deps.Dispatcher = rt.dispatcher
	}
	return monitor.New(monitor.Config{
		NodeName:   nodeName(rt.cfg),
		Interval:   rt.cfg.General.PollingInterval,
		Workers:    rt.cfg.General.Workers,
		Prometheus: rt.cfg.Prometheus.Enabled,
	}, deps, opts...)
}

// prune applies the retention of the event log and the alert history.
func (rt *runtime) prune(ctx context.Context) (int, int64, error) {
	files, errEvents := rt.events.Prune(ctx)
	retention := time.Duration(rt.cfg.History.RetentionDays) * 24 * time.Hour
	rows, errAlerts := rt.alertLog.Prune(ctx, retention)
	return files, rows, errors.Join(errEvents, errAlerts)
}

func (rt *runtime) Close() {
	if rt.dispatcher != nil {
		rt.dispatcher.Close()
	}
	if rt.alertLog != nil {
		if err := rt.alertLog.Close(); err != nil {
			log.Error().Err(err).Msg("error closing alert history")
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing state store")
		}
	}
}
