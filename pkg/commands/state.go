// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/config"
	"github.com/cobaltcore-dev/diskverdict/pkg/gdc"
	"github.com/cobaltcore-dev/diskverdict/pkg/guard"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
	"github.com/cobaltcore-dev/diskverdict/pkg/instability"
	"github.com/cobaltcore-dev/diskverdict/pkg/monitor"
	"github.com/cobaltcore-dev/diskverdict/pkg/store"
)

// guardCooldownKey matches the key the monitor persists the guard's
// attempt book under.
const guardCooldownKey = "emergency_guard"

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and repair persisted per-disk state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disks with persisted state",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		st := mustOpenStore(cfg)
		defer st.Close()
		if err := listStates(context.Background(), st, os.Stdout, time.Now()); err != nil {
			log.Fatal().Err(err).Msg("error listing state")
		}
	},
}

var stateShowCmd = &cobra.Command{
	Use:   "show <disk>",
	Short: "Print the GDC, instability, alert and baseline records of a disk",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		st := mustOpenStore(cfg)
		defer st.Close()
		ctx := context.Background()
		key, err := resolveKey(ctx, st, args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("unknown disk")
		}
		if err := showState(ctx, st, key, cfg.Cooldown(), time.Now(), os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("error showing state")
		}
	},
}

var stateReidentifyCmd = &cobra.Command{
	Use:   "reidentify <disk>",
	Short: "Release the UNASSESSABLE pin of a disk so it is assessed again",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		st := mustOpenStore(cfg)
		defer st.Close()
		ctx := context.Background()
		events, err := openEventLog(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening event log")
		}
		key, err := resolveKey(ctx, st, args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("unknown disk")
		}
		before, after, err := reidentifyState(ctx, st, events, key)
		if err != nil {
			log.Fatal().Err(err).Msg("error reidentifying disk")
		}
		fmt.Printf("%s: %s -> %s\n", key, before, after)
	},
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateReidentifyCmd)
}

func mustOpenStore(cfg *config.Config) store.Store {
	st, _, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error opening state store")
	}
	return st
}

// resolveKey accepts a disk key or a device handle of a known disk.
func resolveKey(ctx context.Context, st store.Store, arg string) (string, error) {
	keys, err := st.Keys(ctx, store.KindBaseline)
	if err != nil {
		return "", err
	}
	gdcKeys, err := st.Keys(ctx, store.KindGDC)
	if err != nil {
		return "", err
	}
	if slices.Contains(keys, arg) || slices.Contains(gdcKeys, arg) {
		return arg, nil
	}
	handle := arg
	if !strings.HasPrefix(handle, "/dev/") {
		handle = "/dev/" + handle
	}
	for _, k := range keys {
		b, err := store.Get[*monitor.Baseline](ctx, st, store.KindBaseline, k, monitor.BaselineVersion)
		if err != nil {
			continue
		}
		if b.Handle == handle {
			return k, nil
		}
	}
	return "", fmt.Errorf("no state for %q", arg)
}

func listStates(ctx context.Context, st store.Store, w io.Writer, now time.Time) error {
	keys, err := st.Keys(ctx, store.KindGDC)
	if err != nil {
		return err
	}
	slices.Sort(keys)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISK\tDEVICE\tGDC\tINSTABILITY\tSCORE\tLAST SEEN")
	for _, k := range keys {
		device, gdcState, penalty, score, seen := "-", "-", "-", "-", "-"
		if rec, err := store.Get[*gdc.Record](ctx, st, store.KindGDC, k, gdc.RecordVersion); err == nil {
			gdcState = rec.State.String()
		}
		if rec, err := store.Get[*instability.Record](ctx, st, store.KindInstability, k, instability.RecordVersion); err == nil {
			penalty = fmt.Sprintf("%d", rec.Score)
		}
		if b, err := store.Get[*monitor.Baseline](ctx, st, store.KindBaseline, k, monitor.BaselineVersion); err == nil {
			device = b.Handle
			if b.HealthScore != nil {
				score = fmt.Sprintf("%d", *b.HealthScore)
			}
			if !b.LastSeen.IsZero() {
				seen = humanize.RelTime(b.LastSeen, now, "ago", "from now")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", k, device, gdcState, penalty, score, seen)
	}
	return tw.Flush()
}

func printRecord(w io.Writer, title string, v any, err error) {
	fmt.Fprintf(w, "== %s\n", title)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintln(w, "(none)")
		return
	case err != nil:
		fmt.Fprintf(w, "(unreadable: %v)\n", err)
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "(unprintable: %v)\n", err)
		return
	}
	fmt.Fprintln(w, string(out))
}

func showState(ctx context.Context, st store.Store, key string, cooldown time.Duration, now time.Time, w io.Writer) error {
	fmt.Fprintf(w, "disk %s\n", key)

	base, err := store.Get[*monitor.Baseline](ctx, st, store.KindBaseline, key, monitor.BaselineVersion)
	if err == nil {
		fmt.Fprintf(w, "device %s, first seen %s, last seen %s\n", base.Handle,
			humanize.RelTime(base.FirstSeen, now, "ago", "from now"),
			humanize.RelTime(base.LastSeen, now, "ago", "from now"))
		if base.PeakTemperature != nil && base.PeakTemperatureAt != nil {
			fmt.Fprintf(w, "peak temperature %d°C, %s\n", *base.PeakTemperature,
				humanize.RelTime(*base.PeakTemperatureAt, now, "ago", "from now"))
		}
	}

	cooldowns, cerr := store.Get[guard.Cooldowns](ctx, st, store.KindCooldown, guardCooldownKey, 1)
	if cerr == nil {
		if at, ok := cooldowns.Attempts[key]; ok && now.Sub(at) < cooldown {
			fmt.Fprintf(w, "emergency unmount cooldown ends %s\n", humanize.RelTime(at.Add(cooldown), now, "ago", "from now"))
		}
	}

	g, gerr := store.Get[*gdc.Record](ctx, st, store.KindGDC, key, gdc.RecordVersion)
	printRecord(w, "gdc", g, gerr)
	i, ierr := store.Get[*instability.Record](ctx, st, store.KindInstability, key, instability.RecordVersion)
	printRecord(w, "instability", i, ierr)
	a, aerr := store.Get[*alerts.Record](ctx, st, store.KindAlert, key, alerts.RecordVersion)
	printRecord(w, "alerts", a, aerr)
	printRecord(w, "baseline", base, err)

	if errors.Is(gerr, store.ErrNotFound) && errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no state for %q", key)
	}
	return nil
}

// reidentifyState clears the no-capability pin of the GDC record of key.
func reidentifyState(ctx context.Context, st store.Store, events *history.EventLog, key string) (gdc.State, gdc.State, error) {
	rec, err := store.Get[*gdc.Record](ctx, st, store.KindGDC, key, gdc.RecordVersion)
	if err != nil {
		return 0, 0, err
	}
	before := rec.State
	rec.Reidentify()
	if err := store.Put(ctx, st, store.KindGDC, key, gdc.RecordVersion, rec); err != nil {
		return before, before, err
	}
	if events != nil {
		if err := events.Append(key, history.Event{
			Type:    history.EventStateReidentified,
			Message: fmt.Sprintf("GDC state %s reset to %s by operator", before, rec.State),
			Details: map[string]any{"from": before.String(), "to": rec.State.String()},
		}); err != nil {
			log.Error().Err(err).Str("disk", key).Msg("event_append_failed")
		}
	}
	return before, rec.State, nil
}
