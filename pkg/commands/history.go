// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/history"
)

var (
	pruneRetentionDays int
	eventsDiskID       string
	eventsSinceHours   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Event log and alert history maintenance",
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply retention to the event logs and the alert history",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		if cmd.Flags().Changed("retention-days") {
			cfg.History.RetentionDays = pruneRetentionDays
		}
		ctx := context.Background()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening runtime")
		}
		defer rt.Close()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("pruning"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish())
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				case <-time.After(100 * time.Millisecond):
					_ = bar.Add(1)
				}
			}
		}()
		files, rows, err := rt.prune(ctx)
		close(done)
		_ = bar.Finish()
		if err != nil {
			log.Error().Err(err).Msg("error applying retention")
		}

		fmt.Printf("removed %s rotated event log files and %s alerts older than %d days\n",
			humanize.Comma(int64(files)), humanize.Comma(rows), cfg.History.RetentionDays)
	},
}

var historyEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the event log of a disk",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		events, err := openEventLog(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening event log")
		}
		ids := []string{eventsDiskID}
		if eventsDiskID == "" {
			ids, err = events.DiskIDs()
			if err != nil {
				log.Fatal().Err(err).Msg("error listing event logs")
			}
		}
		since := time.Now().Add(-time.Duration(eventsSinceHours) * time.Hour)
		for _, id := range ids {
			evs, err := events.Read(id, since)
			if err != nil {
				log.Error().Err(err).Str("disk", id).Msg("error reading event log")
				continue
			}
			printEvents(id, evs)
		}
	},
}

func printEvents(diskID string, evs []history.Event) {
	if len(evs) == 0 {
		return
	}
	fmt.Printf("== %s\n", diskID)
	for _, ev := range evs {
		fmt.Printf("%s  %-20s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
	}
}

func init() {
	historyPruneCmd.Flags().IntVar(&pruneRetentionDays, "retention-days", 365, "Delete alerts older than this many days")
	historyEventsCmd.Flags().StringVar(&eventsDiskID, "disk", "", "Disk key, all disks when empty")
	historyEventsCmd.Flags().IntVar(&eventsSinceHours, "hours", 24, "Show events of the last N hours")

	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyEventsCmd)
}
