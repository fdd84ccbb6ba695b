// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/alerts"
	"github.com/cobaltcore-dev/diskverdict/pkg/history"
)

var (
	alertsHours  int
	alertsDBPath string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent alerts from the alert history",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		if cmd.Flags().Changed("db") {
			cfg.History.DBPath = alertsDBPath
		}
		l, err := history.OpenAlertLog(cfg.History.DBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening alert history")
		}
		defer l.Close()

		ctx := context.Background()
		recent, err := l.Recent(ctx, alertsHours)
		if err != nil {
			log.Fatal().Err(err).Msg("error reading alert history")
		}
		counts, err := l.Count(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("error counting alerts")
		}
		printAlerts(os.Stdout, recent, counts, alertsHours, time.Now())
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsHours, "hours", 24, "Show alerts of the last N hours")
	alertsCmd.Flags().StringVar(&alertsDBPath, "db", "", "Path of the alert history database")
}

func printAlerts(w io.Writer, recent []alerts.Alert, counts map[alerts.Severity]int, hours int, now time.Time) {
	if len(recent) == 0 {
		fmt.Fprintf(w, "No alerts in the last %d hours.\n", hours)
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tSEVERITY\tDISK\tTYPE\tMESSAGE")
		for _, a := range recent {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				humanize.RelTime(a.Timestamp, now, "ago", "from now"), a.Severity, a.DiskID, a.Type, a.Message)
		}
		tw.Flush()
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(w, "\n%s alerts stored: %d critical, %d high, %d warning, %d info\n",
		humanize.Comma(int64(total)),
		counts[alerts.SeverityCritical], counts[alerts.SeverityHigh], counts[alerts.SeverityWarning], counts[alerts.SeverityInfo])
}
