// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/health"
	"github.com/cobaltcore-dev/diskverdict/pkg/monitor"
)

var (
	scanDisksFlag string
	scanJSON      bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle and print the verdict per disk",
	Long:  "Runs one scan cycle against the persisted state. Do not run it against the state directory of a running monitor.",
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig()
		if cmd.Flags().Changed("disks") {
			cfg.General.Disks = strings.Split(scanDisksFlag, ",")
		}
		cfg = mergeMonitorConfigWithEnv(cfg)
		// a one-shot scan never unmounts
		cfg.EmergencyUnmount.Mode = "PASSIVE"

		ctx := context.Background()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("error opening runtime")
		}
		defer rt.Close()

		var (
			once sync.Once
			bar  *progressbar.ProgressBar
		)
		progress := func(_ monitor.Result, total int) {
			once.Do(func() {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("scanning"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish())
			})
			_ = bar.Add(1)
		}

		m, err := rt.newMonitor(monitor.WithProgress(progress))
		if err != nil {
			log.Fatal().Err(err).Msg("error creating monitor")
		}
		results, err := m.ScanOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("scan failed")
		}
		if bar != nil {
			_ = bar.Finish()
		}

		if scanJSON {
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("error marshalling results")
			}
			fmt.Println(string(out))
			return
		}
		printResults(os.Stdout, results)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanDisksFlag, "disks", "*", "Comma separated list of disks to scan, * to discover")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the full results as JSON")
}

func printResults(w io.Writer, results []monitor.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tDISK\tREAD\tSCORE\tSTATUS\tGDC\tINSTABILITY\tTEMP\tPOWER ON\tWRITTEN\tALERTS")
	for _, r := range results {
		score, status, temp, age, written := "-", "-", "-", "-", "-"
		if r.Health != nil {
			score = fmt.Sprintf("%d (%s)", r.Health.Total, health.Rating(r.Health.Total))
		}
		if r.Decision != nil {
			status = r.Decision.Status.String()
		}
		if s := r.Snapshot; s != nil {
			if s.Temperature != nil {
				temp = fmt.Sprintf("%d°C", *s.Temperature)
			}
			if s.PowerOnHours != nil {
				age = humanize.Comma(*s.PowerOnHours) + "h"
			}
			if s.BytesWritten != nil && *s.BytesWritten >= 0 {
				written = humanize.Bytes(uint64(*s.BytesWritten))
			}
		}
		instability := fmt.Sprintf("%d", r.Instability.Score)
		if r.Instability.Locked {
			instability += " (locked)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Identity.Handle, r.DiskID, r.Outcome, score, status, r.GDC, instability, temp, age, written, r.AlertStatus)
	}
	tw.Flush()

	for _, r := range results {
		if r.Decision == nil || len(r.Decision.Reasons) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%s):\n", r.Identity.Handle, r.Decision.Status)
		for _, reason := range r.Decision.Reasons {
			fmt.Fprintf(w, "  - %s\n", reason)
		}
		for _, action := range r.Decision.RecommendedActions {
			fmt.Fprintf(w, "  > %s\n", action)
		}
		for _, note := range r.Decision.Notes {
			fmt.Fprintf(w, "  * %s\n", note)
		}
	}
}
