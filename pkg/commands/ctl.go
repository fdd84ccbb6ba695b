// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltcore-dev/diskverdict/pkg/config"
)

var (
	logLevel       string
	configFilePath string

	// Set by the root command before any subcommand runs.
	activeLoader *config.Loader
	activeConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "diskverdict",
	Short:         "Storage device health monitor",
	Long:          "Scores disk health from SMART data, tracks ghost drive conditions and link instability, raises alerts and guards emergency unmounts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setUpLogs(logLevel); err != nil {
			return err
		}
		if inKubernetes() {
			log.Debug().Msg("running_in_pod")
		}
		loader, cfg, err := readConfig(configFilePath)
		if err != nil {
			return err
		}
		activeLoader, activeConfig = loader, cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "verbosity", "v", zerolog.WarnLevel.String(), "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", os.Getenv("DISKVERDICT_CONFIG"), "Path to a YAML configuration file")

	rootCmd.AddCommand(monitorCmd, scanCmd, alertsCmd, stateCmd, historyCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "diskverdict: %s\n", err)
		os.Exit(1)
	}
}

// readConfig loads the file at path on top of the defaults. An empty path
// means defaults and environment only.
func readConfig(path string) (*config.Loader, *config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("config file: %w", err)
		}
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return loader, cfg, nil
}

func setUpLogs(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	return nil
}

func inKubernetes() bool {
	for _, f := range []string{"ca.crt", "token"} {
		if _, err := os.Stat("/run/secrets/kubernetes.io/serviceaccount/" + f); err != nil {
			return false
		}
	}
	_, host := os.LookupEnv("KUBERNETES_SERVICE_HOST")
	_, port := os.LookupEnv("KUBERNETES_SERVICE_PORT")
	return host && port
}

// envOr parses the variable key and returns fallback when it is unset or
// does not parse.
func envOr[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		log.Warn().Str("variable", key).Str("value", raw).Err(err).Msg("env_value_ignored")
		return fallback
	}
	return v
}

func envString(key, fallback string) string {
	return envOr(key, fallback, func(s string) (string, error) { return s, nil })
}

func envInt(key string, fallback int) int {
	return envOr(key, fallback, strconv.Atoi)
}

func envInt64(key string, fallback int64) int64 {
	return envOr(key, fallback, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func envBool(key string, fallback bool) bool {
	return envOr(key, fallback, strconv.ParseBool)
}

// envInt64List reads a comma separated list. One bad element discards the
// whole list.
func envInt64List(key string, fallback []int64) []int64 {
	return envOr(key, fallback, func(s string) ([]int64, error) {
		if strings.TrimSpace(s) == "" {
			return nil, strconv.ErrSyntax
		}
		var out []int64
		for _, part := range strings.Split(s, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	})
}
