// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state shared by subcommands once the root pre-run has loaded
// configuration.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "resonance",
		Short:         "Session-scoped music recommendation engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(
		newServeCommand(a),
		newFitCommand(a),
		newSimulateCommand(a),
		newSearchCommand(a),
	)
	return root
}

func (a *app) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	lc := cfg.Logging.Logging()
	lc.Service = "resonance"
	lc.Version = version
	logging.Init(lc)
	a.cfg = cfg
	return nil
}
