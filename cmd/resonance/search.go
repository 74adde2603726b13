// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/refit"
)

func newSearchCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Case-insensitive substring search over the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := refit.NewBuilder(refit.SourceFromConfig(a.cfg), logging.Logger()).LoadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range cat.Search(strings.Join(args, " "), limit) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.DisplayName())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}
