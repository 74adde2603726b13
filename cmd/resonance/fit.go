// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/refit"
)

func newFitCommand(a *app) *cobra.Command {
	var (
		k        int
		snapshot string
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit clusters over the catalog and write the cluster snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := refit.SourceFromConfig(a.cfg)
			if k > 0 {
				src.Cluster.K = k
			}
			if snapshot != "" {
				src.Snapshot.Path = snapshot
			}
			if src.Snapshot.Path == "" {
				return errors.New("no snapshot path: set snapshot.path or pass --snapshot")
			}
			src.Snapshot.Enabled = true

			m, err := refit.NewBuilder(src, logging.Logger()).Build(cmd.Context(), false)
			if err != nil {
				return err
			}
			sizes := m.Clusters.Sizes()
			fmt.Fprintf(cmd.OutOrStdout(), "model %s: %d tracks, %d clusters, snapshot %s\n",
				m.Version(), m.Catalog.Len(), m.Clusters.K(), src.Snapshot.Path)
			for c, n := range sizes {
				fmt.Fprintf(cmd.OutOrStdout(), "  cluster %2d  %5d tracks  density %.3f\n", c, n, m.Clusters.Density(c))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "clusters", "k", 0, "override cluster.k")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "override snapshot.path")
	return cmd
}
