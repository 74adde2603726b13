// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/recommend"
	"github.com/tomtom215/resonance/internal/refit"
)

// SimulationOptions scripts one listener.
type SimulationOptions struct {
	UserID       string
	CollectionID string
	// SeedTrack seeds the session when set.
	SeedTrack string
	// TargetCluster is the cluster the listener enjoys. Tracks from it are
	// played to the end; everything else is skipped after SkipSeconds.
	TargetCluster int
	SkipSeconds   float64
	Steps         int
}

// SimulationStep is one served track and the scripted reaction.
type SimulationStep struct {
	Step       int     `json:"step" yaml:"step"`
	TrackID    string  `json:"track_id" yaml:"track_id"`
	Cluster    int     `json:"cluster" yaml:"cluster"`
	Mode       string  `json:"mode" yaml:"mode"`
	Reason     string  `json:"reason" yaml:"reason"`
	Probe      bool    `json:"probe" yaml:"probe"`
	Score      float64 `json:"score" yaml:"score"`
	Hit        bool    `json:"hit" yaml:"hit"`
	Engagement string  `json:"engagement" yaml:"engagement"`
}

// SimulationReport is the trace of a scripted session.
type SimulationReport struct {
	ModelVersion  string           `json:"model_version" yaml:"model_version"`
	TargetCluster int              `json:"target_cluster" yaml:"target_cluster"`
	Steps         []SimulationStep `json:"steps" yaml:"steps"`
	Hits          int              `json:"hits" yaml:"hits"`
	HitRate       float64          `json:"hit_rate" yaml:"hit_rate"`
	// FirstHit is the 1-based step of the first target-cluster track, 0 if none.
	FirstHit  int             `json:"first_hit" yaml:"first_hit"`
	Exhausted bool            `json:"exhausted" yaml:"exhausted"`
	Stats     recommend.Stats `json:"stats" yaml:"stats"`
}

func newSimulateCommand(a *app) *cobra.Command {
	opts := SimulationOptions{UserID: "simulator", SkipSeconds: 2, Steps: 30, TargetCluster: -1}
	var (
		output   string
		randSeed int64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive one session with a scripted listener and print the trace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.WithComponent("simulate")

			model, err := refit.NewBuilder(refit.SourceFromConfig(a.cfg), logger).Build(ctx, true)
			if err != nil {
				return err
			}
			recCfg := a.cfg.Recommend
			if randSeed != 0 {
				recCfg.Seed = randSeed
			}
			if opts.CollectionID == "" {
				opts.CollectionID = a.cfg.Catalog.CollectionID
			}

			report, err := simulate(ctx, model, recCfg, opts, logger)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", opts.UserID, "user ID of the simulated listener")
	cmd.Flags().StringVar(&opts.SeedTrack, "seed", "", "track ID to seed the session with")
	cmd.Flags().IntVar(&opts.TargetCluster, "target", opts.TargetCluster, "cluster the listener likes (default: the seed's cluster, else 0)")
	cmd.Flags().Float64Var(&opts.SkipSeconds, "skip-seconds", opts.SkipSeconds, "listen time before skipping a disliked track")
	cmd.Flags().IntVarP(&opts.Steps, "steps", "n", opts.Steps, "number of tracks to play")
	cmd.Flags().Int64Var(&randSeed, "rand-seed", 0, "override recommend.seed for a reproducible run")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

// simulate runs a scripted session against an in-memory affinity store so
// that simulations never touch persisted user history.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func simulate(ctx context.Context, model *recommend.Model, cfg recommend.Config, opts SimulationOptions, logger zerolog.Logger) (*SimulationReport, error) {
	engine, err := recommend.NewEngine(cfg, model, affinity.NewMemoryStore(), nil, logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	session, err := engine.CreateSession(ctx, opts.UserID, opts.CollectionID)
	if err != nil {
		return nil, err
	}

	target := opts.TargetCluster
	if opts.SeedTrack != "" {
		t, err := session.SetSeed(ctx, opts.SeedTrack)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", opts.SeedTrack, err)
		}
		if target < 0 {
			target, _ = model.Clusters.ClusterOf(t.ID)
		}
	}
	if target < 0 {
		target = 0
	}

	report := &SimulationReport{ModelVersion: model.Version(), TargetCluster: target}
	for step := 1; step <= opts.Steps; step++ {
		rec, err := session.NextTrack(ctx)
		if errors.Is(err, recommend.ErrRecommendationsExhausted) {
			report.Exhausted = true
			break
		}
		if err != nil {
			return nil, err
		}

		c, _ := model.Clusters.ClusterOf(rec.Track.ID)
		hit := c == target
		listened := opts.SkipSeconds
		if hit {
			listened = rec.Track.Duration()
		}
		eng, err := session.RecordFeedback(ctx, recommend.Feedback{TrackID: rec.Track.ID, ListenedSeconds: listened})
		if err != nil {
			return nil, err
		}

		if hit {
			report.Hits++
			if report.FirstHit == 0 {
				report.FirstHit = step
			}
		}
		report.Steps = append(report.Steps, SimulationStep{
			Step:       step,
			TrackID:    rec.Track.ID,
			Cluster:    c,
			Mode:       rec.Mode.String(),
			Reason:     string(rec.Reason),
			Probe:      rec.Probe,
			Score:      rec.Score,
			Hit:        hit,
			Engagement: eng.String(),
		})
	}

	if n := len(report.Steps); n > 0 {
		report.HitRate = float64(report.Hits) / float64(n)
	}
	report.Stats = session.Stats()
	return report, nil
}

func writeReport(w io.Writer, r *SimulationReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		for _, s := range r.Steps {
			mark := " "
			if s.Hit {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %3d  %-24s  c=%-3d %-8s %-18s %s\n",
				mark, s.Step, s.TrackID, s.Cluster, s.Mode, s.Reason, s.Engagement)
		}
		fmt.Fprintf(w, "target cluster %d: %d/%d hits (%.0f%%), first hit at step %d, entropy %.2f\n",
			r.TargetCluster, r.Hits, len(r.Steps), 100*r.HitRate, r.FirstHit, r.Stats.NormalizedEntropy)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
