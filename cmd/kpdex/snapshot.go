package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/kpdex/internal/index"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
)

var (
	errNoSnapshots  = errors.New("snapshots are disabled (snapshot.driver: none)")
	errRecallTarget = errors.New("recall target not met")
)

func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage index snapshots",
	}
	cmd.AddCommand(
		newSnapshotSaveCmd(flags),
		newSnapshotListCmd(flags),
		newSnapshotVerifyCmd(flags),
		newSnapshotRecallCmd(flags),
	)
	return cmd
}

// withSnapshots runs fn against an app that has a snapshot store.
func withSnapshots(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.snapshots == nil {
		return errNoSnapshots
	}
	return fn(ctx, a)
}

func newSnapshotSaveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Recover the newest snapshot, retrain the quantizer and save a fresh snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.restore(ctx); err != nil {
					return err
				}
				if a.index.Options().Mode == index.ModeIVF {
					if err := a.index.Retrain(ctx); err != nil {
						return fmt.Errorf("retrain: %w", err)
					}
				}
				name, err := a.index.Save(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			})
		},
	}
}

func newSnapshotListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored index snapshots and category sets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, flags, func(ctx context.Context, a *app) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tNAME")
				for _, prefix := range []string{index.SnapshotPrefix, classifyuc.SetPrefix} {
					names, err := a.snapshots.List(ctx, prefix)
					if err != nil {
						return err
					}
					kind := strings.TrimSuffix(prefix, "-")
					for _, n := range names {
						fmt.Fprintf(tw, "%s\t%s\n", kind, n)
					}
				}
				return tw.Flush()
			})
		},
	}
}

func newSnapshotVerifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [NAME...]",
		Short: "Decode snapshots and check them against the configured index",
		Long:  "Checks every stored index snapshot (or only the named ones). Exits non-zero if any is unusable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(cmd, flags, func(ctx context.Context, a *app) error {
				names := args
				if len(names) == 0 {
					var err error
					if names, err = a.snapshots.List(ctx, index.SnapshotPrefix); err != nil {
						return err
					}
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSTATUS\tVECTORS\tSEQ\tCREATED")
				bad := 0
				for _, n := range names {
					h, err := a.index.Verify(ctx, n)
					if err != nil {
						bad++
						fmt.Fprintf(tw, "%s\tFAIL: %v\t-\t-\t-\n", n, err)
						continue
					}
					fmt.Fprintf(tw, "%s\tok\t%d\t%d\t%s\n", n, h.Count, h.Seq, h.CreatedAt.Format(time.RFC3339))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if bad > 0 {
					return fmt.Errorf("%d of %d snapshots unusable", bad, len(names))
				}
				return nil
			})
		},
	}
}

func newSnapshotRecallCmd(flags *globalFlags) *cobra.Command {
	var (
		queries int
		k       int
		noise   float64
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Measure approximate-search recall of the restored index against exact search",
		Long: "Samples perturbed copies of indexed vectors as queries and compares approximate results " +
			"with a linear scan. Exits non-zero when index.max_probes misses index.recall_target, " +
			"reporting the probe cap that reaches it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.restore(ctx); err != nil {
					return err
				}
				sample := a.index.SampleQueries(queries, noise)
				rep, err := a.index.Calibrate(ctx, sample, k)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "mode\t%s\n", a.index.Options().Mode)
				fmt.Fprintf(tw, "queries\t%d\n", rep.Queries)
				fmt.Fprintf(tw, "max_probes\t%s\n", probesLabel(rep.ConfiguredProbes))
				fmt.Fprintf(tw, "recall@%d\t%.4f\n", rep.K, rep.Configured.AtK)
				fmt.Fprintf(tw, "top1\t%.4f\n", rep.Configured.Top1)
				if rep.Target > 0 {
					fmt.Fprintf(tw, "target\t%.4f\n", rep.Target)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if !rep.Met() {
					return fmt.Errorf("%w: top1 %.4f at max_probes=%s is below %.4f; %s probes reach %.4f",
						errRecallTarget, rep.Configured.Top1, probesLabel(rep.ConfiguredProbes),
						rep.Target, probesLabel(rep.Probes), rep.Achieved.Top1)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&queries, "queries", 200, "number of sampled queries")
	cmd.Flags().IntVar(&k, "k", 10, "neighbors per query")
	cmd.Flags().Float64Var(&noise, "noise", index.DefaultRecallNoise, "query perturbation relative to the source vector norm")
	return cmd
}

func probesLabel(p int) string {
	if p == 0 {
		return "unbounded"
	}
	return strconv.Itoa(p)
}
