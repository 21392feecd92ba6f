package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
)

func newCategoriesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Train and inspect classification categories",
	}
	cmd.AddCommand(newCategoriesTrainCmd(flags), newCategoriesCorpusCmd(flags))
	return cmd
}

func newCategoriesTrainCmd(flags *globalFlags) *cobra.Command {
	var (
		attribute  string
		setVersion string
		minMembers int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build category centroids from a labeled attribute of the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.restore(ctx); err != nil {
				return err
			}

			if attribute == "" {
				attribute = a.cfg.Classify.Attribute
			}
			if minMembers <= 0 {
				minMembers = a.cfg.Classify.MinMembers
			}
			set, err := a.classify.TrainCentroids(ctx, domdoc.Attribute(attribute), setVersion, minMembers)
			if err != nil {
				return err
			}
			if err := a.classify.SetCategories(set); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tMEMBERS")
			for _, c := range set.Categories() {
				fmt.Fprintf(tw, "%s\t%d\n", c.Label(), c.Members())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%s categories=%d\n", set.Version(), set.Len())

			if a.snapshots == nil {
				a.logger.Warn("Snapshots disabled, category set not persisted")
				return nil
			}
			name, err := a.classify.SaveCategories(ctx)
			if err != nil {
				return fmt.Errorf("save categories: %w", err)
			}
			a.logger.Info("Category set saved", zap.String("name", name))
			return nil
		},
	}
	cmd.Flags().StringVar(&attribute, "attribute", "", "attribute whose values become categories (default from config)")
	cmd.Flags().StringVar(&setVersion, "version", "", "category set version (default: generated)")
	cmd.Flags().IntVar(&minMembers, "min-members", 0, "drop categories with fewer indexed documents (default from config)")
	return cmd
}

func newCategoriesCorpusCmd(flags *globalFlags) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Classify every indexed document against the active category set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.restore(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			report, err := a.classify.ClassifyCorpus(ctx, func(id string, res classifyuc.Result) error {
				if !verbose {
					return nil
				}
				labels := make([]string, 0, len(res.Labels))
				for _, l := range res.Labels {
					labels = append(labels, fmt.Sprintf("%s(%.3f)", l.Category, l.Confidence))
				}
				_, err := fmt.Fprintf(out, "%s\t%v\n", id, labels)
				return err
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the labels of every document")
	return cmd
}
