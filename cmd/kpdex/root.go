package main

import (
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/kpdex/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "kpdex",
		Short: "Embedding-backed retrieval engine for knowledge products",
		Long: `kpdex indexes knowledge products as vectors and answers filtered
semantic search, classification and recommendation requests.

Examples:
  kpdex serve
  kpdex ingest products.jsonl
  kpdex categories train --attribute domain
  kpdex snapshot verify`,
		Version:       version.Version + " (" + version.Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.env, "env", "e", "", "config environment (default: $ENV or local)")
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a config file (overrides --env)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newIngestCmd(flags),
		newCategoriesCmd(flags),
		newSnapshotCmd(flags),
	)
	return rootCmd
}
