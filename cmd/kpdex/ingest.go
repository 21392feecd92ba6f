package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	ingestuc "github.com/kailas-cloud/kpdex/internal/usecase/ingest"
)

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var deleteIDs []string
	cmd := &cobra.Command{
		Use:   "ingest [FILE.jsonl|-]",
		Short: "Embed and index documents from a JSON Lines file",
		Long: `Reads one document per line, embeds its text and writes metadata and
vectors. Re-ingesting an unchanged document is a no-op. When a snapshot
driver is configured the index is saved afterwards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(deleteIDs) == 0 {
				return fmt.Errorf("nothing to do: pass a file or --delete")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.restore(ctx); err != nil {
				return err
			}

			var results []ingestuc.Result
			if len(args) == 1 {
				docs, err := readDocuments(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				batch := a.cfg.Ingest.MaxBatchSize
				if batch <= 0 {
					batch = ingestuc.DefaultMaxBatchSize
				}
				for start := 0; start < len(docs); start += batch {
					end := min(start+batch, len(docs))
					results = append(results, a.ingest.Upsert(ctx, docs[start:end])...)
				}
			}
			if len(deleteIDs) > 0 {
				results = append(results, a.ingest.Delete(ctx, deleteIDs)...)
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				if !r.OK() {
					fmt.Fprintf(out, "FAIL %s: %v\n", r.ID, r.Err)
				}
			}
			ok, failed := ingestuc.Summary(results)
			fmt.Fprintf(out, "ok=%d failed=%d\n", ok, failed)

			if a.snapshots != nil && ok > 0 {
				name, err := a.index.Save(ctx)
				if err != nil {
					return fmt.Errorf("save snapshot: %w", err)
				}
				a.logger.Info("Snapshot saved", zap.String("name", name))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d operations failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&deleteIDs, "delete", nil, "document ids to remove")
	return cmd
}

func readDocuments(path string, stdin io.Reader) ([]domdoc.Document, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	docs, err := ingestuc.DecodeJSONL(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return docs, nil
}
