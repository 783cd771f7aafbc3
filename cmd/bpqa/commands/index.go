package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/logging"
)

// NewIndexCmd constructs the `bpqa index` command, which builds or reloads
// the section and vector indexes ahead of the first query.
func NewIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the section and vector indexes",
		Long: `Build the section and vector indexes for the corpus directory.

A persisted vector index built with the same embedding model is reused.
Pass --force to re-read the documents and re-embed every chunk.

Examples:
  bpqa index
  CORPUS_DIR=./docs bpqa index --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer a.close(log)

			start := time.Now()
			if force {
				err = a.pipeline.Rebuild(ctx)
			} else {
				err = a.pipeline.EnsureReady(ctx)
			}
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			meta := a.pipeline.Index().Meta()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Sections: %d\n", a.pipeline.Corpus().Len())
			fmt.Fprintf(w, "Chunks:   %d\n", a.pipeline.Index().Len())
			fmt.Fprintf(w, "Model:    %s (dim %d)\n", meta.Model, meta.Dimension)
			fmt.Fprintf(w, "Store:    %s\n", a.indexStore.Describe())
			fmt.Fprintf(w, "Took:     %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even if a persisted index is usable")

	return cmd
}
