package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/logging"
)

// NewSectionsCmd constructs the `bpqa sections` command, which lists the
// section names found in the corpus without embedding anything.
func NewSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List the sections found in the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("sections: %w", err)
			}
			defer a.close(log)

			if err := a.pipeline.EnsureCorpus(ctx); err != nil {
				return fmt.Errorf("sections: %w", err)
			}
			corpus := a.pipeline.Corpus()
			names := corpus.Names()
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sections labelled %q found in %s\n",
					corpus.Scheme().Label(), a.settings.CorpusDir)
				return nil
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
