package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/config"
	"github.com/54b3r/bpqa-go/internal/store"
)

// NewHistoryCmd constructs the `bpqa history` command, which prints the most
// recent answered queries.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently answered questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("history: -n must be positive, got %d", limit)
			}
			settings, err := config.Resolve()
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if settings.HistoryDB == "" {
				return fmt.Errorf("history: disabled (BPQA_HISTORY_DB is \"disabled\")")
			}

			hs, err := store.Open(settings.HistoryDB)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer hs.Close()

			recs, err := hs.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMODE\tQUERY\tIMAGES\tFAILURE")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.Mode,
					preview(r.Query, 60),
					strings.Join(r.Images, ","),
					r.Failure,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	return cmd
}
