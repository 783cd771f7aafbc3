package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/answer"
	"github.com/54b3r/bpqa-go/internal/logging"
	"github.com/54b3r/bpqa-go/internal/pipeline"
	"github.com/54b3r/bpqa-go/internal/tracing"
)

// NewAskCmd constructs the `bpqa ask` command, which answers one question
// and prints the answer with its images.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the best practice documents",
		Long: `Ask a natural language question about the best practice documents.

Examples:
  bpqa ask "what does Best Practice 3 say?"
  bpqa ask list
  bpqa ask --show-sources "how should errors be logged?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Install(log)
			defer flush()

			a, err := buildApp(ctx, log, appOptions{withHistory: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.close(log)

			ans, out := a.pipeline.HandleDetailed(ctx, strings.Join(args, " "))
			printAnswer(cmd.OutOrStdout(), ans)
			if showSources {
				printSources(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSources, "show-sources", false, "Print the retrieved passages and their scores")

	return cmd
}

// printAnswer writes the answer text followed by its images.
func printAnswer(w io.Writer, ans answer.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Images) == 0 {
		return
	}
	fmt.Fprintln(w, "\nImages:")
	for _, img := range ans.Images {
		line := "- " + img.Filename
		if img.Title != "" {
			line += ": " + img.Title
		}
		if img.Description != "" {
			line += " (" + img.Description + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// printSources writes the scored passages used for a general answer.
func printSources(w io.Writer, out pipeline.Outcome) {
	if out.Section != "" {
		fmt.Fprintf(w, "\nSource: %s\n", out.Section)
		return
	}
	if len(out.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, h := range out.Sources {
		fmt.Fprintf(w, "- [%.3f] %s #%d: %s\n", h.Score, h.Source, h.Position, preview(h.Content, 80))
	}
}

// preview flattens s to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
