// Package commands defines all Cobra CLI commands for the bpqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/audit"
	"github.com/54b3r/bpqa-go/internal/config"
	"github.com/54b3r/bpqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bpqa",
		Short: "Ask questions about your best practice documents",
		Long: `bpqa answers questions about a folder of best practice documents
(PDF, DOCX, TXT, Markdown).

Questions that name a section ("what does Best Practice 7 say?") are answered
from that section alone; other questions are answered from the passages that
match best. Ask "list" to see every section.

The model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.bpqa/config.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.bpqa/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIndexCmd(),
		NewSectionsCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
