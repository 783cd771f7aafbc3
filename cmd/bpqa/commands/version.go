package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/version"
)

// NewVersionCmd constructs the `bpqa version` command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bpqa version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
