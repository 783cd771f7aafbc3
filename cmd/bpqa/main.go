// Command bpqa answers questions about a corpus of best practice documents.
// It provides a CLI (via Cobra) and an HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/bpqa-go/cmd/bpqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
