package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the anvil command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd constructs the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	var manifestPath string

	root := &cobra.Command{
		Use:           "anvil",
		Short:         "Build-step orchestration runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().
		StringVarP(&manifestPath, "file", "f", "jobs.yaml", "Path to job manifest")

	root.AddCommand(newRunCmd(&manifestPath))
	return root
}
