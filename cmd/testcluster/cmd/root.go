package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "testcluster",
		Short:        "testcluster runs an ephemeral messaging cluster for integration tests.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		upCmd(),
		versionCmd(),
	)
	return cmd
}

func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
