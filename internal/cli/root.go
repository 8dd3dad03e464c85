package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/adnanbaig/browserfarm/internal/config"
)

// Execute runs the farmctl command tree.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var stateDir string

	rootCmd := &cobra.Command{
		Use:           "farmctl",
		Short:         "Inspect and maintain browserfarm session state",
		Long:          "farmctl reads the durable session records a browserfarm server keeps on disk, so operators can inspect live sessions and clean up terminated ones without going through the API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "session state directory (defaults to BROWSERFARM_STATE_DIR)")

	rootCmd.AddCommand(
		newSessionsCmd(func() string {
			if stateDir != "" {
				return stateDir
			}
			if env := os.Getenv("BROWSERFARM_STATE_DIR"); env != "" {
				return env
			}
			return config.DefaultStateDir()
		}),
		newVersionCmd(),
	)

	return rootCmd
}
