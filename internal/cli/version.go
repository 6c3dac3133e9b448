package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pm-embed/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pm-embed %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
		fmt.Fprintf(out, "user-agent: %s\n", version.UserAgent())
	},
}
