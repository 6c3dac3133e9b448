package cli

import (
	"github.com/spf13/cobra"

	"pm-embed/internal/app"
)

var (
	trackResolutionURL string
	trackNotes         string
	trackDryRun        bool
)

var trackCmd = &cobra.Command{
	Use:   "track <slug>...",
	Short: "Capture evidence for markets so the watcher picks them up",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Track(cmd.Context(), app.TrackOptions{
			Slugs:         args,
			ResolutionURL: trackResolutionURL,
			Notes:         trackNotes,
			DryRun:        trackDryRun,
		})
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackResolutionURL, "resolution-url", "", "Manual evidence URL, overrides the market resolution source")
	trackCmd.Flags().StringVar(&trackNotes, "notes", "", "Operator notes stored with the snapshot")
	trackCmd.Flags().BoolVar(&trackDryRun, "dry-run", false, "Fetch and score markets without writing to storage")
}
