package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pm-embed/internal/app"
)

var (
	alertsSlug  string
	alertsLimit int
	cleanupKind string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent market change alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 || alertsLimit > 200 {
			return fmt.Errorf("--limit must be between 1 and 200")
		}
		return getApp().ShowAlerts(cmd.Context(), app.AlertsOptions{Slug: alertsSlug, Limit: alertsLimit})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every alert of one kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context(), cleanupKind)
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsSlug, "slug", "", "Only show alerts for this market")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Number of alerts to display")

	cleanupCmd.Flags().StringVar(&cleanupKind, "kind", "updated_at_changed", "Alert kind to delete")
}
