package cli

import (
	"github.com/spf13/cobra"

	"pm-embed/internal/app"
)

var (
	exportDays    int
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily impressions and clicks as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Days:    exportDays,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "Number of days to export (defaults to config)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
