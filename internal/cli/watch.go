package cli

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run one watch pass over every tracked market and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunWatch(cmd.Context())
	},
}
