package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var simulateSlug string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条模拟的变更告警，用于验证告警通道",
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := strings.TrimSpace(simulateSlug)
		if slug == "" {
			slug = "example-market"
		}
		return getApp().SimulateAlert(cmd.Context(), slug)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSlug, "slug", "", "市场 slug")
}
