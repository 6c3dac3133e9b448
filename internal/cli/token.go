package cli

import (
	"github.com/spf13/cobra"
)

var tokenPub string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed publisher token for the embed script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().IssueToken(tokenPub)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenPub, "pub", "", "Publisher id")
	_ = tokenCmd.MarkFlagRequired("pub")
}
