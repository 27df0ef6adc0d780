package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/traso56/oribot/oribot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			oribot.Version,
			oribot.CommitSHA,
			oribot.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
