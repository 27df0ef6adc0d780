package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/traso56/oribot/oribot"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the OriBot gateway listener, background sweeps and API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := oribot.New(cfg)
			if err != nil {
				log.Fatalf("error creating oribot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running oribot: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
