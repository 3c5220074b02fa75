package cmd

import (
	"log"

	"github.com/arcward/sherpa/sherpa"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Sherpa bot and admin API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := sherpa.New(cfg)
		if err != nil {
			log.Fatalf("error creating sherpa: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running sherpa: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
