package main

import (
	"github.com/spf13/cobra"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "prnotifier",
	Short: "GitHub App that reminds pull request authors and notifies Teams",
	Long: `prnotifier receives GitHub pull_request webhooks. For each opened,
reopened or closed pull request it looks up the projects the pull request
belongs to, comments when labels or projects are missing, and posts a
summary card to a Microsoft Teams channel.

Running without a subcommand is the same as "prnotifier serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"dotenv file loaded into the environment before reading settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(serveCmd)
}
