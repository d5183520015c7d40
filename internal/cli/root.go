// Package cli provides the command-line interface for tweetrelay.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "tweetrelay",
	Short: "Forward new tweets from one account to a Telegram channel",
	Long: "tweetrelay polls a Twitter account on a schedule, forwards posts it has not seen " +
		"to a Telegram channel and keeps an activity log, counters and a dedup ledger.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tweetrelay %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
