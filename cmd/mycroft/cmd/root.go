package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mycroft",
	Short: "systematic concurrency testing for Go programs",
	Long: `mycroft instruments Go programs so that their concurrency points run
under a controlled scheduler, then explores interleavings with
randomized strategies and replays the schedules that surface bugs.`,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
