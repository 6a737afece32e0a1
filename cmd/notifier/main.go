package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vhvplatform/go-wellness-notifier/cmd/notifier/commands"
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Wellness notifier - scheduled notification jobs",
	Long: `Wellness notifier runs the scheduled notification jobs of the app:
daily companion messages, weekly trivia and the generation digest.

Available commands:
  serve   - Start the HTTP service, trigger consumer and scheduler
  trigger - Sign and fire a job against a running service
  sign    - Print the trigger signature of a body read from stdin

Examples:
  notifier serve
  notifier trigger daily_messages --window morning
  notifier trigger trivia --type start --week-key 2026-W42
  echo -n '{"windowType":"evening"}' | notifier sign`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.TriggerCmd)
	rootCmd.AddCommand(commands.SignCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
