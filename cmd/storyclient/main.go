package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storyclient",
	Short: "Play a turn-taking story room from the terminal",
	Long: `storyclient joins a story room, waits in the lobby until the game
starts, then lets you add your part of the story when it is your turn.
Finished stories are kept locally and can be listed with "history".`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
