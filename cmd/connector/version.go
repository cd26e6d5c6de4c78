package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("connector %s (commit %s, built %s)\n", Version, CommitHash, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
