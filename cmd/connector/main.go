// Package main is the entry point for the on-premises connector.
// The connector links the local directory and calendar services to the
// remote control plane over an outbound WebSocket control channel.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

const serviceName = "connector"

var rootCmd = &cobra.Command{
	Use:   "connector",
	Short: "On-premises directory and calendar connector",
	Long: `Connects the local Active Directory and Exchange calendar services to the
control plane. Without a subcommand the connector runs the status API and,
when backend.auto_start is set, opens the control channel.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
