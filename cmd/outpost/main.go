package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "outpost",
	Short: "Outpost - fleet monitoring and remote diagnostics hub",
	Long: `Outpost is a hub for monitoring and diagnosing fleets of remote hosts.

Agents enroll with single-use tokens, hold hub-signed certificates, and
keep persistent connections over which the hub dispatches diagnostic
probes. Every dispatched probe lands in a hash-linked audit chain.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Outpost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initAdminCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(auditCmd)
}
