package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/agent"
	"github.com/outpost-sh/outpost/pkg/log"
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
	Use:   "outpost-agent",
	Short: "Outpost agent - executes diagnostic probes on this host",
	Long: `The Outpost agent enrolls with a hub using a single-use token,
then maintains a persistent connection over which the hub dispatches
diagnostic probes.`,
	Version: Version,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Redeem an enrollment token for hub-signed credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = os.Getenv("OUTPOST_ENROLL_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("--token or OUTPOST_ENROLL_TOKEN is required")
		}

		a := agent.New(agentConfig(cmd))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.Enroll(ctx, token); err != nil {
			return err
		}
		fmt.Println("Enrolled. Start the agent with: outpost-agent run")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the hub and serve probes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := agent.New(agentConfig(cmd))
		agent.SystemPack(a.Registry())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return a.Run(ctx)
	},
}

func agentConfig(cmd *cobra.Command) agent.Config {
	hubURL, _ := cmd.Flags().GetString("hub")
	name, _ := cmd.Flags().GetString("name")
	credDir, _ := cmd.Flags().GetString("cred-dir")
	heartbeat, _ := cmd.Flags().GetDuration("heartbeat")
	attestation, _ := cmd.Flags().GetString("attestation")

	if name == "" {
		name, _ = os.Hostname()
	}

	return agent.Config{
		HubURL:            hubURL,
		Name:              name,
		CredDir:           credDir,
		Version:           Version,
		Attestation:       attestation,
		HeartbeatInterval: heartbeat,
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Outpost agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	for _, c := range []*cobra.Command{enrollCmd, runCmd} {
		c.Flags().String("hub", "http://localhost:8420", "Hub address")
		c.Flags().String("name", "", "Agent name (defaults to hostname)")
		c.Flags().String("cred-dir", "/var/lib/outpost-agent", "Credentials directory")
		c.Flags().Duration("heartbeat", agent.DefaultHeartbeatInterval, "Heartbeat interval")
		c.Flags().String("attestation", "", "Opaque attestation string pinned at enrollment")
	}
	enrollCmd.Flags().String("token", "", "Enrollment token (or OUTPOST_ENROLL_TOKEN)")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(runCmd)

	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.InfoLevel})
	})
}
