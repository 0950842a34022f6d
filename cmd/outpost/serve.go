package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/api"
	"github.com/outpost-sh/outpost/pkg/auth"
	"github.com/outpost-sh/outpost/pkg/config"
	"github.com/outpost-sh/outpost/pkg/hub"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/metrics"
	"github.com/outpost-sh/outpost/pkg/policy"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Outpost hub",
	Long: `Run the Outpost hub: the HTTP API, the agent websocket endpoint,
and the health/metrics endpoints, all on one listener.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		listenAddr, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		hubSecret, _ := cmd.Flags().GetString("hub-secret")

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if hubSecret != "" {
			cfg.HubSecret = hubSecret
		}
		if cfg.HubSecret == "" {
			cfg.HubSecret = os.Getenv("OUTPOST_HUB_SECRET")
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		metrics.SetVersion(Version)

		h, err := hub.New(cfg)
		if err != nil {
			return err
		}
		h.Start()

		server := api.NewServer(h)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info(fmt.Sprintf("received %s, shutting down", sig))
		case err := <-errCh:
			if err != nil {
				_ = h.Stop()
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("shutdown error", err)
		}
		return h.Stop()
	},
}

var initAdminCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "Create the initial owner account",
	Long: `Create the first owner account directly in the data directory.

Run this once before starting the hub; all further user management goes
through the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}

		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		existing, err := store.ListUsers()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("users already exist; use the API to manage accounts")
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		user := &types.User{
			ID:           uuid.New().String(),
			Email:        email,
			Role:         policy.RoleOwner,
			PasswordHash: hash,
			CreatedAt:    time.Now(),
		}
		if err := store.CreateUser(user); err != nil {
			return err
		}

		fmt.Printf("Owner account created: %s\n", email)
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "/etc/outpost/hub.yaml", "Path to the hub config file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().String("hub-secret", "", "Hub secret (overrides config and OUTPOST_HUB_SECRET)")

	initAdminCmd.Flags().String("data-dir", config.DefaultDataDir, "Data directory")
	initAdminCmd.Flags().String("email", "", "Owner email")
	initAdminCmd.Flags().String("password", "", "Owner password")
}
