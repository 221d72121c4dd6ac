package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/gochat-relay/internal/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Presence-aware real-time relay",
		Long: `A WebSocket relay that tracks which users are online and routes typing
indicators, read receipts, new-message notifications, reactions, group
updates and presence changes to the right connected users.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay",
		Long: `Start the relay and block until SIGINT or SIGTERM.

Settings come from the YAML file given by --config, overridden by environment
variables (SERVER_PORT, ALLOWED_ORIGINS, RUN_MODE, POSTGRES_DSN, REDIS_ADDR,
NATS_URL, ...).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	return cmd
}

func createStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check relay status",
		Long:  "Probe a running relay's /health endpoint and print its connection counts",
		RunE: func(_ *cobra.Command, _ []string) error {
			health, err := probe(addr)
			if err != nil {
				color.Red("❌ No relay reachable at %s: %v", addr, err)
				return err
			}
			color.Green("✅ Relay at %s is %s", addr, health.Status)
			fmt.Printf("   online users: %d\n   open sockets: %d\n", health.Online, health.Clients)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the relay")
	return cmd
}

func probe(addr string) (server.HealthResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(addr, "/") + "/health")
	if err != nil {
		return server.HealthResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return server.HealthResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return server.HealthResponse{}, fmt.Errorf("decode health: %w", err)
	}
	return health, nil
}
