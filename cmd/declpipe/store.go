package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the document store container",
	Long: `Manage the document store container lifecycle.

The document store is the source of truth for all job state, extraction
logs and the reference catalog. It runs in a Docker container.

Examples:
  declpipe store start    # Start the store container
  declpipe store stop     # Stop the container (data preserved)
  declpipe store status   # Check container status
  declpipe store init     # Apply collection schemas`,
}

var storeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the document store container",
	Long: `Start the document store container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}

		fmt.Println("Starting document store...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start document store: %w", err)
		}

		fmt.Printf("Document store is running at %s\n", mgr.URL())
		return nil
	},
}

var storeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the document store container",
	Long: `Stop the document store container.

This stops the container but preserves data. Use 'declpipe store start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}

		fmt.Println("Stopping document store...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop document store: %w", err)
		}

		fmt.Println("Document store stopped")
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document store container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case "running":
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			// Try health check
			client := store.NewClient(mgr.URL())
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case "not found":
			fmt.Printf("Status: %s (use 'declpipe store start' to create)\n", status)
		default:
			fmt.Printf("Status: %s (use 'declpipe store start' to start)\n", status)
		}

		return nil
	},
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Apply collection schemas to the running store",
	Long: `Apply the declpipe collection schemas to the running store.

Schemas are additive; running init against an already initialized store
is a no-op. The server also does this automatically on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}

		client := store.NewClient(mgr.URL())
		if err := client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("store not reachable at %s: %w", mgr.URL(), err)
		}

		if err := client.InitSchema(ctx); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}

		fmt.Println("Schemas applied")
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeStartCmd)
	storeCmd.AddCommand(storeStopCmd)
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeInitCmd)

	rootCmd.AddCommand(storeCmd)
}

// getStoreManager builds a DockerManager from the effective config.
func getStoreManager() (*store.DockerManager, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return store.NewDockerManager(
		cfg.Store.ContainerName, cfg.Store.Image, cfg.Store.Port, logger), nil
}
