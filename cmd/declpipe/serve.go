package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/server"
)

var (
	serveHost    string
	servePort    string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the declpipe server",
	Long: `Start the declpipe HTTP server.

This starts both the HTTP API server and the document store container.
When the server shuts down (via Ctrl+C or SIGTERM), the store is also
stopped. Config changes on disk are picked up without a restart.

The server provides:
  - /health           - Basic server health check
  - /ready            - Readiness check (includes store status)
  - /api/extractions  - Submit, list, inspect and retry extraction jobs

Examples:
  declpipe serve                    # Start on default port 8080
  declpipe serve --port 3000        # Start on custom port
  declpipe serve --workers 4        # Run four extraction workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return err
		}

		// Create server
		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			DataDir:       dataDir,
			Workers:       serveWorkers,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 2, "Extraction worker count")

	rootCmd.AddCommand(serveCmd)
}
