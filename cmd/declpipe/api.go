package main

import (
	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running declpipe server via HTTP.

These commands require a running server (declpipe serve).
Use --server to specify a custom server URL.

Examples:
  declpipe api health                         # Check server health
  declpipe api extractions list               # List extraction jobs
  declpipe api extractions status <job-id>    # Poll a job`,
}

var extractionsCmd = &cobra.Command{
	Use:   "extractions",
	Short: "Extraction job commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Extractions as subcommand group
	extractionsCmd.AddCommand((&endpoints.SubmitEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.RetryEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.ListEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(extractionsCmd)
	rootCmd.AddCommand(apiCmd)
}
