package main

import (
	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/version"
)

var (
	cfgFile      string
	dataDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "declpipe",
	Short: "Extraction pipeline for scanned ozone declaration PDFs",
	Long: `Declpipe turns scanned regulatory declaration PDFs into structured
extraction records using OCR and LLM batch structuring.

The pipeline includes:
  - Page-to-category classification for Form 01 and Form 02 declarations
  - Per-category OCR over split PDFs
  - Conversational batch structuring with an LLM
  - Merge, validation and fuzzy catalog resolution
  - Checkpointed job state with step-level retry`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.declpipe/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dataDir, "data-dir", "data", "directory for staged and split PDFs",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
