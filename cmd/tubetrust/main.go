// Package main provides the tubetrust command line: the HTTP API server and
// one-shot analysis of a single video.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/tubetrust/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tubetrust",
	Short: "TubeTrust YouTube analysis service",
	Long:  "TubeTrust fetches a YouTube video's transcript, summarizes it and rates how far its claims can be trusted.",
	// Errors are printed once by main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TUBETRUST_CONFIG"), "Path to a YAML config file (defaults to TUBETRUST_CONFIG)")
}

// loadConfig reads the config file named by --config and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
