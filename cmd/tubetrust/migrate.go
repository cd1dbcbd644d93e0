package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/tubetrust/internal/app"
	"github.com/jonathan/tubetrust/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Creates the jobs, videos and analyses tables in the configured sqlite or postgres store. Safe to run repeatedly.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.BackendMemory {
		return fmt.Errorf("the memory store has no schema; set STORE_BACKEND to sqlite or postgres")
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer func() { _ = closeLog() }()

	s, err := app.OpenStore(context.Background(), cfg.Store, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", cfg.Store.Backend)
	return nil
}
