package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/tubetrust/internal/app"
	"github.com/jonathan/tubetrust/internal/config"
	"github.com/jonathan/tubetrust/internal/maintenance"
)

var (
	jobsFail   []string
	jobsReason string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Report stale jobs, or force them to FAILED",
	Long: `Prints job counts per status and any PENDING or RUNNING jobs older than the
configured thresholds. With --fail, the named jobs are moved to FAILED instead.`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringSliceVar(&jobsFail, "fail", nil, "Job ids to mark FAILED (comma separated or repeated)")
	jobsCmd.Flags().StringVar(&jobsReason, "reason", "", "Reason recorded on failed jobs")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.BackendMemory {
		return fmt.Errorf("the memory store is private to each process; set STORE_BACKEND to sqlite or postgres")
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer func() { _ = closeLog() }()

	ctx := context.Background()
	s, err := app.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	svc := maintenance.New(s, maintenance.Options{
		RunningStaleAfter: cfg.Maintenance.RunningStaleAfter,
		PendingStaleAfter: cfg.Maintenance.PendingStaleAfter,
	}, logger)

	if len(jobsFail) > 0 {
		res, err := svc.ForceFail(ctx, jobsFail, jobsReason)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	}

	report, err := svc.Report(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), report)
}
