package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/tubetrust/internal/app"
	"github.com/jonathan/tubetrust/internal/config"
	"github.com/jonathan/tubetrust/internal/observability"
	"github.com/jonathan/tubetrust/internal/pipeline"
	"github.com/jonathan/tubetrust/internal/results"
)

var (
	analyzeStore   string
	analyzeJSON    bool
	analyzeVerbose bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <youtube-url>",
	Short: "Analyze one video and print the result",
	Long: `Runs the full pipeline for a single URL in the foreground: metadata, transcript, analysis.

By default nothing is persisted. Pass --store sqlite or --store postgres to reuse
and record results in the configured database.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeStore, "store", config.BackendMemory, "Store backend: memory, sqlite or postgres")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the result as JSON")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "Print pipeline progress and debug logs")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Store.Backend = analyzeStore
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("an API key is required: set GEMINI_API_KEY (or OPENAI_API_KEY with LLM_PROVIDER=openai)")
	}

	if analyzeVerbose {
		cfg.Log.Level = "debug"
	} else {
		cfg.Log.Level = "warn"
	}
	logger, closeLog := config.SetupLogger(cfg.Log)
	defer func() { _ = closeLog() }()

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)
	var observer pipeline.Observer
	if analyzeVerbose && !analyzeJSON {
		observer = printer.PrintEvent
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, app.Options{Observer: observer})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	view, err := analyzeOnce(ctx, a, args[0], cfg.Pipeline.RunBudget()+cfg.Pipeline.PersistTimeout, logger)
	if err != nil {
		return err
	}

	if analyzeJSON {
		return writeJSON(out, view)
	}
	printer.PrintView(view)
	if view.Error != nil {
		return fmt.Errorf("analysis failed: %s", view.Error.Message)
	}
	return nil
}

// analyzeOnce submits url and waits for the runner to drain.
func analyzeOnce(ctx context.Context, a *app.App, url string, wait time.Duration, logger *slog.Logger) (*results.View, error) {
	sub, err := a.Gateway.Submit(ctx, url)
	if err != nil {
		return nil, err
	}
	if sub.Reused {
		logger.Info("using stored result", "job_id", sub.JobID, "status", sub.Status)
	}

	stopCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := a.Runner.Stop(stopCtx); err != nil {
		return nil, fmt.Errorf("analysis did not finish in %s: %w", wait, err)
	}

	return a.Results.Get(ctx, sub.JobID)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
