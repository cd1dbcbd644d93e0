// Package app wires configuration into the running components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/tubetrust/internal/analysis"
	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/audio"
	"github.com/jonathan/tubetrust/internal/config"
	"github.com/jonathan/tubetrust/internal/db"
	"github.com/jonathan/tubetrust/internal/fetch"
	"github.com/jonathan/tubetrust/internal/llm"
	"github.com/jonathan/tubetrust/internal/maintenance"
	"github.com/jonathan/tubetrust/internal/pipeline"
	"github.com/jonathan/tubetrust/internal/queue"
	"github.com/jonathan/tubetrust/internal/results"
	"github.com/jonathan/tubetrust/internal/server"
	"github.com/jonathan/tubetrust/internal/server/ratelimit"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/submission"
	"github.com/jonathan/tubetrust/internal/transcript"
	"github.com/jonathan/tubetrust/internal/types"
	"github.com/jonathan/tubetrust/internal/youtube"
)

// App holds every long-lived component.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        store.Store
	LLM          llm.Client
	Metadata     *youtube.MetadataClient
	Chain        *transcript.Chain
	Orchestrator *pipeline.Orchestrator
	Runner       *queue.Runner
	Scheduler    *pipeline.Scheduler
	Gateway      *submission.Gateway
	Results      *results.Reader
	Maintenance  *maintenance.Service
}

// Options customize New.
type Options struct {
	// Observer receives pipeline progress events.
	Observer pipeline.Observer
	// Store replaces the configured backend.
	Store store.Store
	// LLM replaces the client built from the config.
	LLM llm.Client
	// Runner replaces the subprocess runner used by local transcription.
	Runner audio.Runner
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(ctx, cfg.Store, logger); err != nil {
			return nil, err
		}
	}

	client := opts.LLM
	if client == nil && cfg.LLM.APIKey != "" {
		var err error
		client, err = llm.NewClient(ctx, llmConfig(cfg.LLM), cfg.LLM.APIKey)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
	}
	if client == nil {
		logger.Warn("no analysis provider credential configured; submissions will be rejected", "provider", cfg.LLM.Provider)
	}

	fetchOpts := fetch.DefaultOptions()
	pageOpts := youtube.Options{
		Fetch:          fetchOpts,
		UseBrowser:     cfg.Transcript.UseBrowserFallback,
		BrowserTimeout: cfg.Transcript.BrowserTimeout,
		Logger:         logger,
	}
	metadata := youtube.NewMetadataClient(pageOpts)

	runner := opts.Runner
	if runner == nil {
		runner = audio.ExecRunner{Logger: logger}
	}
	chain := BuildChain(cfg.Transcript, st, pageOpts, client, runner, logger)

	var analyzer pipeline.Analyzer = unconfiguredAnalyzer{}
	if client != nil {
		analyzer = analysis.New(client, cfg.LLM.MaxTranscriptChars, logger)
	}

	orch := pipeline.New(pipeline.Options{
		Store:       st,
		Metadata:    metadata,
		Transcripts: chain,
		Analyzer:    analyzer,
		Budgets:     pipeline.BudgetsFromConfig(cfg.Pipeline),
		Observer:    opts.Observer,
		Logger:      logger,
	})

	tasks := queue.New(cfg.Server.Workers, cfg.Server.QueueDepth, logger)
	sched := pipeline.NewScheduler(orch, tasks, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		LLM:          client,
		Metadata:     metadata,
		Chain:        chain,
		Orchestrator: orch,
		Runner:       tasks,
		Scheduler:    sched,
		Gateway:      submission.New(st, sched, client != nil, logger),
		Results:      results.NewReader(st, metadata, 0, logger),
		Maintenance: maintenance.New(st, maintenance.Options{
			RunningStaleAfter: cfg.Maintenance.RunningStaleAfter,
			PendingStaleAfter: cfg.Maintenance.PendingStaleAfter,
		}, logger),
	}, nil
}

// Server builds the HTTP server over the app's components.
func (a *App) Server() *server.Server {
	return server.New(server.Config{Port: a.Config.Server.Port}, server.Deps{
		Submitter:   a.Gateway,
		Results:     a.Results,
		Retrier:     a.Scheduler,
		Maintenance: a.Maintenance,
		Store:       a.Store,
		Runner:      a.Runner,
		Limiter:     ratelimit.NewLimiter(ratelimit.LoadConfig(a.Config.Server.RateLimitEnabled)),
		Logger:      a.Logger,
	})
}

// Close stops the task runner and releases the store and LLM client.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.Runner.Stop(ctx); err != nil && !errors.Is(err, queue.ErrStopped) {
		errs = append(errs, err)
	}
	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured backend and applies its schema.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			_ = database.Close()
			return nil, err
		}
		logger.Info("using postgres store")
		return database, nil
	case config.BackendSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.SQLitePath)
		return s, nil
	case config.BackendMemory, "":
		logger.Info("using in-memory store; results are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// BuildChain assembles the transcript tiers named by the config. Tiers that
// cannot run with what is configured are skipped with a warning.
func BuildChain(cfg config.TranscriptConfig, videos transcript.VideoGetter, pageOpts youtube.Options, client llm.Client, runner audio.Runner, logger *slog.Logger) *transcript.Chain {
	var tiers []transcript.Tier
	for _, name := range cfg.EffectiveStrategies() {
		switch name {
		case config.StrategyCache:
			tiers = append(tiers, transcript.Tier{Strategy: transcript.CacheStrategy{Videos: videos}, Timeout: 5 * time.Second})

		case config.StrategyCaptions:
			captions := youtube.NewCaptionClient(youtube.CaptionOptions{
				Options:            pageOpts,
				Retries:            cfg.CaptionRetries,
				Backoff:            cfg.CaptionBackoff,
				PreferredLanguages: cfg.PreferredLanguages,
			})
			tiers = append(tiers, transcript.Tier{Strategy: transcript.CaptionStrategy{Source: captions}, Timeout: cfg.CaptionTimeout})

		case config.StrategyWorker:
			if cfg.WorkerURL == "" {
				logger.Warn("worker strategy requested without a worker URL, skipping")
				continue
			}
			worker := transcript.NewWorkerClient(cfg.WorkerURL, cfg.WorkerToken, cfg.WorkerMaxDurationMinutes, cfg.WorkerTimeout, logger)
			tiers = append(tiers, transcript.Tier{Strategy: worker, Timeout: cfg.WorkerTimeout})

		case config.StrategyLocal:
			model, ok := client.(transcript.AudioModel)
			if !ok {
				logger.Warn("local strategy needs an audio-capable model, skipping", "provider", fmt.Sprintf("%T", client))
				continue
			}
			tiers = append(tiers, transcript.Tier{Strategy: localStrategy(cfg.Local, model, runner, logger), Timeout: cfg.Local.Timeout})
		}
	}

	chain := transcript.NewChain(logger, tiers...)
	logger.Info("transcript chain configured", "strategies", chain.Names())
	return chain
}

func localStrategy(cfg config.LocalConfig, model transcript.AudioModel, runner audio.Runner, logger *slog.Logger) *transcript.LocalStrategy {
	enc := audio.Encoding{Binary: cfg.FFmpegPath, Bitrate: cfg.Bitrate, UploadLimit: cfg.UploadLimitBytes}
	return transcript.NewLocalStrategy(
		audio.NewDownloader(runner, cfg.YtDlpPath, cfg.Formats, cfg.MaxDownloadBytes, logger),
		audio.NewCompressor(runner, enc, logger),
		audio.NewSegmenter(runner, enc, cfg.SegmentSeconds, logger),
		transcript.ModelTranscriber{Model: model},
		transcript.LocalOptions{WorkDir: cfg.WorkDir, Parallelism: cfg.Parallelism, ChunkTimeout: cfg.ChunkTimeout},
		logger,
	)
}

func llmConfig(cfg config.LLMConfig) *llm.Config {
	return llm.ConfigFor(llm.Provider(cfg.Provider), cfg.PrimaryModel, cfg.FallbackModel, cfg.TranscribeModel, cfg.Temperature)
}

// unconfiguredAnalyzer stands in when no credential is set. Retries of
// existing jobs fail cleanly instead of reaching a nil client.
type unconfiguredAnalyzer struct{}

func (unconfiguredAnalyzer) Analyze(context.Context, analysis.Request) (*types.Analysis, error) {
	return nil, apperr.New(apperr.KindAnalysisFailed, apperr.ReasonAuth, "analysis provider credential is not configured")
}
