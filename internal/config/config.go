// Package config provides configuration loading and validation for the service and CLI.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// LLM providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Transcript strategy names, in the order the chain tries them by default.
const (
	StrategyCache    = "cache"
	StrategyCaptions = "captions"
	StrategyWorker   = "worker"
	StrategyLocal    = "local"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	LLM         LLMConfig         `yaml:"llm"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP listener and task runner.
type ServerConfig struct {
	Port             int  `yaml:"port" validate:"min=1,max=65535"`
	Workers          int  `yaml:"workers" validate:"min=1,max=64"`
	QueueDepth       int  `yaml:"queue_depth" validate:"min=1"`
	RateLimitEnabled bool `yaml:"rate_limit_enabled"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory postgres sqlite"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// PipelineConfig holds the wall-clock budgets and product ceilings.
type PipelineConfig struct {
	// HostCeiling is the hard limit the host puts on a single run.
	HostCeiling time.Duration `yaml:"host_ceiling" validate:"gt=0"`
	// SafetyBuffer is subtracted from HostCeiling to get the run budget.
	SafetyBuffer       time.Duration `yaml:"safety_buffer" validate:"gte=0"`
	MetadataTimeout    time.Duration `yaml:"metadata_timeout" validate:"gt=0"`
	TranscriptTimeout  time.Duration `yaml:"transcript_timeout" validate:"gt=0"`
	AnalysisTimeout    time.Duration `yaml:"analysis_timeout" validate:"gt=0"`
	PersistTimeout     time.Duration `yaml:"persist_timeout" validate:"gt=0"`
	MaxDurationMinutes int           `yaml:"max_duration_minutes" validate:"min=1"`
}

// RunBudget is the global deadline for one pipeline run.
func (p PipelineConfig) RunBudget() time.Duration {
	return p.HostCeiling - p.SafetyBuffer
}

// TranscriptConfig configures the acquisition chain and its tiers.
type TranscriptConfig struct {
	// Strategies overrides the tier order. Empty means derive it from what
	// is configured (see EffectiveStrategies).
	Strategies []string `yaml:"strategies" validate:"dive,oneof=cache captions worker local"`

	CaptionTimeout     time.Duration `yaml:"caption_timeout" validate:"gt=0"`
	CaptionRetries     int           `yaml:"caption_retries" validate:"min=0,max=10"`
	CaptionBackoff     time.Duration `yaml:"caption_backoff" validate:"gt=0"`
	PreferredLanguages []string      `yaml:"preferred_languages"`
	UseBrowserFallback bool          `yaml:"use_browser_fallback"`
	BrowserTimeout     time.Duration `yaml:"browser_timeout"`

	WorkerURL                string        `yaml:"worker_url"`
	WorkerToken              string        `yaml:"worker_token"`
	WorkerTimeout            time.Duration `yaml:"worker_timeout" validate:"gt=0"`
	WorkerMaxDurationMinutes int           `yaml:"worker_max_duration_minutes" validate:"min=1"`

	Local LocalConfig `yaml:"local"`
}

// LocalConfig configures the download-and-transcribe fallback.
type LocalConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	YtDlpPath        string        `yaml:"ytdlp_path" validate:"required"`
	FFmpegPath       string        `yaml:"ffmpeg_path" validate:"required"`
	WorkDir          string        `yaml:"work_dir"`
	Formats          []string      `yaml:"formats" validate:"min=1"`
	MaxDownloadBytes int64         `yaml:"max_download_bytes" validate:"gt=0"`
	UploadLimitBytes int64         `yaml:"upload_limit_bytes" validate:"gt=0"`
	Bitrate          string        `yaml:"bitrate" validate:"required"`
	SegmentSeconds   int           `yaml:"segment_seconds" validate:"min=30"`
	Parallelism      int           `yaml:"parallelism" validate:"min=1,max=16"`
	ChunkTimeout     time.Duration `yaml:"chunk_timeout" validate:"gt=0"`
}

// LLMConfig configures the analysis model.
type LLMConfig struct {
	Provider           string  `yaml:"provider" validate:"oneof=gemini openai"`
	APIKey             string  `yaml:"api_key"`
	PrimaryModel       string  `yaml:"primary_model"`
	FallbackModel      string  `yaml:"fallback_model"`
	TranscribeModel    string  `yaml:"transcribe_model"`
	MaxTranscriptChars int     `yaml:"max_transcript_chars" validate:"min=1000"`
	Temperature        float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// MaintenanceConfig configures the stale-job report.
type MaintenanceConfig struct {
	RunningStaleAfter time.Duration `yaml:"running_stale_after" validate:"gt=0"`
	PendingStaleAfter time.Duration `yaml:"pending_stale_after" validate:"gt=0"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			Workers:          4,
			QueueDepth:       64,
			RateLimitEnabled: true,
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "tubetrust.db",
		},
		Pipeline: PipelineConfig{
			HostCeiling:        300 * time.Second,
			SafetyBuffer:       20 * time.Second,
			MetadataTimeout:    15 * time.Second,
			TranscriptTimeout:  240 * time.Second,
			AnalysisTimeout:    90 * time.Second,
			PersistTimeout:     10 * time.Second,
			MaxDurationMinutes: 120,
		},
		Transcript: TranscriptConfig{
			CaptionTimeout:           30 * time.Second,
			CaptionRetries:           2,
			CaptionBackoff:           500 * time.Millisecond,
			PreferredLanguages:       []string{"en"},
			BrowserTimeout:           30 * time.Second,
			WorkerTimeout:            180 * time.Second,
			WorkerMaxDurationMinutes: 180,
			Local: LocalConfig{
				Enabled:          true,
				Timeout:          200 * time.Second,
				YtDlpPath:        "yt-dlp",
				FFmpegPath:       "ffmpeg",
				Formats:          []string{"worstaudio[ext=m4a]", "worstaudio[ext=webm]", "worstaudio", "bestaudio[abr<=96]"},
				MaxDownloadBytes: 200 << 20,
				UploadLimitBytes: 20 << 20,
				Bitrate:          "32k",
				SegmentSeconds:   600,
				Parallelism:      3,
				ChunkTimeout:     90 * time.Second,
			},
		},
		LLM: LLMConfig{
			Provider:           ProviderGemini,
			MaxTranscriptChars: 30000,
			Temperature:        0.3,
		},
		Maintenance: MaintenanceConfig{
			RunningStaleAfter: 10 * time.Minute,
			PendingStaleAfter: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Unmarshalling onto the defaults keeps every key the file leaves out.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.Workers = getEnvInt("WORKERS", c.Server.Workers)
	c.Server.RateLimitEnabled = getEnvBool("RATE_LIMIT_ENABLED", c.Server.RateLimitEnabled)

	c.Store.DatabaseURL = getEnvString("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = getEnvString("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.Backend = getEnvString("STORE_BACKEND", c.Store.Backend)

	c.Pipeline.HostCeiling = getEnvDuration("HOST_CEILING", c.Pipeline.HostCeiling)
	c.Pipeline.MaxDurationMinutes = getEnvInt("MAX_DURATION_MINUTES", c.Pipeline.MaxDurationMinutes)

	c.Transcript.WorkerURL = getEnvString("TRANSCRIBE_WORKER_URL", c.Transcript.WorkerURL)
	c.Transcript.WorkerToken = getEnvString("TRANSCRIBE_WORKER_TOKEN", c.Transcript.WorkerToken)

	c.LLM.Provider = getEnvString("LLM_PROVIDER", c.LLM.Provider)
	switch c.LLM.Provider {
	case ProviderOpenAI:
		c.LLM.APIKey = getEnvString("OPENAI_API_KEY", c.LLM.APIKey)
	default:
		c.LLM.APIKey = getEnvString("GEMINI_API_KEY", c.LLM.APIKey)
	}

	c.Log.Level = strings.ToLower(getEnvString("LOG_LEVEL", c.Log.Level))
	c.Log.File = getEnvString("LOG_FILE", c.Log.File)
}

// Validate checks field ranges and the relationships between budgets.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	var errs []error
	p := c.Pipeline
	if p.SafetyBuffer >= p.HostCeiling {
		errs = append(errs, errors.New("'pipeline.safety_buffer' must be smaller than 'pipeline.host_ceiling'"))
	}
	budget := p.RunBudget()
	for name, d := range map[string]time.Duration{
		"pipeline.metadata_timeout":   p.MetadataTimeout,
		"pipeline.transcript_timeout": p.TranscriptTimeout,
		"pipeline.analysis_timeout":   p.AnalysisTimeout,
		"pipeline.persist_timeout":    p.PersistTimeout,
	} {
		if d >= budget {
			errs = append(errs, fmt.Errorf("'%s' (%s) must be smaller than the run budget (%s)", name, d, budget))
		}
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("'store.database_url' is required for the postgres backend"))
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("'store.sqlite_path' is required for the sqlite backend"))
		}
	}

	if l := c.Transcript.Local; l.UploadLimitBytes > l.MaxDownloadBytes {
		errs = append(errs, errors.New("'transcript.local.upload_limit_bytes' must not exceed 'max_download_bytes'"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config error: %w", errors.Join(errs...))
	}
	return nil
}

// EffectiveStrategies returns the transcript tiers to run, in order. An
// explicit list is used as given. Otherwise captions always run, the worker
// runs when a URL is configured, and local transcription only runs when
// there is no worker.
func (t TranscriptConfig) EffectiveStrategies() []string {
	if len(t.Strategies) > 0 {
		return append([]string(nil), t.Strategies...)
	}
	out := []string{StrategyCaptions}
	if t.WorkerURL != "" {
		out = append(out, StrategyWorker)
	} else if t.Local.Enabled {
		out = append(out, StrategyLocal)
	}
	return out
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
