package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "WORKERS", "RATE_LIMIT_ENABLED", "DATABASE_URL", "SQLITE_PATH", "STORE_BACKEND",
		"HOST_CEILING", "MAX_DURATION_MINUTES", "TRANSCRIBE_WORKER_URL", "TRANSCRIBE_WORKER_TOKEN",
		"LLM_PROVIDER", "OPENAI_API_KEY", "GEMINI_API_KEY", "LOG_LEVEL", "LOG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 120, cfg.Pipeline.MaxDurationMinutes)
	assert.Equal(t, 280*time.Second, cfg.Pipeline.RunBudget())
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
store:
  backend: sqlite
  sqlite_path: /tmp/jobs.db
pipeline:
  max_duration_minutes: 35
  analysis_timeout: 45s
transcript:
  strategies: [captions, local]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 35, cfg.Pipeline.MaxDurationMinutes)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.AnalysisTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Pipeline.MetadataTimeout)
	assert.Equal(t, []string{"captions", "local"}, cfg.Transcript.EffectiveStrategies())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("GEMINI_API_KEY", "key-123")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "key-123", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_OpenAIKeyFollowsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("GEMINI_API_KEY", "gemini")
	t.Setenv("OPENAI_API_KEY", "openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.APIKey)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server: [unclosed")

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_StageBudgetMustFitRunBudget(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.AnalysisTimeout = cfg.Pipeline.RunBudget()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.analysis_timeout")
}

func TestValidate_BackendNeedsConnection(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendPostgres

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/test"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transcript.Strategies = []string{"captions", "carrier-pigeon"}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Pipeline.SafetyBuffer = cfg.Pipeline.HostCeiling
	assert.Error(t, cfg.Validate())
}

func TestEffectiveStrategies(t *testing.T) {
	tc := Default().Transcript
	assert.Equal(t, []string{StrategyCaptions, StrategyLocal}, tc.EffectiveStrategies())

	tc.WorkerURL = "http://worker"
	assert.Equal(t, []string{StrategyCaptions, StrategyWorker}, tc.EffectiveStrategies())

	tc.WorkerURL = ""
	tc.Local.Enabled = false
	assert.Equal(t, []string{StrategyCaptions}, tc.EffectiveStrategies())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("nonsense"))
}

func TestSetupLoggerWithWriters_FansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("job started", "job_id", "abc")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "job_id=abc")
	assert.Contains(t, file.String(), `"job_id":"abc"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestSetupLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, cleanup := SetupLogger(LogConfig{Level: "info", File: path})
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
