// Package llm provides the language model clients used for analysis and
// audio transcription, and classifies provider errors.
package llm

// ModelTier represents the cost/capability level of a model
type ModelTier string

const (
	// TierLite is the cheaper model used when the standard model is out of quota
	TierLite ModelTier = "lite"
	// TierStandard is the model analyses run on first
	TierStandard ModelTier = "standard"
	// TierAudio transcribes audio chunks
	TierAudio ModelTier = "audio"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the default configuration (Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAudio:    "gemini-2.5-flash",
		},
		Temperature: 0.3,
	}
}

// DefaultOpenAIConfig returns the default OpenAI configuration
func DefaultOpenAIConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Models: map[ModelTier]string{
			TierLite:     "gpt-4o-mini",
			TierStandard: "gpt-4o",
		},
		Temperature: 0.3,
	}
}

// ConfigFor returns the provider defaults with any non-empty overrides applied.
func ConfigFor(provider Provider, standard, lite, audio string, temperature float32) *Config {
	cfg := DefaultGeminiConfig()
	if provider == ProviderOpenAI {
		cfg = DefaultOpenAIConfig()
	}
	for tier, model := range map[ModelTier]string{TierStandard: standard, TierLite: lite, TierAudio: audio} {
		if model != "" {
			cfg = cfg.WithModel(tier, model)
		}
	}
	if temperature > 0 {
		cfg.Temperature = temperature
	}
	return cfg
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider:    c.Provider,
		Models:      make(map[ModelTier]string),
		Temperature: c.Temperature,
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
