// Package llm provides the model-invocation collaborator: provider clients for
// text, structured JSON and image generation behind one Client interface.
package llm

// ModelTier represents the kind of model a request needs
type ModelTier string

const (
	// TierLite is for cheap classification-style calls
	TierLite ModelTier = "lite"
	// TierStandard is for analysis, creative direction and copywriting
	TierStandard ModelTier = "standard"
	// TierImage is for image generation
	TierImage ModelTier = "image"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is the OpenAI provider
	ProviderOpenAI Provider = "openai"
)

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
	// RequestsPerMinute throttles outgoing model calls; zero disables throttling.
	RequestsPerMinute int
	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways).
	BaseURL string
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
			TierImage:    "gemini-2.5-flash-image",
		},
	}
}

// DefaultOpenAIConfig returns the default OpenAI configuration
func DefaultOpenAIConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Models: map[ModelTier]string{
			TierLite:     "gpt-4o-mini",
			TierStandard: "gpt-4o",
			TierImage:    "gpt-image-1",
		},
	}
}

// ConfigFor returns the defaults for provider with the text and image models
// overridden when non-empty.
func ConfigFor(provider Provider, textModel, imageModel string) *Config {
	cfg := DefaultGeminiConfig()
	if provider == ProviderOpenAI {
		cfg = DefaultOpenAIConfig()
	}
	if textModel != "" {
		cfg = cfg.WithModel(TierStandard, textModel)
	}
	if imageModel != "" {
		cfg = cfg.WithModel(TierImage, imageModel)
	}
	return cfg
}

// GetModel returns the model name for a given tier. Text tiers fall back to
// standard then lite; the image tier never falls back to a text model.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if tier == TierImage {
		return ""
	}
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
		Provider:          c.Provider,
		Models:            make(map[ModelTier]string),
		RequestsPerMinute: c.RequestsPerMinute,
		BaseURL:           c.BaseURL,
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
