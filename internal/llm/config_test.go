package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierStandard))
	assert.Equal(t, "gemini-2.5-flash-image", config.GetModel(TierImage))
}

func TestDefaultOpenAIConfig(t *testing.T) {
	config := DefaultOpenAIConfig()

	assert.Equal(t, ProviderOpenAI, config.Provider)
	assert.Equal(t, "gpt-image-1", config.GetModel(TierImage))
}

func TestGetModel_Fallback(t *testing.T) {
	config := &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite: "fallback-model",
		},
	}

	// Unknown text tier falls back to standard, then lite
	assert.Equal(t, "fallback-model", config.GetModel("unknown"))
	// Image tier never borrows a text model
	assert.Equal(t, "", config.GetModel(TierImage))
}

func TestGetModel_EmptyConfig(t *testing.T) {
	config := &Config{
		Provider: ProviderGemini,
		Models:   map[ModelTier]string{},
	}

	assert.Equal(t, "", config.GetModel(TierStandard))
}

func TestWithModel(t *testing.T) {
	config := DefaultConfig()
	config.RequestsPerMinute = 30
	newConfig := config.WithModel(TierImage, "custom-image")

	// Original should be unchanged
	assert.Equal(t, "gemini-2.5-flash-image", config.GetModel(TierImage))

	assert.Equal(t, "custom-image", newConfig.GetModel(TierImage))
	assert.Equal(t, "gemini-2.5-flash-lite", newConfig.GetModel(TierLite))
	assert.Equal(t, 30, newConfig.RequestsPerMinute)
}

func TestConfigFor(t *testing.T) {
	tests := []struct {
		name      string
		provider  Provider
		text      string
		image     string
		wantText  string
		wantImage string
	}{
		{"gemini defaults", ProviderGemini, "", "", "gemini-2.5-flash", "gemini-2.5-flash-image"},
		{"gemini overrides", ProviderGemini, "gemini-2.5-pro", "imagen", "gemini-2.5-pro", "imagen"},
		{"openai defaults", ProviderOpenAI, "", "", "gpt-4o", "gpt-image-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigFor(tt.provider, tt.text, tt.image)
			assert.Equal(t, tt.provider, cfg.Provider)
			assert.Equal(t, tt.wantText, cfg.GetModel(TierStandard))
			assert.Equal(t, tt.wantImage, cfg.GetModel(TierImage))
		})
	}
}
