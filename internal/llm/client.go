package llm

import (
	"context"
)

// Attachment is an inline reference image passed along with a prompt.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Image is generated image data.
type Image struct {
	Data     []byte
	MIMEType string
}

// Client is the provider-neutral model API used by the pipeline steps.
type Client interface {
	// GenerateContent returns free text from the tier's model.
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON asks for a JSON response and strips any Markdown fences.
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateImage renders one image with the image tier. Empty references
	// are skipped.
	GenerateImage(ctx context.Context, prompt string, refs []Attachment) (*Image, error)
	GetModel(tier ModelTier) string
	Close() error
}

// NewClient builds the configured provider's client, throttled when
// RequestsPerMinute is set.
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var (
		client Client
		err    error
	)
	switch config.Provider {
	case ProviderOpenAI:
		client, err = NewOpenAIClient(config, apiKey)
	default:
		client, err = NewGeminiClient(ctx, config, apiKey)
	}
	if err != nil {
		return nil, err
	}

	if config.RequestsPerMinute > 0 {
		client = NewThrottledClient(client, config.RequestsPerMinute)
	}
	return client, nil
}
