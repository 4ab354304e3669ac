package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledClient wraps a Client and spaces out requests with a token bucket
type ThrottledClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewThrottledClient allows requestsPerMinute calls per minute with a burst of
// one minute's quota spread over the fan-out.
func NewThrottledClient(inner Client, requestsPerMinute int) *ThrottledClient {
	burst := requestsPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &ThrottledClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst),
	}
}

// GenerateContent waits for a token, then delegates
func (c *ThrottledClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.inner.GenerateContent(ctx, prompt, tier)
}

// GenerateJSON waits for a token, then delegates
func (c *ThrottledClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.inner.GenerateJSON(ctx, prompt, tier)
}

// GenerateImage waits for a token, then delegates
func (c *ThrottledClient) GenerateImage(ctx context.Context, prompt string, refs []Attachment) (*Image, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.GenerateImage(ctx, prompt, refs)
}

// GetModel delegates
func (c *ThrottledClient) GetModel(tier ModelTier) string {
	return c.inner.GetModel(tier)
}

// Close delegates
func (c *ThrottledClient) Close() error {
	return c.inner.Close()
}
