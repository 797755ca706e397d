package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient keeps generation jobs inside the provider's request quota.
type RateLimitedClient struct {
	next    VisionClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows requestsPerSecond calls with the given burst.
// A non-positive rate disables limiting.
func NewRateLimitedClient(next VisionClient, requestsPerSecond float64, burst int) *RateLimitedClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// DetectFeatures implements VisionClient. It blocks until a token is available
// or ctx is done.
func (c *RateLimitedClient) DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.DetectFeatures(ctx, req)
}

// GetModel implements VisionClient.
func (c *RateLimitedClient) GetModel() string {
	return c.next.GetModel()
}
