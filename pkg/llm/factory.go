package llm

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/config"
)

// Supported vision providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewVisionClient builds the configured provider client, throttled by the
// rate limiter and guarded by a circuit breaker.
func NewVisionClient(cfg config.VisionConfig, logger *zap.Logger) (VisionClient, error) {
	var base VisionClient
	switch cfg.Provider {
	case ProviderOpenAI:
		c, err := NewOpenAIVisionClient(OpenAIVisionConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey(),
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai vision client: %w", err)
		}
		base = c
	case ProviderAnthropic:
		fetcher := NewImageFetcher(&http.Client{Timeout: 30 * time.Second}, cfg.MaxImageBytes)
		c, err := NewAnthropicVisionClient(AnthropicVisionConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey(),
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, fetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic vision client: %w", err)
		}
		base = c
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}

	limited := NewRateLimitedClient(base, cfg.RequestsPerSecond, cfg.Burst)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: cfg.BreakerResetAfter,
	})
	return NewGuardedClient(limited, breaker, logger), nil
}
