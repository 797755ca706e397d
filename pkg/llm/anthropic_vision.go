package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicVisionConfig configures the Anthropic Messages API client.
type AnthropicVisionConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float32
}

// AnthropicVisionClient inlines the image as base64 because the Messages API
// does not fetch remote images itself.
type AnthropicVisionClient struct {
	client  *anthropic.Client
	fetcher *ImageFetcher
	model   string
	cfg     AnthropicVisionConfig
	logger  *zap.Logger
}

// NewAnthropicVisionClient creates a client backed by go-anthropic.
func NewAnthropicVisionClient(cfg AnthropicVisionConfig, fetcher *ImageFetcher, logger *zap.Logger) (*AnthropicVisionClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicVisionClient{
		client:  anthropic.NewClient(cfg.APIKey, opts...),
		fetcher: fetcher,
		model:   cfg.Model,
		cfg:     cfg,
		logger:  logger.Named("vision.anthropic"),
	}, nil
}

// DetectFeatures implements VisionClient.
func (c *AnthropicVisionClient) DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	mediaType, data, err := c.fetcher.FetchBase64(ctx, req.ImageURL)
	if err != nil {
		return nil, c.classify(err)
	}

	temperature := c.cfg.Temperature
	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.cfg.MaxTokens,
		System:      req.SystemPrompt,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(
					anthropic.NewMessageContentSource(anthropic.MessagesContentSourceTypeBase64, mediaType, data),
				),
				anthropic.NewTextMessageContent(req.Prompt),
			}},
		},
	})
	if err != nil {
		c.logger.Warn("Vision request failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.classify(err)
	}

	text := firstText(resp)
	if text == "" {
		return nil, c.classify(NewError(ErrorTypeResponse, "no text in response", true, nil))
	}

	features, err := ParseFeatures(text)
	if err != nil {
		return nil, c.classify(NewError(ErrorTypeResponse, "unusable model output", true, err))
	}

	c.logger.Debug("Vision request completed",
		zap.Int("features", len(features)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &DetectionResult{
		Features:         features,
		Model:            c.model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

// GetModel implements VisionClient.
func (c *AnthropicVisionClient) GetModel() string {
	return c.model
}

func (c *AnthropicVisionClient) classify(err error) error {
	e := ClassifyError(err)
	e.Model = c.model
	return e
}

func firstText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
