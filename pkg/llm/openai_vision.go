package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIVisionConfig configures an OpenAI-compatible vision endpoint.
type OpenAIVisionConfig struct {
	BaseURL     string // Empty uses the OpenAI default
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float32
}

// OpenAIVisionClient sends the image by URL in a multi-part chat message and
// asks for a JSON object back.
type OpenAIVisionClient struct {
	client   *openai.Client
	endpoint string
	model    string
	cfg      OpenAIVisionConfig
	logger   *zap.Logger
}

// NewOpenAIVisionClient creates a client for any OpenAI-compatible endpoint.
func NewOpenAIVisionClient(cfg OpenAIVisionConfig, logger *zap.Logger) (*OpenAIVisionClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAIVisionClient{
		client:   openai.NewClientWithConfig(clientConfig),
		endpoint: clientConfig.BaseURL,
		model:    cfg.Model,
		cfg:      cfg,
		logger:   logger.Named("vision.openai"),
	}, nil
}

// DetectFeatures implements VisionClient.
func (c *OpenAIVisionClient) DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    req.ImageURL,
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Warn("Vision request failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, c.classify(NewError(ErrorTypeResponse, "no choices in response", true, nil))
	}

	features, err := ParseFeatures(resp.Choices[0].Message.Content)
	if err != nil {
		// A malformed answer is often a one-off; another attempt may parse.
		return nil, c.classify(NewError(ErrorTypeResponse, "unusable model output", true, err))
	}

	c.logger.Debug("Vision request completed",
		zap.Int("features", len(features)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &DetectionResult{
		Features:         features,
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// GetModel implements VisionClient.
func (c *OpenAIVisionClient) GetModel() string {
	return c.model
}

func (c *OpenAIVisionClient) classify(err error) error {
	e := ClassifyError(err)
	e.Model = c.model
	e.Endpoint = c.endpoint
	return e
}
