// Package llm talks to vision-language models that locate bird features in images.
package llm

import (
	"context"

	"github.com/aves-app/aves-engine/pkg/models"
)

// DetectionRequest asks a vision model for the features visible in one image.
type DetectionRequest struct {
	ImageURL     string
	SystemPrompt string
	Prompt       string
	MaxFeatures  int
}

// DetectionResult is the model's raw answer, not yet validated.
type DetectionResult struct {
	Features         []RawFeature
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// VisionClient is implemented by every vision provider and by the decorators
// that throttle or guard them.
type VisionClient interface {
	DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error)
	GetModel() string
}

// BirdLocator finds the region of an image occupied by the bird.
// ok is false when no bird was found.
type BirdLocator interface {
	LocateBird(ctx context.Context, imageURL string) (region models.BoundingBox, ok bool, err error)
}

var (
	_ VisionClient = (*OpenAIVisionClient)(nil)
	_ VisionClient = (*AnthropicVisionClient)(nil)
	_ VisionClient = (*RateLimitedClient)(nil)
	_ VisionClient = (*GuardedClient)(nil)
	_ BirdLocator  = (*CloudVisionLocator)(nil)
)
