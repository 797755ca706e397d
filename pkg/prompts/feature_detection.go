package prompts

import (
	"fmt"
	"strings"
)

// FeatureHint is a learned feature passed to the model as guidance.
type FeatureHint struct {
	EnglishTerm string
	SpanishTerm string
	Confidence  float64
	// Region is a human-readable expected location, empty when no prior exists.
	Region string
}

// FeatureDetectionInput carries everything the prompt is built from.
type FeatureDetectionInput struct {
	Species     string
	MaxFeatures int
	Prioritize  []FeatureHint
	Avoid       []FeatureHint
}

// BuildFeatureDetectionSystemMessage returns the fixed instructions for the vision model.
func BuildFeatureDetectionSystemMessage() string {
	return `You are an ornithologist helping Spanish learners build vocabulary from bird photographs.
You label clearly visible bird features with their Spanish and English names and their location in the image.
Respond with a single JSON object and nothing else.`
}

// BuildFeatureDetectionPrompt creates the per-image request. With no learned
// hints it asks for an unbiased set of features.
func BuildFeatureDetectionPrompt(in FeatureDetectionInput) string {
	var prompt strings.Builder

	prompt.WriteString("# Bird Feature Annotation\n\n")
	if in.Species != "" {
		prompt.WriteString(fmt.Sprintf("The bird in this image is a %s.\n", in.Species))
	}
	prompt.WriteString(fmt.Sprintf("Identify up to %d distinct, clearly visible features.\n\n", in.MaxFeatures))

	if len(in.Prioritize) > 0 {
		prompt.WriteString("## Features reviewers have accepted for this species\n")
		prompt.WriteString("Prefer these when they are visible:\n")
		for _, h := range in.Prioritize {
			prompt.WriteString(fmt.Sprintf("- %s", h.EnglishTerm))
			if h.SpanishTerm != "" {
				prompt.WriteString(fmt.Sprintf(" (%s)", h.SpanishTerm))
			}
			if h.Region != "" {
				prompt.WriteString(fmt.Sprintf(", usually %s", h.Region))
			}
			prompt.WriteString("\n")
		}
		prompt.WriteString("\n")
	}

	if len(in.Avoid) > 0 {
		prompt.WriteString("## Features reviewers keep rejecting for this species\n")
		prompt.WriteString("Do not include these unless they are unmistakable:\n")
		for _, h := range in.Avoid {
			prompt.WriteString(fmt.Sprintf("- %s\n", h.EnglishTerm))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString(`## Rules
- Bounding boxes use normalized coordinates between 0 and 1, origin at the top-left corner.
- Each box must tightly enclose only its feature.
- Spanish terms include the definite article (el pico, las alas).
- type is one of: anatomical, behavioral, color, pattern.
- difficultyLevel is 1 (easiest) to 5 (hardest) for a beginner learner.
- confidence is your certainty between 0 and 1.

## Response format
{
  "features": [
    {
      "spanishTerm": "el pico",
      "englishTerm": "beak",
      "type": "anatomical",
      "boundingBox": {"x": 0.42, "y": 0.18, "width": 0.08, "height": 0.06},
      "difficultyLevel": 1,
      "pronunciation": "el PEE-koh",
      "confidence": 0.93
    }
  ]
}
`)

	return prompt.String()
}

// DescribeRegion turns a normalized center point into words such as "upper left".
func DescribeRegion(centerX, centerY float64) string {
	vertical := "middle"
	switch {
	case centerY < 1.0/3:
		vertical = "upper"
	case centerY > 2.0/3:
		vertical = "lower"
	}
	horizontal := "center"
	switch {
	case centerX < 1.0/3:
		horizontal = "left"
	case centerX > 2.0/3:
		horizontal = "right"
	}
	if vertical == "middle" && horizontal == "center" {
		return "in the center of the image"
	}
	return fmt.Sprintf("in the %s %s of the image", vertical, horizontal)
}
