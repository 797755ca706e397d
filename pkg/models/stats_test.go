package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeQualityFlags(t *testing.T) {
	thresholds := QualityThresholds{TooSmallArea: 0.02, LowConfidence: 0.70}

	tests := []struct {
		name       string
		box        BoundingBox
		confidence float64
		want       QualityFlags
	}{
		{
			name:       "neither",
			box:        BoundingBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
			confidence: 0.9,
			want:       QualityFlags{},
		},
		{
			name:       "too small only",
			box:        BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1},
			confidence: 0.9,
			want:       QualityFlags{TooSmall: true},
		},
		{
			name:       "low confidence only",
			box:        BoundingBox{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3},
			confidence: 0.6,
			want:       QualityFlags{LowConfidence: true},
		},
		{
			name:       "both",
			box:        BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.15},
			confidence: 0.5,
			want:       QualityFlags{TooSmall: true, LowConfidence: true},
		},
		{
			name:       "at the thresholds is not flagged",
			box:        BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.2},
			confidence: 0.70,
			want:       QualityFlags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeQualityFlags(tt.box, tt.confidence, thresholds)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, boolToInt(tt.want.TooSmall)+boolToInt(tt.want.LowConfidence), got.Count())
		})
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestRecommendationFromPattern(t *testing.T) {
	p := &LearnedPattern{Feature: "beak", Confidence: 0.8, Approvals: 4, Rejections: 1}
	r := RecommendationFromPattern(p)

	assert.Equal(t, "beak", r.Feature)
	assert.InDelta(t, 1.3, r.Multiplier, 1e-9)
	assert.InDelta(t, 0.8, r.ApprovalRate, 1e-9)
}
