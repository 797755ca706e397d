package models

import (
	"math"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
)

// FeatureKey normalizes a feature term so "Wings", " wing " and "wing" share one pattern.
func FeatureKey(term string) string {
	term = strings.ToLower(strings.Join(strings.Fields(term), " "))
	if term == "" {
		return ""
	}
	words := strings.Split(term, " ")
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}

// LearnedPattern aggregates review outcomes for one (species, feature).
type LearnedPattern struct {
	Species     string         `json:"species" yaml:"species"`
	Feature     string         `json:"feature" yaml:"feature"`
	FeatureType AnnotationType `json:"featureType" yaml:"feature_type"`
	SpanishTerm string         `json:"spanishTerm" yaml:"spanish_term"`
	EnglishTerm string         `json:"englishTerm" yaml:"english_term"`
	Approvals   int            `json:"approvals" yaml:"approvals"`
	Rejections  int            `json:"rejections" yaml:"rejections"`
	Corrections int            `json:"corrections" yaml:"corrections"`
	// RejectionCategories counts categorized rejections only.
	RejectionCategories map[string]int `json:"rejectionCategories" yaml:"rejection_categories"`
	Confidence          float64        `json:"confidence" yaml:"confidence"`
	SpatialPrior        *SpatialPrior  `json:"spatialPrior,omitempty" yaml:"spatial_prior,omitempty"`
	LastOutcomeAt       time.Time      `json:"lastOutcomeAt" yaml:"last_outcome_at"`
	CreatedAt           time.Time      `json:"createdAt" yaml:"created_at"`
	UpdatedAt           time.Time      `json:"updatedAt" yaml:"updated_at"`
}

// InitialConfidence is where a feature with no history starts.
const InitialConfidence = 0.5

// NewLearnedPattern returns an empty pattern for (species, feature).
func NewLearnedPattern(species, feature string, now time.Time) *LearnedPattern {
	return &LearnedPattern{
		Species:             species,
		Feature:             feature,
		RejectionCategories: map[string]int{},
		Confidence:          InitialConfidence,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Samples is the number of outcomes the pattern has absorbed.
func (p *LearnedPattern) Samples() int {
	return p.Approvals + p.Rejections + p.Corrections
}

// ApprovalRate counts corrections as accepted, since the feature was kept.
func (p *LearnedPattern) ApprovalRate() float64 {
	n := p.Samples()
	if n == 0 {
		return 0
	}
	return float64(p.Approvals+p.Corrections) / float64(n)
}

// Multiplier maps confidence onto a bounded weight in [0.5, 1.5].
func (p *LearnedPattern) Multiplier() float64 {
	return 0.5 + clamp01(p.Confidence)
}

// Clone returns a deep copy so callers can read without holding store locks.
func (p *LearnedPattern) Clone() *LearnedPattern {
	c := *p
	c.RejectionCategories = make(map[string]int, len(p.RejectionCategories))
	for k, v := range p.RejectionCategories {
		c.RejectionCategories[k] = v
	}
	if p.SpatialPrior != nil {
		prior := *p.SpatialPrior
		c.SpatialPrior = &prior
	}
	return &c
}

// LearningParams tunes ApplyOutcome and plausibility checks.
type LearningParams struct {
	Alpha             float64
	PositionFixTarget float64
	MinPriorSamples   int
	MaxCenterDrift    float64
	MaxAreaRatio      float64
}

// DefaultLearningParams mirrors the configuration defaults.
func DefaultLearningParams() LearningParams {
	return LearningParams{
		Alpha:             0.2,
		PositionFixTarget: 0.75,
		MinPriorSamples:   3,
		MaxCenterDrift:    0.35,
		MaxAreaRatio:      4.0,
	}
}

// PatternOutcome is a feedback event reduced to what a pattern store needs.
type PatternOutcome struct {
	Kind         FeedbackKind
	Species      string
	Feature      string
	FeatureType  AnnotationType
	SpanishTerm  string
	EnglishTerm  string
	Category     string
	OriginalBox  *BoundingBox
	CorrectedBox *BoundingBox
	OccurredAt   time.Time
}

// OutcomeFromEvent derives the store update for e. ok is false when the
// event names no feature.
func OutcomeFromEvent(e *FeedbackEvent) (*PatternOutcome, bool) {
	feature := FeatureKey(e.Feature())
	if feature == "" || e.Original == nil {
		return nil, false
	}

	src := e.Original
	if e.Corrected != nil {
		src = e.Corrected
	}
	out := &PatternOutcome{
		Kind:        e.Kind,
		Species:     NormalizeSpecies(e.Species),
		Feature:     feature,
		FeatureType: src.Type,
		SpanishTerm: src.SpanishTerm,
		EnglishTerm: src.EnglishTerm,
		Category:    e.Category,
		OccurredAt:  e.OccurredAt,
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now()
	}

	if e.Kind == FeedbackPositionFix {
		if e.Corrected == nil {
			return nil, false
		}
		orig := e.Original.BoundingBox
		corr := e.Corrected.BoundingBox
		out.OriginalBox = &orig
		out.CorrectedBox = &corr
	}
	return out, true
}

// ApplyOutcome folds one outcome into the pattern. Confidence moves by an
// exponential moving average toward the outcome's target, so recent reviews
// dominate and the value stays within [0,1].
func (p *LearnedPattern) ApplyOutcome(o *PatternOutcome, params LearningParams) {
	if p.RejectionCategories == nil {
		p.RejectionCategories = map[string]int{}
	}

	var target float64
	switch o.Kind {
	case FeedbackApprove:
		p.Approvals++
		target = 1
	case FeedbackReject:
		p.Rejections++
		if o.Category != "" && o.Category != Uncategorized {
			p.RejectionCategories[o.Category]++
		}
		target = 0
	case FeedbackPositionFix:
		p.Corrections++
		target = params.PositionFixTarget
		if o.OriginalBox != nil && o.CorrectedBox != nil {
			if p.SpatialPrior == nil {
				p.SpatialPrior = &SpatialPrior{}
			}
			p.SpatialPrior.Observe(*o.OriginalBox, *o.CorrectedBox)
		}
	default:
		return
	}

	p.Confidence = clamp01(p.Confidence + params.Alpha*(target-p.Confidence))

	if o.EnglishTerm != "" {
		p.EnglishTerm = o.EnglishTerm
	}
	if o.SpanishTerm != "" {
		p.SpanishTerm = o.SpanishTerm
	}
	if o.FeatureType != "" {
		p.FeatureType = o.FeatureType
	}
	p.LastOutcomeAt = o.OccurredAt
	p.UpdatedAt = o.OccurredAt
}

// SpatialPrior is the running expectation of where a feature sits, learned
// from reviewer position corrections.
type SpatialPrior struct {
	Samples int     `json:"samples" yaml:"samples"`
	CenterX float64 `json:"centerX" yaml:"center_x"`
	CenterY float64 `json:"centerY" yaml:"center_y"`
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
	// OffsetX/OffsetY average (corrected - original) center displacement.
	OffsetX float64 `json:"offsetX" yaml:"offset_x"`
	OffsetY float64 `json:"offsetY" yaml:"offset_y"`
	// Scale averages corrected area over original area.
	Scale float64 `json:"scale" yaml:"scale"`
}

// Observe moves every running mean toward the new correction.
func (s *SpatialPrior) Observe(original, corrected BoundingBox) {
	n := float64(s.Samples + 1)
	oc, cc := original.Center(), corrected.Center()

	s.CenterX += (cc.X - s.CenterX) / n
	s.CenterY += (cc.Y - s.CenterY) / n
	s.Width += (corrected.Width - s.Width) / n
	s.Height += (corrected.Height - s.Height) / n
	s.OffsetX += ((cc.X - oc.X) - s.OffsetX) / n
	s.OffsetY += ((cc.Y - oc.Y) - s.OffsetY) / n

	scale := 1.0
	if a := original.Area(); a > 0 {
		scale = corrected.Area() / a
	}
	s.Scale += (scale - s.Scale) / n
	s.Samples++
}

// Box returns the expected region as a bounding box.
func (s *SpatialPrior) Box() BoundingBox {
	return BoundingBox{
		X:      s.CenterX - s.Width/2,
		Y:      s.CenterY - s.Height/2,
		Width:  s.Width,
		Height: s.Height,
	}
}

// IsPlausible reports whether box is consistent with the prior. Priors with
// too few samples accept everything.
func (s *SpatialPrior) IsPlausible(box BoundingBox, params LearningParams) bool {
	if s == nil || s.Samples < params.MinPriorSamples {
		return true
	}

	c := box.Center()
	if math.Hypot(c.X-s.CenterX, c.Y-s.CenterY) > params.MaxCenterDrift {
		return false
	}

	expected := s.Width * s.Height
	if expected <= 0 || params.MaxAreaRatio <= 1 {
		return true
	}
	ratio := box.Area() / expected
	return ratio >= 1/params.MaxAreaRatio && ratio <= params.MaxAreaRatio
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
