package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/llm"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/prompts"
	"github.com/aves-app/aves-engine/pkg/retry"
)

// GenerationInput names the image a generation run annotates.
type GenerationInput struct {
	ImageID  string
	ImageURL string
	Species  string
}

// GenerationResult is the validated output of one generation run.
type GenerationResult struct {
	Items    []*models.AnnotationItem
	Model    string
	Attempts int
	// Dropped counts model features discarded by validation or filtering.
	Dropped int
}

// AnnotationGenerator turns one image into candidate annotation items.
type AnnotationGenerator interface {
	Generate(ctx context.Context, in GenerationInput) (*GenerationResult, error)
}

type annotationGenerator struct {
	vision       llm.VisionClient
	locator      llm.BirdLocator
	advisor      FeatureAdvisor
	cfg          config.GenerationConfig
	maxFeatures  int
	regionMargin float64
	params       models.LearningParams
	logger       *zap.Logger
}

// NewAnnotationGenerator creates the generation adapter. locator and advisor
// are optional; without them generation is unfiltered and unbiased.
func NewAnnotationGenerator(
	vision llm.VisionClient,
	locator llm.BirdLocator,
	advisor FeatureAdvisor,
	cfg *config.Config,
	logger *zap.Logger,
) AnnotationGenerator {
	maxFeatures := cfg.Vision.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = 8
	}
	return &annotationGenerator{
		vision:       vision,
		locator:      locator,
		advisor:      advisor,
		cfg:          cfg.Generation,
		maxFeatures:  maxFeatures,
		regionMargin: cfg.CloudVision.RegionMargin,
		params:       learningParams(cfg.Learning),
		logger:       logger.Named("annotation-generator"),
	}
}

var _ AnnotationGenerator = (*annotationGenerator)(nil)

// learnedHints is what the pattern engine knows about a species.
type learnedHints struct {
	prioritize []prompts.FeatureHint
	avoid      []prompts.FeatureHint
	priors     map[string]*models.SpatialPrior
}

func (g *annotationGenerator) Generate(ctx context.Context, in GenerationInput) (*GenerationResult, error) {
	species := models.NormalizeSpecies(in.Species)
	hints := g.loadHints(ctx, species)

	promptSpecies := species
	if species == models.UnknownSpecies {
		promptSpecies = ""
	}
	req := &llm.DetectionRequest{
		ImageURL:     in.ImageURL,
		SystemPrompt: prompts.BuildFeatureDetectionSystemMessage(),
		Prompt: prompts.BuildFeatureDetectionPrompt(prompts.FeatureDetectionInput{
			Species:     promptSpecies,
			MaxFeatures: g.maxFeatures,
			Prioritize:  hints.prioritize,
			Avoid:       hints.avoid,
		}),
		MaxFeatures: g.maxFeatures,
	}

	retryCfg := retry.ForAttempts(g.cfg.MaxAttempts, g.cfg.BaseDelay, g.cfg.MaxDelay, g.cfg.MaxRetryElapsed)
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.Warn("Vision call failed, retrying",
			zap.String("image_id", in.ImageID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	result, attempts, err := retry.DoIfRetryableWithResult(ctx, retryCfg, func(int) (*llm.DetectionResult, error) {
		return g.vision.DetectFeatures(ctx, req)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &apperrors.GenerationError{
			Message:   "vision call failed",
			Attempts:  attempts,
			Retryable: retry.IsRetryable(err),
			Cause:     err,
		}
	}

	items, dropped := g.normalize(result.Features)
	before := len(items)
	items = g.filterByPriors(items, hints.priors)
	items = g.filterByRegion(ctx, in, items)
	if len(items) > g.maxFeatures {
		items = items[:g.maxFeatures]
	}
	dropped += before - len(items)

	if len(items) == 0 {
		return nil, &apperrors.GenerationError{
			Message:  fmt.Sprintf("no usable annotations among %d model features", len(result.Features)),
			Attempts: attempts,
		}
	}

	model := result.Model
	if model == "" {
		model = g.vision.GetModel()
	}

	g.logger.Info("Generated annotations",
		zap.String("image_id", in.ImageID),
		zap.String("species", species),
		zap.String("model", model),
		zap.Int("items", len(items)),
		zap.Int("dropped", dropped),
		zap.Int("attempts", attempts))

	return &GenerationResult{Items: items, Model: model, Attempts: attempts, Dropped: dropped}, nil
}

// loadHints tolerates an empty or failing pattern engine; generation then
// runs unbiased.
func (g *annotationGenerator) loadHints(ctx context.Context, species string) learnedHints {
	var hints learnedHints
	if g.advisor == nil {
		return hints
	}

	recommended, err := g.advisor.GetRecommendedFeatures(ctx, species, 0)
	if err != nil {
		g.logger.Warn("Failed to load recommended features", zap.String("species", species), zap.Error(err))
	}
	avoid, err := g.advisor.GetAvoidFeatures(ctx, species)
	if err != nil {
		g.logger.Warn("Failed to load avoided features", zap.String("species", species), zap.Error(err))
	}
	hints.priors, err = g.advisor.GetSpatialPriors(ctx, species)
	if err != nil {
		g.logger.Warn("Failed to load spatial priors", zap.String("species", species), zap.Error(err))
	}

	avoided := make(map[string]bool, len(avoid))
	for _, f := range avoid {
		avoided[f.Feature] = true
		hints.avoid = append(hints.avoid, prompts.FeatureHint{
			EnglishTerm: f.EnglishTerm,
			SpanishTerm: f.SpanishTerm,
			Confidence:  f.Confidence,
		})
	}
	for _, f := range recommended {
		if avoided[f.Feature] {
			continue
		}
		hint := prompts.FeatureHint{
			EnglishTerm: f.EnglishTerm,
			SpanishTerm: f.SpanishTerm,
			Confidence:  f.Confidence,
		}
		if f.SpatialPrior != nil && f.SpatialPrior.Samples >= g.params.MinPriorSamples {
			hint.Region = prompts.DescribeRegion(f.SpatialPrior.CenterX, f.SpatialPrior.CenterY)
		}
		hints.prioritize = append(hints.prioritize, hint)
	}
	return hints
}

// normalize converts raw model features into items, dropping anything
// invalid and collapsing duplicate features onto the most confident one.
func (g *annotationGenerator) normalize(raw []llm.RawFeature) ([]*models.AnnotationItem, int) {
	items := make([]*models.AnnotationItem, 0, len(raw))
	index := make(map[string]int, len(raw))
	dropped := 0

	for i := range raw {
		item, err := g.toItem(&raw[i])
		if err != nil {
			dropped++
			g.logger.Debug("Dropping model feature",
				zap.String("english_term", raw[i].EnglishTerm),
				zap.Error(err))
			continue
		}

		key := models.FeatureKey(item.EnglishTerm)
		if at, ok := index[key]; ok {
			dropped++
			if item.Confidence > items[at].Confidence {
				items[at] = item
			}
			continue
		}
		index[key] = len(items)
		items = append(items, item)
	}
	return items, dropped
}

var errMissingBox = errors.New("feature has no bounding box")

func (g *annotationGenerator) toItem(f *llm.RawFeature) (*models.AnnotationItem, error) {
	if len(f.BoundingBox) == 0 {
		return nil, errMissingBox
	}
	box, err := models.ParseBoundingBox(f.BoundingBox)
	if err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}

	confidence := g.cfg.DefaultConfidence
	if f.Confidence != nil {
		confidence = *f.Confidence
	}

	difficulty := models.DefaultDifficulty
	if f.Difficulty != nil {
		difficulty = min(max(*f.Difficulty, models.MinDifficulty), models.MaxDifficulty)
	}

	item := &models.AnnotationItem{
		SpanishTerm:     f.SpanishTerm,
		EnglishTerm:     f.EnglishTerm,
		BoundingBox:     box,
		Type:            models.ParseAnnotationType(f.Type),
		DifficultyLevel: difficulty,
		Confidence:      confidence,
		Status:          models.ItemStatusPending,
	}
	if f.Pronunciation != "" {
		p := f.Pronunciation
		item.Pronunciation = &p
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// filterByPriors drops boxes far from where reviewers have placed the feature before.
func (g *annotationGenerator) filterByPriors(items []*models.AnnotationItem, priors map[string]*models.SpatialPrior) []*models.AnnotationItem {
	if len(priors) == 0 {
		return items
	}
	kept := items[:0]
	for _, item := range items {
		prior := priors[models.FeatureKey(item.EnglishTerm)]
		if !prior.IsPlausible(item.BoundingBox, g.params) {
			g.logger.Debug("Dropping implausible box",
				zap.String("english_term", item.EnglishTerm),
				zap.String("box", item.BoundingBox.String()))
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// filterByRegion drops boxes centered outside the localized bird. Locator
// failures and misses leave the items untouched.
func (g *annotationGenerator) filterByRegion(ctx context.Context, in GenerationInput, items []*models.AnnotationItem) []*models.AnnotationItem {
	if g.locator == nil || len(items) == 0 {
		return items
	}

	region, found, err := g.locator.LocateBird(ctx, in.ImageURL)
	if err != nil {
		g.logger.Warn("Bird localization failed, skipping region filter",
			zap.String("image_id", in.ImageID),
			zap.Error(err))
		return items
	}
	if !found {
		return items
	}

	area := region.Expand(g.regionMargin)
	kept := make([]*models.AnnotationItem, 0, len(items))
	for _, item := range items {
		if area.Contains(item.BoundingBox.Center()) {
			kept = append(kept, item)
		}
	}
	if dropped := len(items) - len(kept); dropped > 0 {
		g.logger.Debug("Dropped features outside the bird",
			zap.String("image_id", in.ImageID),
			zap.String("region", region.String()),
			zap.Int("dropped", dropped))
	}
	return kept
}
