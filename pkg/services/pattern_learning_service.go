package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/models"
)

// FeedbackSink receives the learning signal of a committed review.
type FeedbackSink interface {
	CaptureFeedback(ctx context.Context, event *models.FeedbackEvent) error
}

// FeatureAdvisor is the read side generation consults before calling the model.
type FeatureAdvisor interface {
	GetRecommendedFeatures(ctx context.Context, species string, limit int) ([]models.RecommendedFeature, error)
	GetAvoidFeatures(ctx context.Context, species string) ([]models.RecommendedFeature, error)
	GetSpatialPriors(ctx context.Context, species string) (map[string]*models.SpatialPrior, error)
}

// ExportFormat selects the encoding of ExportLearnedPatterns.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatYAML ExportFormat = "yaml"
)

// ParseExportFormat accepts json (the default for "") or yaml/yml.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return ExportFormatJSON, nil
	case "yaml", "yml":
		return ExportFormatYAML, nil
	}
	return "", apperrors.NewValidationError("format", fmt.Sprintf("must be json or yaml, got %q", s))
}

// PatternLearningService turns review outcomes into learned patterns and
// answers the advisory queries generation and analytics need.
type PatternLearningService interface {
	FeedbackSink
	FeatureAdvisor
	GetPatternAnalytics(ctx context.Context) (*models.PatternAnalytics, error)
	ExportLearnedPatterns(ctx context.Context, format ExportFormat) ([]byte, error)
}

const analyticsTopN = 10

type patternLearningService struct {
	store  PatternStore
	scopes database.ScopeProvider
	cfg    config.LearningConfig
	params models.LearningParams
	now    func() time.Time
	logger *zap.Logger
}

// NewPatternLearningService creates the learning engine over store. scopes
// may be nil when the store does not need a database connection.
func NewPatternLearningService(
	store PatternStore,
	scopes database.ScopeProvider,
	cfg config.LearningConfig,
	logger *zap.Logger,
) PatternLearningService {
	return &patternLearningService{
		store:  store,
		scopes: scopes,
		cfg:    cfg,
		params: learningParams(cfg),
		now:    time.Now,
		logger: logger.Named("pattern-learning-service"),
	}
}

var _ PatternLearningService = (*patternLearningService)(nil)

func learningParams(cfg config.LearningConfig) models.LearningParams {
	p := models.DefaultLearningParams()
	if cfg.Alpha > 0 && cfg.Alpha <= 1 {
		p.Alpha = cfg.Alpha
	}
	if cfg.PositionFixTarget > 0 && cfg.PositionFixTarget <= 1 {
		p.PositionFixTarget = cfg.PositionFixTarget
	}
	if cfg.MinPriorSamples > 0 {
		p.MinPriorSamples = cfg.MinPriorSamples
	}
	if cfg.MaxCenterDrift > 0 {
		p.MaxCenterDrift = cfg.MaxCenterDrift
	}
	if cfg.MaxAreaRatio > 0 {
		p.MaxAreaRatio = cfg.MaxAreaRatio
	}
	return p
}

// withScope gives store calls a connection when the store needs one.
func (s *patternLearningService) withScope(ctx context.Context) (context.Context, func(), error) {
	if s.scopes == nil {
		return ctx, func() {}, nil
	}
	return s.scopes.WithScopeContext(ctx)
}

func (s *patternLearningService) CaptureFeedback(ctx context.Context, event *models.FeedbackEvent) error {
	outcome, ok := models.OutcomeFromEvent(event)
	if !ok {
		s.logger.Debug("Ignoring feedback without a feature",
			zap.String("kind", string(event.Kind)),
			zap.String("annotation_id", event.ItemID.String()))
		return nil
	}

	ctx, release, err := s.withScope(ctx)
	if err != nil {
		return fmt.Errorf("acquire scope for feedback: %w", err)
	}
	defer release()

	p, err := s.store.RecordOutcome(ctx, outcome, s.params)
	if err != nil {
		return fmt.Errorf("record %s outcome for %s/%s: %w", outcome.Kind, outcome.Species, outcome.Feature, err)
	}

	s.logger.Debug("Captured review feedback",
		zap.String("kind", string(outcome.Kind)),
		zap.String("species", p.Species),
		zap.String("feature", p.Feature),
		zap.String("category", outcome.Category),
		zap.Float64("confidence", p.Confidence))
	return nil
}

func (s *patternLearningService) GetRecommendedFeatures(ctx context.Context, species string, limit int) ([]models.RecommendedFeature, error) {
	if limit <= 0 {
		limit = s.cfg.RecommendationLimit
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, release, err := s.withScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope for recommendations: %w", err)
	}
	defer release()

	patterns, err := s.store.GetRecommendations(ctx, models.NormalizeSpecies(species), limit)
	if err != nil {
		return nil, fmt.Errorf("get recommendations: %w", err)
	}

	out := make([]models.RecommendedFeature, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, models.RecommendationFromPattern(p))
	}
	return out, nil
}

// GetAvoidFeatures lists features reviewers keep rejecting, least trusted first.
func (s *patternLearningService) GetAvoidFeatures(ctx context.Context, species string) ([]models.RecommendedFeature, error) {
	patterns, err := s.listSpecies(ctx, species)
	if err != nil {
		return nil, err
	}

	out := make([]models.RecommendedFeature, 0)
	for _, p := range patterns {
		if s.shouldAvoid(p) {
			out = append(out, models.RecommendationFromPattern(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence < out[j].Confidence })
	return out, nil
}

func (s *patternLearningService) shouldAvoid(p *models.LearnedPattern) bool {
	return p.Confidence < s.cfg.AvoidBelow && p.Rejections >= s.cfg.AvoidMinRejections
}

// GetSpatialPriors returns the priors of a species keyed by feature.
func (s *patternLearningService) GetSpatialPriors(ctx context.Context, species string) (map[string]*models.SpatialPrior, error) {
	patterns, err := s.listSpecies(ctx, species)
	if err != nil {
		return nil, err
	}

	priors := make(map[string]*models.SpatialPrior)
	for _, p := range patterns {
		if p.SpatialPrior != nil {
			priors[p.Feature] = p.SpatialPrior
		}
	}
	return priors, nil
}

func (s *patternLearningService) listSpecies(ctx context.Context, species string) ([]*models.LearnedPattern, error) {
	ctx, release, err := s.withScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope for patterns: %w", err)
	}
	defer release()

	patterns, err := s.store.ListBySpecies(ctx, models.NormalizeSpecies(species))
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return patterns, nil
}

func (s *patternLearningService) export(ctx context.Context) ([]*models.LearnedPattern, error) {
	ctx, release, err := s.withScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope for export: %w", err)
	}
	defer release()

	patterns, err := s.store.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export patterns: %w", err)
	}
	return patterns, nil
}

func (s *patternLearningService) GetPatternAnalytics(ctx context.Context) (*models.PatternAnalytics, error) {
	patterns, err := s.export(ctx)
	if err != nil {
		return nil, err
	}

	a := &models.PatternAnalytics{
		TotalPatterns:        len(patterns),
		TopFeatures:          make([]models.FeatureSummary, 0),
		MostCorrected:        make([]models.FeatureSummary, 0),
		RejectionsByCategory: map[string]int{},
	}

	species := make(map[string]struct{})
	var scored, corrected []*models.LearnedPattern
	for _, p := range patterns {
		species[p.Species] = struct{}{}
		a.TotalApprovals += p.Approvals
		a.TotalRejections += p.Rejections
		a.TotalCorrections += p.Corrections
		for category, n := range p.RejectionCategories {
			a.RejectionsByCategory[category] += n
		}
		if p.Samples() > 0 {
			scored = append(scored, p)
		}
		if p.Corrections > 0 {
			corrected = append(corrected, p)
		}
	}
	a.SpeciesTracked = len(species)

	if total := a.TotalApprovals + a.TotalRejections + a.TotalCorrections; total > 0 {
		a.OverallApprovalRate = float64(a.TotalApprovals+a.TotalCorrections) / float64(total)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Samples() > scored[j].Samples()
	})
	for i := 0; i < len(scored) && i < analyticsTopN; i++ {
		a.TopFeatures = append(a.TopFeatures, summarize(scored[i]))
	}

	sort.SliceStable(corrected, func(i, j int) bool { return corrected[i].Corrections > corrected[j].Corrections })
	for i := 0; i < len(corrected) && i < analyticsTopN; i++ {
		a.MostCorrected = append(a.MostCorrected, summarize(corrected[i]))
	}

	return a, nil
}

func summarize(p *models.LearnedPattern) models.FeatureSummary {
	return models.FeatureSummary{
		Species:     p.Species,
		Feature:     p.Feature,
		Confidence:  p.Confidence,
		Samples:     p.Samples(),
		Corrections: p.Corrections,
	}
}

func (s *patternLearningService) ExportLearnedPatterns(ctx context.Context, format ExportFormat) ([]byte, error) {
	patterns, err := s.export(ctx)
	if err != nil {
		return nil, err
	}

	dump := models.PatternExport{
		Version:    models.PatternExportVersion,
		ExportedAt: s.now().UTC(),
		Patterns:   patterns,
	}

	switch format {
	case ExportFormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			return nil, fmt.Errorf("encode yaml export: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml export: %w", err)
		}
		return buf.Bytes(), nil
	case ExportFormatJSON, "":
		out, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json export: %w", err)
		}
		return out, nil
	default:
		return nil, apperrors.NewValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
}
