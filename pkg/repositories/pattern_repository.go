package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves-engine/pkg/models"
)

// PatternRepository is the Postgres-backed learned-pattern store, shared by
// every engine instance.
type PatternRepository interface {
	// RecordOutcome folds one outcome into its (species, feature) row under a row lock.
	RecordOutcome(ctx context.Context, outcome *models.PatternOutcome, params models.LearningParams) (*models.LearnedPattern, error)
	// GetRecommendations ranks a species' patterns by confidence, then recency.
	GetRecommendations(ctx context.Context, species string, limit int) ([]*models.LearnedPattern, error)
	ListBySpecies(ctx context.Context, species string) ([]*models.LearnedPattern, error)
	Export(ctx context.Context) ([]*models.LearnedPattern, error)
}

type patternRepository struct{}

// NewPatternRepository creates a new PatternRepository.
func NewPatternRepository() PatternRepository {
	return &patternRepository{}
}

var _ PatternRepository = (*patternRepository)(nil)

const patternColumns = `
	species, feature, feature_type, spanish_term, english_term, approvals, rejections,
	corrections, rejection_categories, confidence, spatial_prior,
	COALESCE(last_outcome_at, created_at), created_at, updated_at`

func scanPattern(row pgx.Row) (*models.LearnedPattern, error) {
	var (
		p          models.LearnedPattern
		typ        string
		categories []byte
		prior      []byte
	)
	err := row.Scan(
		&p.Species, &p.Feature, &typ, &p.SpanishTerm, &p.EnglishTerm, &p.Approvals, &p.Rejections,
		&p.Corrections, &categories, &p.Confidence, &prior,
		&p.LastOutcomeAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FeatureType = models.AnnotationType(typ)

	p.RejectionCategories = map[string]int{}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &p.RejectionCategories); err != nil {
			return nil, fmt.Errorf("decode rejection categories: %w", err)
		}
	}
	if len(prior) > 0 && string(prior) != "null" {
		p.SpatialPrior = &models.SpatialPrior{}
		if err := json.Unmarshal(prior, p.SpatialPrior); err != nil {
			return nil, fmt.Errorf("decode spatial prior: %w", err)
		}
	}
	return &p, nil
}

func (r *patternRepository) RecordOutcome(ctx context.Context, outcome *models.PatternOutcome, params models.LearningParams) (*models.LearnedPattern, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx, `
		INSERT INTO learned_patterns (species, feature, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (species, feature) DO NOTHING`,
		outcome.Species, outcome.Feature, models.InitialConfidence, outcome.OccurredAt); err != nil {
		return nil, fmt.Errorf("failed to seed learned pattern: %w", err)
	}

	p, err := scanPattern(tx.QueryRow(ctx, `
		SELECT `+patternColumns+`
		FROM learned_patterns
		WHERE species = $1 AND feature = $2
		FOR UPDATE`, outcome.Species, outcome.Feature))
	if err != nil {
		return nil, fmt.Errorf("failed to lock learned pattern: %w", err)
	}

	p.ApplyOutcome(outcome, params)

	categories, err := json.Marshal(p.RejectionCategories)
	if err != nil {
		return nil, fmt.Errorf("encode rejection categories: %w", err)
	}
	var prior []byte
	if p.SpatialPrior != nil {
		if prior, err = json.Marshal(p.SpatialPrior); err != nil {
			return nil, fmt.Errorf("encode spatial prior: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE learned_patterns
		SET feature_type = $3, spanish_term = $4, english_term = $5, approvals = $6,
		    rejections = $7, corrections = $8, rejection_categories = $9, confidence = $10,
		    spatial_prior = $11, last_outcome_at = $12, updated_at = $13
		WHERE species = $1 AND feature = $2`,
		p.Species, p.Feature, string(p.FeatureType), p.SpanishTerm, p.EnglishTerm, p.Approvals,
		p.Rejections, p.Corrections, categories, p.Confidence,
		prior, p.LastOutcomeAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update learned pattern: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

func (r *patternRepository) GetRecommendations(ctx context.Context, species string, limit int) ([]*models.LearnedPattern, error) {
	return r.list(ctx, `
		SELECT `+patternColumns+`
		FROM learned_patterns
		WHERE species = $1
		ORDER BY confidence DESC, last_outcome_at DESC NULLS LAST, feature
		LIMIT $2`, species, limit)
}

func (r *patternRepository) ListBySpecies(ctx context.Context, species string) ([]*models.LearnedPattern, error) {
	return r.list(ctx, `
		SELECT `+patternColumns+`
		FROM learned_patterns
		WHERE species = $1
		ORDER BY feature`, species)
}

func (r *patternRepository) Export(ctx context.Context) ([]*models.LearnedPattern, error) {
	return r.list(ctx, `
		SELECT `+patternColumns+`
		FROM learned_patterns
		ORDER BY species, feature`)
}

func (r *patternRepository) list(ctx context.Context, query string, args ...any) ([]*models.LearnedPattern, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]*models.LearnedPattern, 0)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan learned pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learned patterns: %w", err)
	}
	return patterns, nil
}
