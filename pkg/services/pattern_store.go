package services

import (
	"context"
	"sort"
	"sync"

	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
)

// PatternStore persists learned patterns. The Postgres implementation is
// repositories.PatternRepository; MemoryPatternStore serves single-instance
// deployments and tests.
type PatternStore interface {
	RecordOutcome(ctx context.Context, outcome *models.PatternOutcome, params models.LearningParams) (*models.LearnedPattern, error)
	GetRecommendations(ctx context.Context, species string, limit int) ([]*models.LearnedPattern, error)
	ListBySpecies(ctx context.Context, species string) ([]*models.LearnedPattern, error)
	Export(ctx context.Context) ([]*models.LearnedPattern, error)
}

var _ PatternStore = (repositories.PatternRepository)(nil)

type patternKey struct {
	species string
	feature string
}

// MemoryPatternStore keeps patterns in process memory. Reads return copies,
// so callers never observe a pattern mid-update.
type MemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[patternKey]*models.LearnedPattern
}

// NewMemoryPatternStore creates an empty store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{patterns: make(map[patternKey]*models.LearnedPattern)}
}

var _ PatternStore = (*MemoryPatternStore)(nil)

func (s *MemoryPatternStore) RecordOutcome(ctx context.Context, outcome *models.PatternOutcome, params models.LearningParams) (*models.LearnedPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := patternKey{species: outcome.Species, feature: outcome.Feature}
	p, ok := s.patterns[key]
	if !ok {
		p = models.NewLearnedPattern(outcome.Species, outcome.Feature, outcome.OccurredAt)
		s.patterns[key] = p
	}
	p.ApplyOutcome(outcome, params)
	return p.Clone(), nil
}

func (s *MemoryPatternStore) GetRecommendations(ctx context.Context, species string, limit int) ([]*models.LearnedPattern, error) {
	out, _ := s.ListBySpecies(ctx, species)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].LastOutcomeAt.Equal(out[j].LastOutcomeAt) {
			return out[i].LastOutcomeAt.After(out[j].LastOutcomeAt)
		}
		return out[i].Feature < out[j].Feature
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryPatternStore) ListBySpecies(ctx context.Context, species string) ([]*models.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.LearnedPattern, 0)
	for key, p := range s.patterns {
		if key.species == species {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}

func (s *MemoryPatternStore) Export(ctx context.Context) ([]*models.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Species != out[j].Species {
			return out[i].Species < out[j].Species
		}
		return out[i].Feature < out[j].Feature
	})
	return out, nil
}
