package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/retry"
)

// AnalyticsService computes review-queue health from the annotation store.
// It never writes.
type AnalyticsService interface {
	GetStats(ctx context.Context) (*models.ReviewStats, error)
	GetAnalytics(ctx context.Context) (*models.ReviewAnalytics, error)
}

type analyticsService struct {
	analyticsRepo repositories.AnalyticsRepository
	jobRepo       repositories.AnnotationJobRepository
	reviewRepo    repositories.ReviewRepository
	scopes        database.ScopeProvider
	cfg           config.ReviewConfig
	now           func() time.Time
	logger        *zap.Logger
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(
	analyticsRepo repositories.AnalyticsRepository,
	jobRepo repositories.AnnotationJobRepository,
	reviewRepo repositories.ReviewRepository,
	scopes database.ScopeProvider,
	cfg config.ReviewConfig,
	logger *zap.Logger,
) AnalyticsService {
	return &analyticsService{
		analyticsRepo: analyticsRepo,
		jobRepo:       jobRepo,
		reviewRepo:    reviewRepo,
		scopes:        scopes,
		cfg:           cfg,
		now:           time.Now,
		logger:        logger.Named("analytics-service"),
	}
}

var _ AnalyticsService = (*analyticsService)(nil)

func (s *analyticsService) thresholds() models.QualityThresholds {
	return models.QualityThresholds{TooSmallArea: s.cfg.TooSmallArea, LowConfidence: s.cfg.LowConfidence}
}

// read runs an idempotent read with retries inside a scope.
func (s *analyticsService) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	if err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error { return fn(ctx) }); err != nil {
		return apperrors.NewPersistenceError(op, err)
	}
	return nil
}

func (s *analyticsService) GetStats(ctx context.Context) (*models.ReviewStats, error) {
	var stats *models.ReviewStats
	err := s.read(ctx, "review stats", func(ctx context.Context) error {
		var err error
		stats, err = s.stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *analyticsService) stats(ctx context.Context) (*models.ReviewStats, error) {
	totals, err := s.analyticsRepo.ItemTotals(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.reviewRepo.ListRecentActions(ctx, s.cfg.RecentActivityLimit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*models.ReviewAction{}
	}

	return &models.ReviewStats{
		Total:          totals.Total,
		Pending:        totals.ByStatus[models.ItemStatusPending],
		Approved:       totals.ByStatus[models.ItemStatusApproved],
		Rejected:       totals.ByStatus[models.ItemStatusRejected],
		Edited:         totals.ByStatus[models.ItemStatusEdited],
		AvgConfidence:  totals.AvgConfidence,
		Jobs:           jobs,
		RecentActivity: recent,
	}, nil
}

func (s *analyticsService) GetAnalytics(ctx context.Context) (*models.ReviewAnalytics, error) {
	a := &models.ReviewAnalytics{GeneratedAt: s.now().UTC()}

	err := s.read(ctx, "review analytics", func(ctx context.Context) error {
		stats, err := s.stats(ctx)
		if err != nil {
			return err
		}
		byType, err := s.analyticsRepo.ByType(ctx)
		if err != nil {
			return err
		}
		bySpecies, err := s.analyticsRepo.BySpecies(ctx)
		if err != nil {
			return err
		}
		notes, err := s.analyticsRepo.RejectionNotes(ctx)
		if err != nil {
			return err
		}
		thresholds := s.thresholds()
		quality, err := s.analyticsRepo.PendingQuality(ctx, thresholds)
		if err != nil {
			return err
		}
		flagged, err := s.analyticsRepo.ListFlaggedPending(ctx, thresholds, s.cfg.PriorityQueueLimit)
		if err != nil {
			return err
		}

		a.Overview = *stats
		a.ByType = nonNil(byType)
		a.BySpecies = nonNil(bySpecies)
		a.RejectionsByCategory, a.UncategorizedRejections, a.TotalRejections = RejectionHistogram(notes)
		a.QualityFlags = *quality
		_, a.PriorityQueue = PrioritizePending(flagged, thresholds, s.cfg.PriorityQueueLimit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// RejectionHistogram counts rejections per bracketed category. Uncategorized
// rejections are kept out of the histogram but included in total.
func RejectionHistogram(notes []string) (byCategory map[string]int, uncategorized, total int) {
	byCategory = make(map[string]int)
	for _, n := range notes {
		total++
		if c, ok := models.ParseRejectionCategory(n); ok {
			byCategory[c]++
		} else {
			uncategorized++
		}
	}
	return byCategory, uncategorized, total
}

// PrioritizePending evaluates the quality flags of pending items and returns
// the flagged ones most-flagged first, then least confident, then oldest.
func PrioritizePending(items []*models.AnnotationItem, t models.QualityThresholds, limit int) (models.QualityFlagSummary, []models.PriorityItem) {
	summary := models.QualityFlagSummary{}
	queue := make([]models.PriorityItem, 0)

	for _, item := range items {
		if item.Status != models.ItemStatusPending {
			continue
		}
		summary.PendingEvaluated++

		flags := models.ComputeQualityFlags(item.BoundingBox, item.Confidence, t)
		if flags.TooSmall {
			summary.TooSmall++
		}
		if flags.LowConfidence {
			summary.LowConfidence++
		}
		if flags.TooSmall && flags.LowConfidence {
			summary.Both++
		}
		if flags.Count() == 0 {
			continue
		}

		queue = append(queue, models.PriorityItem{
			ID:          item.ID,
			JobID:       item.JobID,
			ImageID:     item.ImageID,
			Species:     item.Species,
			EnglishTerm: item.EnglishTerm,
			SpanishTerm: item.SpanishTerm,
			Confidence:  item.Confidence,
			Area:        item.BoundingBox.Area(),
			Flags:       flags,
			CreatedAt:   item.CreatedAt,
		})
	}

	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.Flags.Count() != b.Flags.Count() {
			return a.Flags.Count() > b.Flags.Count()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence < b.Confidence
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(queue) > limit {
		queue = queue[:limit]
	}
	return summary, queue
}
