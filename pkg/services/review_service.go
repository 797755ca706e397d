package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/retry"
)

// SystemReviewer is recorded when a review carries no authenticated identity.
const SystemReviewer = "system"

const (
	maxBulkJobs     = 100
	feedbackTimeout = 5 * time.Second
	// boxChangeEpsilon is the smallest coordinate change treated as a move.
	boxChangeEpsilon = 1e-6
)

// RejectRequest carries a rejection reason. At least one field is required.
type RejectRequest struct {
	Category string
	Notes    string
	// Reason is accepted as an alias for Notes.
	Reason string
}

// ReviewNotes validates the request and returns the notes to store, with the
// category embedded as a bracketed prefix.
func (r *RejectRequest) ReviewNotes() (string, error) {
	text := strings.TrimSpace(r.Notes)
	if text == "" {
		text = strings.TrimSpace(r.Reason)
	}
	category := strings.TrimSpace(r.Category)
	if category == "" && text == "" {
		return "", apperrors.NewValidationError("category", "a category, notes or reason is required")
	}
	if category != "" {
		normalized, err := models.ValidateCategory(category)
		if err != nil {
			return "", err
		}
		category = normalized
	}
	return models.FormatRejectionNotes(category, text), nil
}

// ItemPage is one page of the review queue.
type ItemPage struct {
	Items  []*models.AnnotationItem `json:"annotations"`
	Total  int                      `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ReviewService applies reviewer decisions and forwards their learning
// signal. Feedback is best-effort: a committed review never fails because
// learning did.
type ReviewService interface {
	Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*repositories.ReviewOutcome, error)
	Reject(ctx context.Context, itemID uuid.UUID, reviewer string, req RejectRequest) (*repositories.ReviewOutcome, error)
	Edit(ctx context.Context, itemID uuid.UUID, reviewer string, overrides *models.ItemOverrides, notes string) (*repositories.ReviewOutcome, error)
	// Patch fixes metadata of a pending item in place. No status change, no feedback.
	Patch(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error)
	// BulkApprove approves every pending item of each job, one transaction per job.
	BulkApprove(ctx context.Context, jobIDs []uuid.UUID, reviewer, notes string) (*models.BulkApproveResult, error)
	ListItems(ctx context.Context, status models.ItemStatus, limit, offset int) (*ItemPage, error)
}

type reviewService struct {
	reviewRepo repositories.ReviewRepository
	itemRepo   repositories.AnnotationItemRepository
	scopes     database.ScopeProvider
	feedback   FeedbackSink
	cfg        config.ReviewConfig
	logger     *zap.Logger
}

// NewReviewService creates a ReviewService. feedback may be nil.
func NewReviewService(
	reviewRepo repositories.ReviewRepository,
	itemRepo repositories.AnnotationItemRepository,
	scopes database.ScopeProvider,
	feedback FeedbackSink,
	cfg config.ReviewConfig,
	logger *zap.Logger,
) ReviewService {
	return &reviewService{
		reviewRepo: reviewRepo,
		itemRepo:   itemRepo,
		scopes:     scopes,
		feedback:   feedback,
		cfg:        cfg,
		logger:     logger.Named("review-service"),
	}
}

var _ ReviewService = (*reviewService)(nil)

func reviewerOrSystem(reviewer string) string {
	if reviewer = strings.TrimSpace(reviewer); reviewer != "" {
		return reviewer
	}
	return SystemReviewer
}

func (s *reviewService) Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*repositories.ReviewOutcome, error) {
	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	reviewer = reviewerOrSystem(reviewer)
	outcome, err := s.reviewRepo.Approve(ctx, itemID, reviewer, strings.TrimSpace(notes))
	if err != nil {
		return nil, apperrors.NewPersistenceError("approve annotation", err)
	}

	s.logger.Info("Approved annotation",
		zap.String("annotation_id", itemID.String()),
		zap.String("reviewer", reviewer))
	s.deliver(ctx, feedbackFor(models.FeedbackApprove, outcome, "", reviewer))
	return outcome, nil
}

func (s *reviewService) Reject(ctx context.Context, itemID uuid.UUID, reviewer string, req RejectRequest) (*repositories.ReviewOutcome, error) {
	notes, err := req.ReviewNotes()
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	reviewer = reviewerOrSystem(reviewer)
	outcome, err := s.reviewRepo.Reject(ctx, itemID, reviewer, notes)
	if err != nil {
		return nil, apperrors.NewPersistenceError("reject annotation", err)
	}

	category, _ := models.ParseRejectionCategory(notes)
	s.logger.Info("Rejected annotation",
		zap.String("annotation_id", itemID.String()),
		zap.String("category", models.CategoryOrUncategorized(notes)),
		zap.String("reviewer", reviewer))
	s.deliver(ctx, feedbackFor(models.FeedbackReject, outcome, category, reviewer))
	return outcome, nil
}

func (s *reviewService) Edit(ctx context.Context, itemID uuid.UUID, reviewer string, overrides *models.ItemOverrides, notes string) (*repositories.ReviewOutcome, error) {
	if overrides.IsEmpty() {
		return nil, apperrors.NewValidationError("body", "at least one field must be changed")
	}
	if err := overrides.Validate(); err != nil {
		return nil, err
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	reviewer = reviewerOrSystem(reviewer)
	outcome, err := s.reviewRepo.Edit(ctx, itemID, overrides, reviewer, strings.TrimSpace(notes))
	if err != nil {
		return nil, apperrors.NewPersistenceError("edit annotation", err)
	}

	kind := models.FeedbackApprove
	if !outcome.Original.BoundingBox.Equal(outcome.Item.BoundingBox, boxChangeEpsilon) {
		kind = models.FeedbackPositionFix
	}
	s.logger.Info("Edited annotation",
		zap.String("annotation_id", itemID.String()),
		zap.String("feedback", string(kind)),
		zap.String("reviewer", reviewer))
	s.deliver(ctx, feedbackFor(kind, outcome, "", reviewer))
	return outcome, nil
}

func (s *reviewService) Patch(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error) {
	if overrides.IsEmpty() {
		return nil, apperrors.NewValidationError("body", "at least one field must be changed")
	}
	if !overrides.HasMetadataOnly() {
		return nil, apperrors.NewValidationError("type", "type can only be changed through edit")
	}
	if err := overrides.Validate(); err != nil {
		return nil, err
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	item, err := s.itemRepo.UpdatePending(ctx, itemID, overrides)
	if err != nil {
		return nil, apperrors.NewPersistenceError("patch annotation", err)
	}
	return item, nil
}

func (s *reviewService) BulkApprove(ctx context.Context, jobIDs []uuid.UUID, reviewer, notes string) (*models.BulkApproveResult, error) {
	jobIDs = uniqueIDs(jobIDs)
	if len(jobIDs) == 0 {
		return nil, apperrors.NewValidationError("jobIds", "at least one job id is required")
	}
	if len(jobIDs) > maxBulkJobs {
		return nil, apperrors.NewValidationError("jobIds", fmt.Sprintf("at most %d job ids per request", maxBulkJobs))
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	reviewer = reviewerOrSystem(reviewer)
	notes = strings.TrimSpace(notes)
	result := &models.BulkApproveResult{Results: make(map[string]models.BulkJobResult, len(jobIDs))}

	for _, jobID := range jobIDs {
		approval, err := s.reviewRepo.ApproveJob(ctx, jobID, reviewer, notes)
		if err != nil {
			s.logger.Warn("Bulk approval failed for job",
				zap.String("job_id", jobID.String()),
				zap.Error(err))
			result.Results[jobID.String()] = models.BulkJobResult{
				Status: models.BulkStatusError,
				Error:  bulkErrorMessage(err),
			}
			result.Failed++
			continue
		}

		result.Results[jobID.String()] = models.BulkJobResult{
			Status:   models.BulkStatusSuccess,
			Approved: len(approval.Outcomes),
		}
		result.Succeeded++
		result.TotalApproved += len(approval.Outcomes)

		for _, outcome := range approval.Outcomes {
			s.deliver(ctx, feedbackFor(models.FeedbackApprove, outcome, "", reviewer))
		}
	}

	s.logger.Info("Bulk approval finished",
		zap.Int("jobs", len(jobIDs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("approved", result.TotalApproved),
		zap.String("reviewer", reviewer))
	return result, nil
}

func bulkErrorMessage(err error) string {
	if errors.Is(err, apperrors.ErrNotFound) {
		return "job not found"
	}
	return "approval failed; no items of this job were changed"
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *reviewService) ListItems(ctx context.Context, status models.ItemStatus, limit, offset int) (*ItemPage, error) {
	if status != "" && !status.IsValid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if offset < 0 {
		return nil, apperrors.NewValidationError("offset", "must not be negative")
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	page := &ItemPage{Limit: limit, Offset: offset}
	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		items, total, err := s.itemRepo.ListByStatus(ctx, status, limit, offset)
		if err != nil {
			return err
		}
		page.Items, page.Total = items, total
		return nil
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("list annotations", err)
	}
	if page.Items == nil {
		page.Items = []*models.AnnotationItem{}
	}
	return page, nil
}

func feedbackFor(kind models.FeedbackKind, outcome *repositories.ReviewOutcome, category, reviewer string) *models.FeedbackEvent {
	event := &models.FeedbackEvent{
		Kind:       kind,
		Species:    outcome.Original.Species,
		ImageID:    outcome.Original.ImageID,
		ItemID:     outcome.Original.ID,
		Original:   outcome.Original,
		Category:   category,
		Reviewer:   reviewer,
		OccurredAt: time.Now(),
	}
	if outcome.Action != nil {
		event.OccurredAt = outcome.Action.CreatedAt
	}
	if kind == models.FeedbackPositionFix || outcome.Item.Status == models.ItemStatusEdited {
		event.Corrected = outcome.Item
	}
	return event
}

// deliver hands a committed review to the learning engine. It runs after
// commit on a context detached from the request, and never fails the caller.
func (s *reviewService) deliver(ctx context.Context, event *models.FeedbackEvent) {
	if s.feedback == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), feedbackTimeout)
	defer cancel()

	if err := s.feedback.CaptureFeedback(ctx, event); err != nil {
		s.logger.Error("Failed to capture review feedback",
			zap.String("kind", string(event.Kind)),
			zap.String("annotation_id", event.ItemID.String()),
			zap.Error(err))
	}
}
