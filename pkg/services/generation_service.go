package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/logging"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/retry"
	"github.com/aves-app/aves-engine/pkg/services/workqueue"
)

// Error message prefixes stored on failed jobs.
const (
	FailurePrefixGeneration  = "generation: "
	FailurePrefixPersistence = "persistence: "
	FailurePrefixTimeout     = "timeout: "
	FailurePrefixCancelled   = "cancelled: "
)

// GenerateRequest starts annotation generation for one image.
type GenerateRequest struct {
	ImageID  string
	ImageURL string
	Species  string
}

// Validate checks the request before a job is created.
func (r *GenerateRequest) Validate() error {
	ve := &apperrors.ValidationError{}
	if strings.TrimSpace(r.ImageID) == "" {
		ve.Add("imageId", "is required")
	}
	if strings.TrimSpace(r.ImageURL) == "" {
		ve.Add("imageUrl", "is required")
	} else if u, err := url.Parse(r.ImageURL); err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "gs") || u.Host == "" {
		ve.Add("imageUrl", "must be an absolute http(s) or gs URL")
	}
	return ve.OrNil()
}

// JobDetail is a job together with its items.
type JobDetail struct {
	*models.AnnotationJob
	Items []*models.AnnotationItem `json:"annotations"`
}

// GenerationService runs annotation generation asynchronously. Callers poll
// the job for its outcome.
type GenerationService interface {
	StartGeneration(ctx context.Context, req GenerateRequest) (*models.AnnotationJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*JobDetail, error)
	// FailJob moves a processing job to failed. Reports whether it changed.
	FailJob(ctx context.Context, jobID uuid.UUID, message string) (bool, error)
	// Shutdown cancels in-flight generation and waits for the tasks to settle.
	Shutdown(ctx context.Context) error
}

type generationService struct {
	jobRepo   repositories.AnnotationJobRepository
	itemRepo  repositories.AnnotationItemRepository
	scopes    database.ScopeProvider
	generator AnnotationGenerator
	queue     *workqueue.Queue
	cfg       config.GenerationConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewGenerationService creates a GenerationService that runs tasks on queue.
func NewGenerationService(
	jobRepo repositories.AnnotationJobRepository,
	itemRepo repositories.AnnotationItemRepository,
	scopes database.ScopeProvider,
	generator AnnotationGenerator,
	queue *workqueue.Queue,
	cfg config.GenerationConfig,
	logger *zap.Logger,
) GenerationService {
	return &generationService{
		jobRepo:   jobRepo,
		itemRepo:  itemRepo,
		scopes:    scopes,
		generator: generator,
		queue:     queue,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("generation-service"),
	}
}

var _ GenerationService = (*generationService)(nil)

func (s *generationService) StartGeneration(ctx context.Context, req GenerateRequest) (*models.AnnotationJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	job := &models.AnnotationJob{
		ImageID:    strings.TrimSpace(req.ImageID),
		ImageURL:   strings.TrimSpace(req.ImageURL),
		Species:    req.Species,
		DeadlineAt: s.now().Add(s.cfg.Timeout),
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, apperrors.NewPersistenceError("create job", err)
	}

	if err := s.queue.Submit(newGenerationTask(s, job)); err != nil {
		msg := FailurePrefixCancelled + "generation could not be scheduled: " + err.Error()
		if _, markErr := s.jobRepo.MarkFailed(ctx, job.ID, msg); markErr != nil {
			s.logger.Error("Failed to mark unscheduled job failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(markErr))
		}
		return nil, fmt.Errorf("schedule generation for job %s: %w", job.ID, err)
	}

	s.logger.Info("Started annotation generation",
		zap.String("job_id", job.ID.String()),
		zap.String("image_id", job.ImageID),
		zap.String("species", job.Species),
		zap.Time("deadline", job.DeadlineAt))
	return job, nil
}

func (s *generationService) GetJob(ctx context.Context, jobID uuid.UUID) (*JobDetail, error) {
	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	var detail *JobDetail
	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		job, err := s.jobRepo.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		items, err := s.itemRepo.ListByJob(ctx, jobID)
		if err != nil {
			return err
		}
		detail = &JobDetail{AnnotationJob: job, Items: items}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("get job", err)
	}
	return detail, nil
}

func (s *generationService) FailJob(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	ctx, release, err := s.scopes.WithScopeContext(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	message = logging.TruncateString(message, maxFailureMessage)
	var changed bool
	err = retry.DoIfRetryable(ctx, s.persistRetry(), func() error {
		var err error
		changed, err = s.jobRepo.MarkFailed(ctx, jobID, message)
		return err
	})
	if err != nil {
		return false, apperrors.NewPersistenceError("fail job", err)
	}
	if changed {
		s.logger.Warn("Annotation job failed",
			zap.String("job_id", jobID.String()),
			zap.String("reason", message))
	}
	return changed, nil
}

func (s *generationService) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// maxFailureMessage bounds the error payload stored on a job.
const maxFailureMessage = 1000

func (s *generationService) persistRetry() *retry.Config {
	return retry.ForAttempts(s.cfg.PersistAttempts, 200*time.Millisecond, 2*time.Second, 0)
}

// run is the body of a generation task. Cancellation and deadline failures
// are left to the task hooks.
func (s *generationService) run(ctx context.Context, job *models.AnnotationJob) error {
	result, err := s.generator.Generate(ctx, GenerationInput{
		ImageID:  job.ImageID,
		ImageURL: job.ImageURL,
		Species:  job.Species,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.failDetached(ctx, job.ID, FailurePrefixGeneration+logging.ErrorPayload(err))
		return err
	}

	err = s.persist(ctx, job.ID, result)
	switch {
	case err == nil:
		s.logger.Info("Annotation job ready for review",
			zap.String("job_id", job.ID.String()),
			zap.Int("items", len(result.Items)),
			zap.String("model", result.Model))
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		s.logger.Warn("Annotation job was resolved before its results were stored",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.failDetached(ctx, job.ID, FailurePrefixPersistence+logging.ErrorPayload(err))
		return err
	}
}

func (s *generationService) persist(ctx context.Context, jobID uuid.UUID, result *GenerationResult) error {
	return retry.DoIfRetryable(ctx, s.persistRetry(), func() error {
		sctx, release, err := s.scopes.WithScopeContext(ctx)
		if err != nil {
			return err
		}
		defer release()
		return s.jobRepo.CompleteWithItems(sctx, jobID, result.Model, result.Items)
	})
}

// failDetached marks the job failed even if ctx ends meanwhile.
func (s *generationService) failDetached(ctx context.Context, jobID uuid.UUID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := s.FailJob(ctx, jobID, message); err != nil {
		s.logger.Error("Failed to mark annotation job failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}
