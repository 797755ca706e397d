package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/models"
)

// AnnotationJobRepository provides data access for generation jobs.
type AnnotationJobRepository interface {
	Create(ctx context.Context, job *models.AnnotationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationJob, error)
	// CompleteWithItems inserts the job's items and moves it processing -> pending
	// in one transaction. Returns ErrConflict if the job is no longer processing.
	CompleteWithItems(ctx context.Context, jobID uuid.UUID, model string, items []*models.AnnotationItem) error
	// MarkFailed moves a processing job to failed. Reports whether it changed.
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (bool, error)
	// FailExpired fails every processing job whose deadline plus grace has passed.
	FailExpired(ctx context.Context, now time.Time, grace time.Duration, message string) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

type annotationJobRepository struct{}

// NewAnnotationJobRepository creates a new AnnotationJobRepository.
func NewAnnotationJobRepository() AnnotationJobRepository {
	return &annotationJobRepository{}
}

var _ AnnotationJobRepository = (*annotationJobRepository)(nil)

func (r *annotationJobRepository) Create(ctx context.Context, job *models.AnnotationJob) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Species = models.NormalizeSpecies(job.Species)
	job.Status = models.JobStatusProcessing

	query := `
		INSERT INTO annotation_jobs (id, image_id, image_url, species, status, model, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		job.ID, job.ImageID, job.ImageURL, job.Species, string(job.Status), nullString(job.Model), job.DeadlineAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create annotation job: %w", err)
	}
	return nil
}

func (r *annotationJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationJob, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM annotation_jobs WHERE id = $1`

	job, err := scanJob(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("annotation job %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get annotation job: %w", err)
	}
	return job, nil
}

func (r *annotationJobRepository) CompleteWithItems(ctx context.Context, jobID uuid.UUID, model string, items []*models.AnnotationItem) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var (
		imageID string
		species string
	)
	err = tx.QueryRow(ctx, `
		UPDATE annotation_jobs
		SET status = 'pending', annotation_count = $2, confidence_score = $3, model = $4,
		    error_message = NULL, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING image_id, species`,
		jobID, len(items), averageConfidence(items), nullString(model),
	).Scan(&imageID, &species)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("annotation job %s is no longer processing: %w", jobID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to complete annotation job: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.JobID = jobID
		item.ImageID = imageID
		item.Species = species
		item.Status = models.ItemStatusPending

		box, err := item.BoundingBox.Record()
		if err != nil {
			return fmt.Errorf("encode bounding box: %w", err)
		}

		batch.Queue(`
			INSERT INTO annotation_items (
				id, job_id, image_id, species, spanish_term, english_term, bounding_box,
				annotation_type, difficulty_level, pronunciation, confidence, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending')
			RETURNING created_at, updated_at`,
			item.ID, item.JobID, item.ImageID, item.Species, item.SpanishTerm, item.EnglishTerm, box,
			string(item.Type), item.DifficultyLevel, item.Pronunciation, item.Confidence,
		)
	}

	if len(items) > 0 {
		br := tx.SendBatch(ctx, batch)
		for _, item := range items {
			if err := br.QueryRow().Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
				br.Close()
				return fmt.Errorf("batch insert annotation item: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("batch insert annotation items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *annotationJobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return false, err
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE annotation_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		jobID, message)
	if err != nil {
		return false, fmt.Errorf("failed to mark annotation job failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *annotationJobRepository) FailExpired(ctx context.Context, now time.Time, grace time.Duration, message string) ([]uuid.UUID, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		UPDATE annotation_jobs
		SET status = 'failed', error_message = $2, completed_at = $1, updated_at = $1
		WHERE status = 'processing' AND deadline_at + make_interval(secs => $3) < $1
		RETURNING id`,
		now, message, grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to reap expired annotation jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reaped job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaped jobs: %w", err)
	}
	return ids, nil
}

func (r *annotationJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT status, count(*) FROM annotation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count annotation jobs: %w", err)
	}
	defer rows.Close()

	counts := map[models.JobStatus]int{
		models.JobStatusProcessing: 0,
		models.JobStatusPending:    0,
		models.JobStatusFailed:     0,
		models.JobStatusReviewed:   0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

// averageConfidence is nil for an empty slice so the column stays NULL.
func averageConfidence(items []*models.AnnotationItem) *float64 {
	if len(items) == 0 {
		return nil
	}
	var sum float64
	for _, item := range items {
		sum += item.Confidence
	}
	avg := sum / float64(len(items))
	return &avg
}
