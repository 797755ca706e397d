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

// ReviewOutcome is the committed result of one item transition.
type ReviewOutcome struct {
	// Original is the item as it was while pending.
	Original *models.AnnotationItem
	// Item is the item after the transition.
	Item      *models.AnnotationItem
	Canonical *models.CanonicalAnnotation
	Action    *models.ReviewAction
	JobStatus models.JobStatus
}

// JobApproval is the committed result of approving every pending item of a job.
type JobApproval struct {
	JobID     uuid.UUID
	Outcomes  []*ReviewOutcome
	Action    *models.ReviewAction
	JobStatus models.JobStatus
}

// ReviewRepository performs review transitions. Every method is one
// transaction guarded on the item still being pending.
type ReviewRepository interface {
	Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*ReviewOutcome, error)
	Reject(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*ReviewOutcome, error)
	Edit(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides, reviewer, notes string) (*ReviewOutcome, error)
	ApproveJob(ctx context.Context, jobID uuid.UUID, reviewer, notes string) (*JobApproval, error)
	ListRecentActions(ctx context.Context, limit int) ([]*models.ReviewAction, error)
}

type reviewRepository struct {
	now func() time.Time
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository() ReviewRepository {
	return &reviewRepository{now: time.Now}
}

var _ ReviewRepository = (*reviewRepository)(nil)

func (r *reviewRepository) Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*ReviewOutcome, error) {
	return r.transition(ctx, itemID, func(item *models.AnnotationItem) (*models.AnnotationItem, models.ItemStatus, models.ReviewActionType, error) {
		return item, models.ItemStatusApproved, models.ReviewActionApprove, nil
	}, reviewer, notes)
}

func (r *reviewRepository) Reject(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*ReviewOutcome, error) {
	return r.transition(ctx, itemID, func(item *models.AnnotationItem) (*models.AnnotationItem, models.ItemStatus, models.ReviewActionType, error) {
		return item, models.ItemStatusRejected, models.ReviewActionReject, nil
	}, reviewer, notes)
}

func (r *reviewRepository) Edit(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides, reviewer, notes string) (*ReviewOutcome, error) {
	return r.transition(ctx, itemID, func(item *models.AnnotationItem) (*models.AnnotationItem, models.ItemStatus, models.ReviewActionType, error) {
		merged := overrides.ApplyTo(item)
		if err := merged.Validate(); err != nil {
			return nil, "", "", err
		}
		return merged, models.ItemStatusEdited, models.ReviewActionEdit, nil
	}, reviewer, notes)
}

type transitionFunc func(item *models.AnnotationItem) (*models.AnnotationItem, models.ItemStatus, models.ReviewActionType, error)

func (r *reviewRepository) transition(ctx context.Context, itemID uuid.UUID, decide transitionFunc, reviewer, notes string) (*ReviewOutcome, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	original, err := lockPendingItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	next, status, actionType, err := decide(original)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := &ReviewOutcome{Original: original}
	out.Item, out.Canonical, err = resolveItem(ctx, tx, next, status, reviewer, now)
	if err != nil {
		return nil, err
	}

	jobID := original.JobID
	out.Action, err = appendAction(ctx, tx, &models.ReviewAction{
		JobID:         &jobID,
		ItemID:        &original.ID,
		Action:        actionType,
		AffectedItems: 1,
		Notes:         notes,
		Reviewer:      reviewer,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	out.JobStatus, err = refreshJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

// resolveItem moves a locked pending item to status. Accepted statuses get
// their canonical annotation first so the item can reference it.
func resolveItem(ctx context.Context, q querier, item *models.AnnotationItem, status models.ItemStatus, reviewer string, now time.Time) (*models.AnnotationItem, *models.CanonicalAnnotation, error) {
	next := *item
	next.ReviewedBy = &reviewer
	next.ReviewedAt = &now

	var canonical *models.CanonicalAnnotation
	if status.HasCanonical() {
		canonical = models.NewCanonicalAnnotation(&next, reviewer, now)
		if err := insertCanonical(ctx, q, canonical); err != nil {
			return nil, nil, err
		}
		next.ApprovedAnnotationID = &canonical.ID
	}

	if err := writeItemFields(ctx, q, &next, status); err != nil {
		return nil, nil, err
	}
	return &next, canonical, nil
}

func insertCanonical(ctx context.Context, q querier, a *models.CanonicalAnnotation) error {
	box, err := a.BoundingBox.Record()
	if err != nil {
		return fmt.Errorf("encode bounding box: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO annotations (
			id, source_item_id, image_id, species, spanish_term, english_term, bounding_box,
			annotation_type, difficulty_level, pronunciation, is_visible, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.SourceItemID, a.ImageID, a.Species, a.SpanishTerm, a.EnglishTerm, box,
		string(a.Type), a.DifficultyLevel, a.Pronunciation, a.IsVisible, a.CreatedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert canonical annotation: %w", err)
	}
	return nil
}

func appendAction(ctx context.Context, q querier, a *models.ReviewAction) (*models.ReviewAction, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO annotation_review_actions (id, job_id, item_id, action, affected_items, notes, reviewer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.JobID, a.ItemID, string(a.Action), a.AffectedItems, a.Notes, a.Reviewer, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append review action: %w", err)
	}
	return a, nil
}

// refreshJob recomputes the job's aggregate confidence over its non-rejected
// items and marks it reviewed once nothing is pending. The job row is locked
// by a separate statement first so the aggregate reads a snapshot taken after
// any concurrent reviewer of the same job has committed.
func refreshJob(ctx context.Context, q querier, jobID uuid.UUID) (models.JobStatus, error) {
	var locked uuid.UUID
	if err := q.QueryRow(ctx, `SELECT id FROM annotation_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("annotation job %s: %w", jobID, apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("failed to lock annotation job: %w", err)
	}

	var status string
	err := q.QueryRow(ctx, `
		UPDATE annotation_jobs j
		SET confidence_score = COALESCE(agg.avg_confidence, j.confidence_score),
		    status = CASE WHEN j.status = 'pending' AND agg.pending = 0 THEN 'reviewed' ELSE j.status END,
		    updated_at = now()
		FROM (
			SELECT avg(confidence) FILTER (WHERE status <> 'rejected') AS avg_confidence,
			       count(*) FILTER (WHERE status = 'pending') AS pending
			FROM annotation_items
			WHERE job_id = $1
		) agg
		WHERE j.id = $1
		RETURNING j.status`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("annotation job %s: %w", jobID, apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("failed to refresh annotation job: %w", err)
	}
	return models.JobStatus(status), nil
}

func (r *reviewRepository) ApproveJob(ctx context.Context, jobID uuid.UUID, reviewer, notes string) (*JobApproval, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM annotation_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up annotation job: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("annotation job %s: %w", jobID, apperrors.ErrNotFound)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+itemColumns+`
		FROM annotation_items
		WHERE job_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		FOR UPDATE`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending items: %w", err)
	}
	pending, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	now := r.now()
	result := &JobApproval{JobID: jobID, Outcomes: make([]*ReviewOutcome, 0, len(pending))}

	if len(pending) > 0 {
		batch := &pgx.Batch{}
		approved := make([]*models.AnnotationItem, 0, len(pending))
		canonicals := make([]*models.CanonicalAnnotation, 0, len(pending))
		for _, item := range pending {
			next := *item
			next.ReviewedBy = &reviewer
			next.ReviewedAt = &now
			canonical := models.NewCanonicalAnnotation(&next, reviewer, now)
			next.ApprovedAnnotationID = &canonical.ID
			next.Status = models.ItemStatusApproved

			box, err := canonical.BoundingBox.Record()
			if err != nil {
				return nil, fmt.Errorf("encode bounding box: %w", err)
			}
			batch.Queue(`
				INSERT INTO annotations (
					id, source_item_id, image_id, species, spanish_term, english_term, bounding_box,
					annotation_type, difficulty_level, pronunciation, is_visible, created_by, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				canonical.ID, canonical.SourceItemID, canonical.ImageID, canonical.Species,
				canonical.SpanishTerm, canonical.EnglishTerm, box, string(canonical.Type),
				canonical.DifficultyLevel, canonical.Pronunciation, canonical.IsVisible,
				canonical.CreatedBy, canonical.CreatedAt,
			)
			batch.Queue(`
				UPDATE annotation_items
				SET status = 'approved', approved_annotation_id = $2, reviewed_by = $3,
				    reviewed_at = $4, updated_at = $4
				WHERE id = $1 AND status = 'pending'`,
				next.ID, canonical.ID, reviewer, now,
			)
			approved = append(approved, &next)
			canonicals = append(canonicals, canonical)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range approved {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return nil, fmt.Errorf("failed to insert canonical annotation: %w", err)
			}
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return nil, fmt.Errorf("failed to approve annotation item: %w", err)
			}
			if tag.RowsAffected() == 0 {
				br.Close()
				return nil, fmt.Errorf("annotation item %s not found or already processed: %w", approved[i].ID, apperrors.ErrNotFound)
			}
		}
		if err := br.Close(); err != nil {
			return nil, fmt.Errorf("failed to approve job items: %w", err)
		}

		for i, item := range approved {
			result.Outcomes = append(result.Outcomes, &ReviewOutcome{
				Original:  pending[i],
				Item:      item,
				Canonical: canonicals[i],
			})
		}
	}

	result.Action, err = appendAction(ctx, tx, &models.ReviewAction{
		JobID:         &jobID,
		Action:        models.ReviewActionBulkApprove,
		AffectedItems: len(pending),
		Notes:         notes,
		Reviewer:      reviewer,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	result.JobStatus, err = refreshJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (r *reviewRepository) ListRecentActions(ctx context.Context, limit int) ([]*models.ReviewAction, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+actionColumns+`
		FROM annotation_review_actions
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list review actions: %w", err)
	}
	defer rows.Close()

	actions := make([]*models.ReviewAction, 0, limit)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review actions: %w", err)
	}
	return actions, nil
}
