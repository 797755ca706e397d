package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/models"
)

// AnnotationItemRepository provides read access to candidate annotations and
// the in-place metadata patch. Status transitions live in ReviewRepository.
type AnnotationItemRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationItem, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.AnnotationItem, error)
	// ListByStatus pages items oldest first. An empty status lists every item.
	ListByStatus(ctx context.Context, status models.ItemStatus, limit, offset int) ([]*models.AnnotationItem, int, error)
	// UpdatePending merges overrides onto a pending item without changing its status.
	UpdatePending(ctx context.Context, id uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error)
}

type annotationItemRepository struct{}

// NewAnnotationItemRepository creates a new AnnotationItemRepository.
func NewAnnotationItemRepository() AnnotationItemRepository {
	return &annotationItemRepository{}
}

var _ AnnotationItemRepository = (*annotationItemRepository)(nil)

func (r *annotationItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationItem, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	item, err := scanItem(scope.Conn.QueryRow(ctx, `SELECT `+itemColumns+` FROM annotation_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("annotation item %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get annotation item: %w", err)
	}
	return item, nil
}

func (r *annotationItemRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.AnnotationItem, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+itemColumns+`
		FROM annotation_items
		WHERE job_id = $1
		ORDER BY confidence DESC, created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for job: %w", err)
	}
	return scanItems(rows)
}

func (r *annotationItemRepository) ListByStatus(ctx context.Context, status models.ItemStatus, limit, offset int) ([]*models.AnnotationItem, int, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := scope.Conn.QueryRow(ctx, `
		SELECT count(*) FROM annotation_items WHERE $1 = '' OR status = $1`,
		string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count annotation items: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+itemColumns+`
		FROM annotation_items
		WHERE $1 = '' OR status = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list annotation items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *annotationItemRepository) UpdatePending(ctx context.Context, id uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	item, err := lockPendingItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	merged := overrides.ApplyTo(item)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if err := writeItemFields(ctx, tx, merged, models.ItemStatusPending); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return merged, nil
}

// lockPendingItem row-locks an item that is still pending. A concurrent
// reviewer who resolved it first makes this return ErrNotFound.
func lockPendingItem(ctx context.Context, q querier, id uuid.UUID) (*models.AnnotationItem, error) {
	item, err := scanItem(q.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM annotation_items
		WHERE id = $1 AND status = 'pending'
		FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("annotation item %s not found or already processed: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock annotation item: %w", err)
	}
	return item, nil
}

// writeItemFields stores the editable fields of a pending item, moving it to
// status. The pending guard makes a lost race report ErrNotFound.
func writeItemFields(ctx context.Context, q querier, item *models.AnnotationItem, status models.ItemStatus) error {
	box, err := item.BoundingBox.Record()
	if err != nil {
		return fmt.Errorf("encode bounding box: %w", err)
	}

	err = q.QueryRow(ctx, `
		UPDATE annotation_items
		SET spanish_term = $2, english_term = $3, bounding_box = $4, annotation_type = $5,
		    difficulty_level = $6, pronunciation = $7, status = $8,
		    approved_annotation_id = $9, reviewed_by = $10, reviewed_at = $11, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING updated_at`,
		item.ID, item.SpanishTerm, item.EnglishTerm, box, string(item.Type),
		item.DifficultyLevel, item.Pronunciation, string(status),
		item.ApprovedAnnotationID, item.ReviewedBy, item.ReviewedAt,
	).Scan(&item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("annotation item %s not found or already processed: %w", item.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to update annotation item: %w", err)
	}
	item.Status = status
	return nil
}
