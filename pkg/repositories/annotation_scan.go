package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/models"
)

var errNoScope = errors.New("no database scope in context")

// querier is satisfied by both a pooled connection and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scopeFrom(ctx context.Context) (*database.Scope, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, errNoScope
	}
	return scope, nil
}

const jobColumns = `
	id, image_id, image_url, species, status, confidence_score, annotation_count,
	error_message, COALESCE(model, ''), deadline_at, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.AnnotationJob, error) {
	var j models.AnnotationJob
	var status string
	err := row.Scan(
		&j.ID, &j.ImageID, &j.ImageURL, &j.Species, &status, &j.ConfidenceScore, &j.AnnotationCount,
		&j.ErrorMessage, &j.Model, &j.DeadlineAt, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

const itemColumns = `
	id, job_id, image_id, species, spanish_term, english_term, bounding_box, annotation_type,
	difficulty_level, pronunciation, confidence, status, approved_annotation_id,
	reviewed_by, reviewed_at, created_at, updated_at`

func scanItem(row pgx.Row) (*models.AnnotationItem, error) {
	var (
		i         models.AnnotationItem
		box       []byte
		annotType string
		status    string
	)
	err := row.Scan(
		&i.ID, &i.JobID, &i.ImageID, &i.Species, &i.SpanishTerm, &i.EnglishTerm, &box, &annotType,
		&i.DifficultyLevel, &i.Pronunciation, &i.Confidence, &status, &i.ApprovedAnnotationID,
		&i.ReviewedBy, &i.ReviewedAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	parsed, err := models.ParseBoundingBox(box)
	if err != nil {
		return nil, fmt.Errorf("item %s has unreadable bounding box: %w", i.ID, err)
	}
	i.BoundingBox = parsed
	i.Type = models.AnnotationType(annotType)
	i.Status = models.ItemStatus(status)
	return &i, nil
}

func scanItems(rows pgx.Rows) ([]*models.AnnotationItem, error) {
	defer rows.Close()

	items := make([]*models.AnnotationItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation items: %w", err)
	}
	return items, nil
}

const actionColumns = `id, job_id, item_id, action, affected_items, notes, reviewer, created_at`

func scanAction(row pgx.Row) (*models.ReviewAction, error) {
	var a models.ReviewAction
	var action string
	if err := row.Scan(&a.ID, &a.JobID, &a.ItemID, &action, &a.AffectedItems, &a.Notes, &a.Reviewer, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Action = models.ReviewActionType(action)
	return &a, nil
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
