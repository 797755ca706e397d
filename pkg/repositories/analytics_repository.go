package repositories

import (
	"context"
	"fmt"

	"github.com/aves-app/aves-engine/pkg/models"
)

// ItemTotals counts items per status with the mean confidence over all items.
type ItemTotals struct {
	ByStatus      map[models.ItemStatus]int
	Total         int
	AvgConfidence float64
}

// AnalyticsRepository provides the read-side aggregates behind the stats endpoints.
type AnalyticsRepository interface {
	ItemTotals(ctx context.Context) (*ItemTotals, error)
	BySpecies(ctx context.Context) ([]models.SpeciesBreakdown, error)
	ByType(ctx context.Context) ([]models.TypeBreakdown, error)
	// RejectionNotes returns the notes of every reject action.
	RejectionNotes(ctx context.Context) ([]string, error)
	// PendingQuality counts pending items and how many of them raise each
	// quality flag under t.
	PendingQuality(ctx context.Context, t models.QualityThresholds) (*models.QualityFlagSummary, error)
	// ListFlaggedPending returns at most limit pending items raising at least
	// one flag, most flags first, then least confident, then oldest. limit <= 0
	// returns every flagged item.
	ListFlaggedPending(ctx context.Context, t models.QualityThresholds, limit int) ([]*models.AnnotationItem, error)
}

// pendingFlagsQuery evaluates both quality flags for each pending item. The
// area matches BoundingBox.Area on the stored record.
const pendingFlagsQuery = `
	SELECT *,
	       (bounding_box->>'width')::float8 * (bounding_box->>'height')::float8 < $1 AS too_small,
	       confidence < $2 AS low_confidence
	FROM annotation_items
	WHERE status = 'pending'`

type analyticsRepository struct{}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository() AnalyticsRepository {
	return &analyticsRepository{}
}

var _ AnalyticsRepository = (*analyticsRepository)(nil)

func (r *analyticsRepository) ItemTotals(ctx context.Context) (*ItemTotals, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	totals := &ItemTotals{ByStatus: map[models.ItemStatus]int{
		models.ItemStatusPending:  0,
		models.ItemStatusApproved: 0,
		models.ItemStatusRejected: 0,
		models.ItemStatusEdited:   0,
	}}

	err = scope.Conn.QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(confidence), 0) FROM annotation_items`).
		Scan(&totals.Total, &totals.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to total annotation items: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `SELECT status, count(*) FROM annotation_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count annotation items by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		totals.ByStatus[models.ItemStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return totals, nil
}

func (r *analyticsRepository) BySpecies(ctx context.Context) ([]models.SpeciesBreakdown, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT species,
		       count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'approved'),
		       count(*) FILTER (WHERE status = 'rejected'),
		       count(*) FILTER (WHERE status = 'edited'),
		       avg(confidence)
		FROM annotation_items
		GROUP BY species
		ORDER BY count(*) DESC, species`)
	if err != nil {
		return nil, fmt.Errorf("failed to break down items by species: %w", err)
	}
	defer rows.Close()

	out := make([]models.SpeciesBreakdown, 0)
	for rows.Next() {
		var b models.SpeciesBreakdown
		if err := rows.Scan(&b.Species, &b.Total, &b.Pending, &b.Approved, &b.Rejected, &b.Edited, &b.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scan species breakdown: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate species breakdown: %w", err)
	}
	return out, nil
}

func (r *analyticsRepository) ByType(ctx context.Context) ([]models.TypeBreakdown, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT annotation_type,
		       count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       avg(confidence)
		FROM annotation_items
		GROUP BY annotation_type
		ORDER BY count(*) DESC, annotation_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to break down items by type: %w", err)
	}
	defer rows.Close()

	out := make([]models.TypeBreakdown, 0)
	for rows.Next() {
		var b models.TypeBreakdown
		var typ string
		if err := rows.Scan(&typ, &b.Total, &b.Pending, &b.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scan type breakdown: %w", err)
		}
		b.Type = models.AnnotationType(typ)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type breakdown: %w", err)
	}
	return out, nil
}

func (r *analyticsRepository) RejectionNotes(ctx context.Context) ([]string, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT notes FROM annotation_review_actions WHERE action = 'reject' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejection notes: %w", err)
	}
	defer rows.Close()

	notes := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan rejection notes: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejection notes: %w", err)
	}
	return notes, nil
}

func (r *analyticsRepository) PendingQuality(ctx context.Context, t models.QualityThresholds) (*models.QualityFlagSummary, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	var q models.QualityFlagSummary
	err = scope.Conn.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE too_small),
		       count(*) FILTER (WHERE low_confidence),
		       count(*) FILTER (WHERE too_small AND low_confidence)
		FROM (`+pendingFlagsQuery+`) pending`, t.TooSmallArea, t.LowConfidence).
		Scan(&q.PendingEvaluated, &q.TooSmall, &q.LowConfidence, &q.Both)
	if err != nil {
		return nil, fmt.Errorf("failed to count quality flags: %w", err)
	}
	return &q, nil
}

func (r *analyticsRepository) ListFlaggedPending(ctx context.Context, t models.QualityThresholds, limit int) ([]*models.AnnotationItem, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	// NULL is LIMIT ALL.
	var rowCap any
	if limit > 0 {
		rowCap = limit
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+itemColumns+`
		FROM (`+pendingFlagsQuery+`) pending
		WHERE too_small OR low_confidence
		ORDER BY too_small::int + low_confidence::int DESC, confidence, created_at, id
		LIMIT $3`, t.TooSmallArea, t.LowConfidence, rowCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged pending items: %w", err)
	}
	return scanItems(rows)
}
