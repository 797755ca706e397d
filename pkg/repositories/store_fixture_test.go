//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/testhelpers"
)

// storeFixture wires every pipeline repository against the shared test database.
type storeFixture struct {
	t         *testing.T
	db        *testhelpers.EngineDB
	jobs      AnnotationJobRepository
	items     AnnotationItemRepository
	reviews   ReviewRepository
	patterns  PatternRepository
	analytics AnalyticsRepository
}

func setupStore(t *testing.T) *storeFixture {
	t.Helper()
	db := testhelpers.GetEngineDB(t)
	db.Reset(t)
	return &storeFixture{
		t:         t,
		db:        db,
		jobs:      NewAnnotationJobRepository(),
		items:     NewAnnotationItemRepository(),
		reviews:   NewReviewRepository(),
		patterns:  NewPatternRepository(),
		analytics: NewAnalyticsRepository(),
	}
}

// ctx returns a context with its own connection scope.
func (f *storeFixture) ctx() context.Context {
	return f.db.ScopedContext(f.t)
}

func (f *storeFixture) createJob(imageID, species string) *models.AnnotationJob {
	f.t.Helper()
	job := &models.AnnotationJob{
		ImageID:    imageID,
		ImageURL:   "https://images.example.com/" + imageID + ".jpg",
		Species:    species,
		DeadlineAt: time.Now().Add(2 * time.Minute),
	}
	require.NoError(f.t, f.jobs.Create(f.ctx(), job))
	return job
}

// seedJob creates a job and completes it with one item per confidence.
func (f *storeFixture) seedJob(imageID, species string, confidences ...float64) (*models.AnnotationJob, []*models.AnnotationItem) {
	f.t.Helper()
	job := f.createJob(imageID, species)

	items := make([]*models.AnnotationItem, len(confidences))
	for i, c := range confidences {
		items[i] = pendingItem(fmt.Sprintf("feature %d", i), c, models.BoundingBox{
			X: 0.1 * float64(i), Y: 0.1, Width: 0.2, Height: 0.2,
		})
	}
	require.NoError(f.t, f.jobs.CompleteWithItems(f.ctx(), job.ID, "test-vision", items))
	return job, items
}

func pendingItem(english string, confidence float64, box models.BoundingBox) *models.AnnotationItem {
	return &models.AnnotationItem{
		SpanishTerm:     "es " + english,
		EnglishTerm:     english,
		BoundingBox:     box,
		Type:            models.AnnotationTypeAnatomical,
		DifficultyLevel: models.DefaultDifficulty,
		Confidence:      confidence,
	}
}

func (f *storeFixture) canonicalCount(itemID uuid.UUID) int {
	f.t.Helper()
	var n int
	err := f.db.DB.QueryRow(context.Background(),
		`SELECT count(*) FROM annotations WHERE source_item_id = $1`, itemID).Scan(&n)
	require.NoError(f.t, err)
	return n
}
