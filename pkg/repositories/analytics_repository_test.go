//go:build integration

package repositories

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves-engine/pkg/models"
)

func TestAnalyticsRepository_Aggregates(t *testing.T) {
	f := setupStore(t)
	_, magpie := f.seedJob("img-1", "pica pica", 0.9, 0.6, 0.85)
	_, blackbird := f.seedJob("img-2", "turdus merula", 0.5)

	_, err := f.reviews.Approve(f.ctx(), magpie[0].ID, "rev", "")
	require.NoError(t, err)
	_, err = f.reviews.Reject(f.ctx(), magpie[1].ID, "rev", "[WRONG_TERM] nape")
	require.NoError(t, err)
	_, err = f.reviews.Reject(f.ctx(), blackbird[0].ID, "rev", "blurry")
	require.NoError(t, err)

	totals, err := f.analytics.ItemTotals(f.ctx())
	require.NoError(t, err)
	assert.Equal(t, 4, totals.Total)
	assert.Equal(t, 1, totals.ByStatus[models.ItemStatusPending])
	assert.Equal(t, 1, totals.ByStatus[models.ItemStatusApproved])
	assert.Equal(t, 2, totals.ByStatus[models.ItemStatusRejected])
	assert.Equal(t, 0, totals.ByStatus[models.ItemStatusEdited])
	assert.InDelta(t, (0.9+0.6+0.85+0.5)/4, totals.AvgConfidence, 1e-9)

	species, err := f.analytics.BySpecies(f.ctx())
	require.NoError(t, err)
	require.Len(t, species, 2)
	assert.Equal(t, "pica pica", species[0].Species)
	assert.Equal(t, 3, species[0].Total)
	assert.Equal(t, 1, species[0].Approved)
	assert.Equal(t, 1, species[0].Rejected)
	assert.Equal(t, 1, species[0].Pending)

	types, err := f.analytics.ByType(f.ctx())
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, models.AnnotationTypeAnatomical, types[0].Type)
	assert.Equal(t, 4, types[0].Total)

	notes, err := f.analytics.RejectionNotes(f.ctx())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"[WRONG_TERM] nape", "blurry"}, notes)

	quality, err := f.analytics.PendingQuality(f.ctx(), models.QualityThresholds{TooSmallArea: 0.05, LowConfidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, models.QualityFlagSummary{PendingEvaluated: 1, TooSmall: 1, LowConfidence: 1, Both: 1}, *quality)

	flagged, err := f.analytics.ListFlaggedPending(f.ctx(), models.QualityThresholds{TooSmallArea: 0.05, LowConfidence: 0.9}, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, magpie[2].ID, flagged[0].ID)

	flagged, err = f.analytics.ListFlaggedPending(f.ctx(), models.QualityThresholds{TooSmallArea: 0.02, LowConfidence: 0.7}, 10)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

// Every seeded box has area 0.04.
func TestAnalyticsRepository_FlaggedPendingOrderAndLimit(t *testing.T) {
	f := setupStore(t)
	_, items := f.seedJob("img-1", "pica pica", 0.5, 0.6, 0.95, 0.4)

	lowOnly := models.QualityThresholds{TooSmallArea: 0.01, LowConfidence: 0.7}
	quality, err := f.analytics.PendingQuality(f.ctx(), lowOnly)
	require.NoError(t, err)
	assert.Equal(t, models.QualityFlagSummary{PendingEvaluated: 4, LowConfidence: 3}, *quality)

	flagged, err := f.analytics.ListFlaggedPending(f.ctx(), lowOnly, 2)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	assert.Equal(t, items[3].ID, flagged[0].ID)
	assert.Equal(t, items[0].ID, flagged[1].ID)

	both := models.QualityThresholds{TooSmallArea: 0.05, LowConfidence: 0.45}
	flagged, err = f.analytics.ListFlaggedPending(f.ctx(), both, 0)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(flagged))
	for _, item := range flagged {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []uuid.UUID{items[3].ID, items[0].ID, items[1].ID, items[2].ID}, ids)
}

func TestAnalyticsRepository_Empty(t *testing.T) {
	f := setupStore(t)

	totals, err := f.analytics.ItemTotals(f.ctx())
	require.NoError(t, err)
	assert.Zero(t, totals.Total)
	assert.Zero(t, totals.AvgConfidence)

	species, err := f.analytics.BySpecies(f.ctx())
	require.NoError(t, err)
	assert.Empty(t, species)
}
