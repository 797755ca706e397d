package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/auth"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/services"
)

type mockGenerationService struct {
	startReq services.GenerateRequest
	startErr error
	job      *models.AnnotationJob
	detail   *services.JobDetail
	getErr   error
}

func (m *mockGenerationService) StartGeneration(ctx context.Context, req services.GenerateRequest) (*models.AnnotationJob, error) {
	m.startReq = req
	if m.startErr != nil {
		return nil, m.startErr
	}
	return m.job, nil
}

func (m *mockGenerationService) GetJob(ctx context.Context, jobID uuid.UUID) (*services.JobDetail, error) {
	return m.detail, m.getErr
}

func (m *mockGenerationService) FailJob(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	return false, nil
}

func (m *mockGenerationService) Shutdown(ctx context.Context) error {
	return nil
}

type mockReviewService struct {
	outcome *repositories.ReviewOutcome
	err     error

	lastItemID    uuid.UUID
	lastReviewer  string
	lastNotes     string
	lastReject    services.RejectRequest
	lastOverrides *models.ItemOverrides
	lastJobIDs    []uuid.UUID

	patched  *models.AnnotationItem
	bulk     *models.BulkApproveResult
	page     *services.ItemPage
	listArgs struct {
		status        models.ItemStatus
		limit, offset int
	}
	calls []string
}

func (m *mockReviewService) Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*repositories.ReviewOutcome, error) {
	m.calls = append(m.calls, "approve")
	m.lastItemID, m.lastReviewer, m.lastNotes = itemID, reviewer, notes
	return m.outcome, m.err
}

func (m *mockReviewService) Reject(ctx context.Context, itemID uuid.UUID, reviewer string, req services.RejectRequest) (*repositories.ReviewOutcome, error) {
	m.calls = append(m.calls, "reject")
	m.lastItemID, m.lastReviewer, m.lastReject = itemID, reviewer, req
	return m.outcome, m.err
}

func (m *mockReviewService) Edit(ctx context.Context, itemID uuid.UUID, reviewer string, overrides *models.ItemOverrides, notes string) (*repositories.ReviewOutcome, error) {
	m.calls = append(m.calls, "edit")
	m.lastItemID, m.lastReviewer, m.lastOverrides, m.lastNotes = itemID, reviewer, overrides, notes
	return m.outcome, m.err
}

func (m *mockReviewService) Patch(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error) {
	m.calls = append(m.calls, "patch")
	m.lastItemID, m.lastOverrides = itemID, overrides
	return m.patched, m.err
}

func (m *mockReviewService) BulkApprove(ctx context.Context, jobIDs []uuid.UUID, reviewer, notes string) (*models.BulkApproveResult, error) {
	m.calls = append(m.calls, "bulk")
	m.lastJobIDs, m.lastReviewer, m.lastNotes = jobIDs, reviewer, notes
	return m.bulk, m.err
}

func (m *mockReviewService) ListItems(ctx context.Context, status models.ItemStatus, limit, offset int) (*services.ItemPage, error) {
	m.calls = append(m.calls, "list")
	m.listArgs.status, m.listArgs.limit, m.listArgs.offset = status, limit, offset
	return m.page, m.err
}

type mockAnalyticsService struct {
	stats     *models.ReviewStats
	analytics *models.ReviewAnalytics
	err       error
}

func (m *mockAnalyticsService) GetStats(ctx context.Context) (*models.ReviewStats, error) {
	return m.stats, m.err
}

func (m *mockAnalyticsService) GetAnalytics(ctx context.Context) (*models.ReviewAnalytics, error) {
	return m.analytics, m.err
}

type mockPatternService struct {
	recommended []models.RecommendedFeature
	avoid       []models.RecommendedFeature
	analytics   *models.PatternAnalytics
	export      []byte
	err         error

	lastSpecies string
	lastLimit   int
	lastFormat  services.ExportFormat
}

func (m *mockPatternService) CaptureFeedback(ctx context.Context, event *models.FeedbackEvent) error {
	return nil
}

func (m *mockPatternService) GetRecommendedFeatures(ctx context.Context, species string, limit int) ([]models.RecommendedFeature, error) {
	m.lastSpecies, m.lastLimit = species, limit
	return m.recommended, m.err
}

func (m *mockPatternService) GetAvoidFeatures(ctx context.Context, species string) ([]models.RecommendedFeature, error) {
	return m.avoid, m.err
}

func (m *mockPatternService) GetSpatialPriors(ctx context.Context, species string) (map[string]*models.SpatialPrior, error) {
	return nil, m.err
}

func (m *mockPatternService) GetPatternAnalytics(ctx context.Context) (*models.PatternAnalytics, error) {
	return m.analytics, m.err
}

func (m *mockPatternService) ExportLearnedPatterns(ctx context.Context, format services.ExportFormat) ([]byte, error) {
	m.lastFormat = format
	return m.export, m.err
}

var _ services.PatternLearningService = (*mockPatternService)(nil)

// mockAuthService accepts every request as the given reviewer, or rejects
// all of them when err is set.
type mockAuthService struct {
	reviewer    string
	err         error
	reviewerErr error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return &auth.Claims{Email: m.reviewer}, "token", nil
}

func (m *mockAuthService) RequireReviewer(claims *auth.Claims) error {
	return m.reviewerErr
}

func newTestMiddleware(reviewer string) *auth.Middleware {
	return auth.NewMiddleware(&mockAuthService{reviewer: reviewer}, zap.NewNop())
}
