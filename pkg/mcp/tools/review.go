// Package tools provides the read-only MCP tools of the annotation engine.
package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/services"
)

// PatternReader is the read side of the pattern learning engine the tools use.
type PatternReader interface {
	GetRecommendedFeatures(ctx context.Context, species string, limit int) ([]models.RecommendedFeature, error)
	GetPatternAnalytics(ctx context.Context) (*models.PatternAnalytics, error)
}

// JobReader looks up generation jobs.
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*services.JobDetail, error)
}

// ReviewToolDeps contains dependencies for the review tools.
type ReviewToolDeps struct {
	Analytics services.AnalyticsService
	Patterns  PatternReader
	Jobs      JobReader
	Logger    *zap.Logger
}

// RegisterReviewTools registers the review-queue and learning tools.
func RegisterReviewTools(s *server.MCPServer, deps *ReviewToolDeps) {
	registerReviewStatsTool(s, deps)
	registerRecommendedFeaturesTool(s, deps)
	registerPatternAnalyticsTool(s, deps)
	registerAnnotationJobTool(s, deps)
}

func readOnly(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
	return mcp.NewTool(name, opts...)
}

func registerReviewStatsTool(s *server.MCPServer, deps *ReviewToolDeps) {
	tool := readOnly("get_review_stats",
		mcp.WithDescription(
			"Summarize the annotation review queue: item counts per status, mean confidence, "+
				"job counts per status and the most recent reviewer actions."),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Analytics.GetStats(ctx)
		if err != nil {
			deps.Logger.Error("Failed to get review stats", zap.Error(err))
			return nil, fmt.Errorf("failed to get review stats: %w", err)
		}
		return jsonResult(stats)
	})
}

func registerRecommendedFeaturesTool(s *server.MCPServer, deps *ReviewToolDeps) {
	tool := readOnly("get_recommended_features",
		mcp.WithDescription(
			"List the bird features the learning engine currently favors for a species, "+
				"highest learned confidence first, with approval counts and spatial priors."),
		mcp.WithString("species",
			mcp.Required(),
			mcp.Description("Species name, e.g. 'Northern Cardinal'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of features to return"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		species, ok := requiredString(req, "species")
		if !ok {
			return NewErrorResult("invalid_parameters", "species is required"), nil
		}
		limit := req.GetInt("limit", 0)
		if limit < 0 {
			return NewErrorResult("invalid_parameters", "limit must not be negative"), nil
		}

		features, err := deps.Patterns.GetRecommendedFeatures(ctx, species, limit)
		if err != nil {
			if res := domainErrorResult(err); res != nil {
				return res, nil
			}
			return nil, fmt.Errorf("failed to get recommended features: %w", err)
		}
		return jsonResult(struct {
			Species  string                      `json:"species"`
			Features []models.RecommendedFeature `json:"features"`
			Count    int                         `json:"count"`
		}{
			Species:  models.NormalizeSpecies(species),
			Features: features,
			Count:    len(features),
		})
	})
}

func registerPatternAnalyticsTool(s *server.MCPServer, deps *ReviewToolDeps) {
	tool := readOnly("get_pattern_analytics",
		mcp.WithDescription(
			"Report what the learning engine has absorbed: totals per outcome, the overall approval rate, "+
				"the strongest and most-corrected features and the rejection categories."),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		analytics, err := deps.Patterns.GetPatternAnalytics(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get pattern analytics: %w", err)
		}
		return jsonResult(analytics)
	})
}

func registerAnnotationJobTool(s *server.MCPServer, deps *ReviewToolDeps) {
	tool := readOnly("get_annotation_job",
		mcp.WithDescription(
			"Fetch one generation job with its candidate annotations. Failed jobs carry "+
				"the error message in errorMessage."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job UUID returned by the generate endpoint"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := requiredString(req, "job_id")
		if !ok {
			return NewErrorResult("invalid_parameters", "job_id is required"), nil
		}
		jobID, err := uuid.Parse(raw)
		if err != nil {
			return NewErrorResult("invalid_parameters", fmt.Sprintf("job_id %q is not a UUID", raw)), nil
		}

		job, err := deps.Jobs.GetJob(ctx, jobID)
		if err != nil {
			if res := domainErrorResult(err); res != nil {
				return res, nil
			}
			deps.Logger.Error("Failed to get annotation job",
				zap.String("job_id", jobID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to get annotation job: %w", err)
		}
		if job == nil {
			return NewErrorResult("not_found", apperrors.ErrNotFound.Error()), nil
		}
		return jsonResult(job)
	})
}
