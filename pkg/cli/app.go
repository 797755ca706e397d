package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/llm"
	"github.com/aves-app/aves-engine/pkg/logging"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/services"
	"github.com/aves-app/aves-engine/pkg/services/workqueue"
)

// app holds the wired components shared by the subcommands.
type app struct {
	db     *database.DB
	scopes *database.PoolScopeProvider

	jobRepo       repositories.AnnotationJobRepository
	itemRepo      repositories.AnnotationItemRepository
	reviewRepo    repositories.ReviewRepository
	analyticsRepo repositories.AnalyticsRepository

	patterns  services.PatternLearningService
	review    services.ReviewService
	analytics services.AnalyticsService
	watchdog  *services.JobWatchdog

	// Set by withGeneration.
	generation services.GenerationService
	locator    *llm.CloudVisionLocator
}

func databaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}
}

// connect opens the pool. Migrations are applied first when migrate is set.
func connect(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (*database.DB, error) {
	dbCfg := databaseConfig(cfg)
	logger.Info("Connecting to database",
		zap.String("dsn", logging.SanitizeConnectionString(dbCfg.URL)))

	if migrate {
		if err := database.Migrate(dbCfg.URL, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return database.NewConnection(ctx, dbCfg)
}

// newApp wires the store, learning, review and analytics layers. Generation
// is wired separately because only serve needs the vision provider.
func newApp(db *database.DB, cfg *config.Config, logger *zap.Logger) *app {
	a := &app{
		db:            db,
		scopes:        database.NewScopeProvider(db),
		jobRepo:       repositories.NewAnnotationJobRepository(),
		itemRepo:      repositories.NewAnnotationItemRepository(),
		reviewRepo:    repositories.NewReviewRepository(),
		analyticsRepo: repositories.NewAnalyticsRepository(),
	}

	var store services.PatternStore
	if cfg.Learning.Store == "memory" {
		logger.Warn("Using in-memory pattern store; learned patterns are lost on restart")
		store = services.NewMemoryPatternStore()
	} else {
		store = repositories.NewPatternRepository()
	}

	a.patterns = services.NewPatternLearningService(store, a.scopes, cfg.Learning, logger)
	a.review = services.NewReviewService(a.reviewRepo, a.itemRepo, a.scopes, a.patterns, cfg.Review, logger)
	a.analytics = services.NewAnalyticsService(a.analyticsRepo, a.jobRepo, a.reviewRepo, a.scopes, cfg.Review, logger)
	a.watchdog = services.NewJobWatchdog(a.jobRepo, a.scopes, cfg.Generation, logger)
	return a
}

// withGeneration wires the vision client, the optional bird locator and the
// generation queue.
func (a *app) withGeneration(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	vision, err := llm.NewVisionClient(cfg.Vision, logger)
	if err != nil {
		return fmt.Errorf("create vision client: %w", err)
	}

	var locator llm.BirdLocator
	if cfg.CloudVision.Enabled {
		a.locator, err = llm.NewCloudVisionLocator(ctx, logger)
		if err != nil {
			// Region filtering is optional; generation proceeds without it.
			logger.Warn("Cloud Vision unavailable, bird-region filter disabled", zap.Error(err))
		} else {
			locator = a.locator
		}
	}

	generator := services.NewAnnotationGenerator(vision, locator, a.patterns, cfg, logger)
	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Generation.MaxConcurrent)))

	a.generation = services.NewGenerationService(a.jobRepo, a.itemRepo, a.scopes, generator, queue, cfg.Generation, logger)
	return nil
}

// close shuts generation down, then releases the pool.
func (a *app) close(ctx context.Context, logger *zap.Logger) {
	if a.generation != nil {
		if err := a.generation.Shutdown(ctx); err != nil {
			logger.Error("Generation shutdown did not complete", zap.Error(err))
		}
	}
	a.watchdog.Stop()
	if a.locator != nil {
		if err := a.locator.Close(); err != nil {
			logger.Warn("Failed to close Cloud Vision client", zap.Error(err))
		}
	}
	a.db.Close()
}
