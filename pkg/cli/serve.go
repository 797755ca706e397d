package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/auth"
	"github.com/aves-app/aves-engine/pkg/handlers"
	"github.com/aves-app/aves-engine/pkg/mcp"
	"github.com/aves-app/aves-engine/pkg/mcp/tools"
	"github.com/aves-app/aves-engine/pkg/middleware"
)

const shutdownTimeout = 30 * time.Second

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, generation queue and job watchdog",
	Long: `Start the REST API for annotation generation and review.

Migrations are applied on startup unless --skip-migrations is set.
SIGINT or SIGTERM drains HTTP, cancels in-flight generation (their jobs
are marked failed), stops the watchdog and closes the pool.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting aves-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("vision_provider", cfg.Vision.Provider),
		zap.String("vision_model", cfg.Vision.Model),
		zap.String("pattern_store", cfg.Learning.Store),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled))

	db, err := connect(ctx, cfg, !skipMigrations, logger)
	if err != nil {
		return err
	}

	a := newApp(db, cfg, logger)
	if err := a.withGeneration(ctx, cfg, logger); err != nil {
		db.Close()
		return err
	}

	jwks, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		a.close(context.Background(), logger)
		return fmt.Errorf("create JWKS client: %w", err)
	}
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT verification is disabled; do not run this way outside local development")
	}
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwks, cfg.Auth.ReviewerRoles, logger), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAnnotationHandler(a.generation, a.review, a.analytics, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewPatternHandler(a.patterns, logger).RegisterRoutes(mux, authMiddleware)

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(cfg.Version, &tools.ReviewToolDeps{
			Analytics: a.analytics,
			Patterns:  a.patterns,
			Jobs:      a.generation,
			Logger:    logger,
		}, logger)
		mux.Handle("/mcp", authMiddleware.RequireReviewerHandler(mcpServer.Handler()))
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.watchdog.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	a.close(shutdownCtx, logger)

	logger.Info("aves-engine stopped")
	return runErr
}
