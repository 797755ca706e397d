package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/auth"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/services"
)

// RecommendationsResponse for GET /annotations/patterns/species/{species}/recommendations
type RecommendationsResponse struct {
	Species         string                      `json:"species"`
	Recommendations []models.RecommendedFeature `json:"recommendations"`
	Avoid           []models.RecommendedFeature `json:"avoid"`
}

// PatternHandler serves the learned-pattern read endpoints.
type PatternHandler struct {
	patternService services.PatternLearningService
	logger         *zap.Logger
}

// NewPatternHandler creates a new pattern handler.
func NewPatternHandler(patternService services.PatternLearningService, logger *zap.Logger) *PatternHandler {
	return &PatternHandler{
		patternService: patternService,
		logger:         logger,
	}
}

// RegisterRoutes registers the pattern routes on the given mux.
func (h *PatternHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/annotations/patterns"

	mux.HandleFunc("GET "+base+"/analytics", authMiddleware.RequireReviewer(h.Analytics))
	mux.HandleFunc("GET "+base+"/export", authMiddleware.RequireReviewer(h.Export))
	mux.HandleFunc("GET "+base+"/species/{species}/recommendations", authMiddleware.RequireReviewer(h.Recommendations))
}

// Analytics handles GET /annotations/patterns/analytics
func (h *PatternHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.patternService.GetPatternAnalytics(r.Context())
	if err != nil {
		writeServiceError(w, err, "get_pattern_analytics", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, analytics); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Recommendations handles GET /annotations/patterns/species/{species}/recommendations?limit=
func (h *PatternHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit", 0, h.logger)
	if !ok {
		return
	}

	species := models.NormalizeSpecies(r.PathValue("species"))

	recommended, err := h.patternService.GetRecommendedFeatures(r.Context(), species, limit)
	if err != nil {
		writeServiceError(w, err, "get_recommendations", h.logger)
		return
	}
	avoid, err := h.patternService.GetAvoidFeatures(r.Context(), species)
	if err != nil {
		writeServiceError(w, err, "get_recommendations", h.logger)
		return
	}

	response := RecommendationsResponse{
		Species:         species,
		Recommendations: recommended,
		Avoid:           avoid,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /annotations/patterns/export?format=json|yaml
func (h *PatternHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := services.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err, "export_patterns", h.logger)
		return
	}

	body, err := h.patternService.ExportLearnedPatterns(r.Context(), format)
	if err != nil {
		writeServiceError(w, err, "export_patterns", h.logger)
		return
	}

	contentType := "application/json"
	if format == services.ExportFormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
