package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/auth"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
	"github.com/aves-app/aves-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// GenerateAnnotationsRequest for POST /annotations/generate/{imageId}
type GenerateAnnotationsRequest struct {
	ImageURL string `json:"imageUrl"`
	Species  string `json:"species,omitempty"`
}

// GenerateAnnotationsResponse for POST /annotations/generate/{imageId}
type GenerateAnnotationsResponse struct {
	JobID  uuid.UUID        `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

// ApproveRequest for POST /annotations/{annotationId}/approve
type ApproveRequest struct {
	Notes string `json:"notes,omitempty"`
}

// RejectAnnotationRequest for POST /annotations/{annotationId}/reject
type RejectAnnotationRequest struct {
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// EditRequest for POST /annotations/{annotationId}/edit and PATCH /annotations/{annotationId}.
// Notes is ignored by PATCH.
type EditRequest struct {
	models.ItemOverrides
	// BoundingBox hides the embedded field from the decoder so a malformed
	// box is reported against boundingBox rather than as an unreadable body.
	BoundingBox json.RawMessage `json:"boundingBox,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// overrides returns the decoded overrides with the bounding box parsed.
func (r *EditRequest) overrides() (*models.ItemOverrides, error) {
	o := r.ItemOverrides
	raw := bytes.TrimSpace(r.BoundingBox)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &o, nil
	}
	box, err := models.ParseBoundingBox(raw)
	if err != nil {
		return nil, apperrors.NewValidationError("boundingBox", err.Error())
	}
	o.BoundingBox = &box
	return &o, nil
}

// BulkApproveRequest for POST /annotations/batch/approve
type BulkApproveRequest struct {
	JobIDs []uuid.UUID `json:"jobIds"`
	Notes  string      `json:"notes,omitempty"`
}

// ReviewActionResponse is returned by approve, reject and edit.
type ReviewActionResponse struct {
	Message              string            `json:"message"`
	AnnotationID         uuid.UUID         `json:"annotationId"`
	ApprovedAnnotationID *uuid.UUID        `json:"approvedAnnotationId,omitempty"`
	Status               models.ItemStatus `json:"status"`
	JobStatus            models.JobStatus  `json:"jobStatus,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// AnnotationHandler serves the generation and review endpoints.
type AnnotationHandler struct {
	generationService services.GenerationService
	reviewService     services.ReviewService
	analyticsService  services.AnalyticsService
	logger            *zap.Logger
}

// NewAnnotationHandler creates a new annotation handler.
func NewAnnotationHandler(
	generationService services.GenerationService,
	reviewService services.ReviewService,
	analyticsService services.AnalyticsService,
	logger *zap.Logger,
) *AnnotationHandler {
	return &AnnotationHandler{
		generationService: generationService,
		reviewService:     reviewService,
		analyticsService:  analyticsService,
		logger:            logger,
	}
}

// RegisterRoutes registers the annotation routes. Approve, reject and edit
// share one pattern because ServeMux rejects /annotations/{id}/approve
// alongside /annotations/generate/{imageId}.
func (h *AnnotationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/annotations"

	mux.HandleFunc("POST "+base+"/generate/{imageId}", authMiddleware.RequireReviewer(h.Generate))
	mux.HandleFunc("GET "+base+"/pending", authMiddleware.RequireReviewer(h.ListPending))
	mux.HandleFunc("GET "+base+"/stats", authMiddleware.RequireReviewer(h.Stats))
	mux.HandleFunc("GET "+base+"/analytics", authMiddleware.RequireReviewer(h.Analytics))
	mux.HandleFunc("POST "+base+"/batch/approve", authMiddleware.RequireReviewer(h.BulkApprove))
	mux.HandleFunc("GET "+base+"/{jobId}", authMiddleware.RequireReviewer(h.GetJob))
	mux.HandleFunc("PATCH "+base+"/{annotationId}", authMiddleware.RequireReviewer(h.Patch))
	mux.HandleFunc("POST "+base+"/{annotationId}/{action}", authMiddleware.RequireReviewer(h.Review))
}

// Generate handles POST /annotations/generate/{imageId}
func (h *AnnotationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateAnnotationsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	job, err := h.generationService.StartGeneration(r.Context(), services.GenerateRequest{
		ImageID:  r.PathValue("imageId"),
		ImageURL: req.ImageURL,
		Species:  req.Species,
	})
	if err != nil {
		writeServiceError(w, err, "start_generation", h.logger)
		return
	}

	response := GenerateAnnotationsResponse{JobID: job.ID, Status: job.Status}
	if err := WriteJSON(w, http.StatusAccepted, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListPending handles GET /annotations/pending?status=&limit=&offset=
// status defaults to pending; "all" lists every status.
func (h *AnnotationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit", 0, h.logger)
	if !ok {
		return
	}
	offset, ok := parseIntQuery(w, r, "offset", 0, h.logger)
	if !ok {
		return
	}

	status := models.ItemStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "":
		status = models.ItemStatusPending
	case "all":
		status = ""
	}

	page, err := h.reviewService.ListItems(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err, "list_annotations", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, page); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetJob handles GET /annotations/{jobId}
func (h *AnnotationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	detail, err := h.generationService.GetJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, err, "get_job", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, detail); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Review handles POST /annotations/{annotationId}/{action} for approve, reject and edit.
func (h *AnnotationHandler) Review(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "approve":
		h.Approve(w, r)
	case "reject":
		h.Reject(w, r)
	case "edit":
		h.Edit(w, r)
	default:
		if err := ErrorResponse(w, http.StatusNotFound, "unknown_action", "Unknown review action"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

// Approve handles POST /annotations/{annotationId}/approve
func (h *AnnotationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	itemID, ok := ParseAnnotationID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApproveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	outcome, err := h.reviewService.Approve(r.Context(), itemID, auth.ReviewerFromContext(r.Context()), req.Notes)
	if err != nil {
		writeServiceError(w, err, "approve_annotation", h.logger)
		return
	}

	h.writeOutcome(w, "Annotation approved", outcome)
}

// Reject handles POST /annotations/{annotationId}/reject
func (h *AnnotationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	itemID, ok := ParseAnnotationID(w, r, h.logger)
	if !ok {
		return
	}

	var req RejectAnnotationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	outcome, err := h.reviewService.Reject(r.Context(), itemID, auth.ReviewerFromContext(r.Context()), services.RejectRequest{
		Category: req.Category,
		Notes:    req.Notes,
		Reason:   req.Reason,
	})
	if err != nil {
		writeServiceError(w, err, "reject_annotation", h.logger)
		return
	}

	h.writeOutcome(w, "Annotation rejected", outcome)
}

// Edit handles POST /annotations/{annotationId}/edit
func (h *AnnotationHandler) Edit(w http.ResponseWriter, r *http.Request) {
	itemID, ok := ParseAnnotationID(w, r, h.logger)
	if !ok {
		return
	}

	var req EditRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	overrides, err := req.overrides()
	if err != nil {
		writeServiceError(w, err, "edit_annotation", h.logger)
		return
	}

	outcome, err := h.reviewService.Edit(r.Context(), itemID, auth.ReviewerFromContext(r.Context()), overrides, req.Notes)
	if err != nil {
		writeServiceError(w, err, "edit_annotation", h.logger)
		return
	}

	h.writeOutcome(w, "Annotation edited and approved", outcome)
}

// Patch handles PATCH /annotations/{annotationId}. The item stays pending.
func (h *AnnotationHandler) Patch(w http.ResponseWriter, r *http.Request) {
	itemID, ok := ParseAnnotationID(w, r, h.logger)
	if !ok {
		return
	}

	var req EditRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	overrides, err := req.overrides()
	if err != nil {
		writeServiceError(w, err, "patch_annotation", h.logger)
		return
	}

	item, err := h.reviewService.Patch(r.Context(), itemID, overrides)
	if err != nil {
		writeServiceError(w, err, "patch_annotation", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, item); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// BulkApprove handles POST /annotations/batch/approve
func (h *AnnotationHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var req BulkApproveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeInvalidBody(w, h.logger)
		return
	}

	result, err := h.reviewService.BulkApprove(r.Context(), req.JobIDs, auth.ReviewerFromContext(r.Context()), req.Notes)
	if err != nil {
		writeServiceError(w, err, "bulk_approve", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Stats handles GET /annotations/stats
func (h *AnnotationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analyticsService.GetStats(r.Context())
	if err != nil {
		writeServiceError(w, err, "get_stats", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Analytics handles GET /annotations/analytics
func (h *AnnotationHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.analyticsService.GetAnalytics(r.Context())
	if err != nil {
		writeServiceError(w, err, "get_analytics", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, analytics); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AnnotationHandler) writeOutcome(w http.ResponseWriter, message string, outcome *repositories.ReviewOutcome) {
	response := ReviewActionResponse{
		Message:      message,
		AnnotationID: outcome.Item.ID,
		Status:       outcome.Item.Status,
		JobStatus:    outcome.JobStatus,
	}
	if outcome.Canonical != nil {
		id := outcome.Canonical.ID
		response.ApprovedAnnotationID = &id
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
