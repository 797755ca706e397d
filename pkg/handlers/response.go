package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/llm"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return writeErrorBody(w, statusCode, ErrorBody{Error: errorCode, Message: message})
}

// ValidationErrorResponse writes a 400 carrying the per-field detail of ve.
func ValidationErrorResponse(w http.ResponseWriter, ve *apperrors.ValidationError) error {
	return writeErrorBody(w, http.StatusBadRequest, ErrorBody{
		Error:   "validation_error",
		Message: ve.Error(),
		Fields:  ve.Fields,
	})
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorBody) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error onto its HTTP status. Unexpected
// failures are logged; their detail is not echoed to the client.
func writeServiceError(w http.ResponseWriter, err error, op string, logger *zap.Logger) {
	var (
		ve      *apperrors.ValidationError
		genErr  *apperrors.GenerationError
		writeErr error
	)

	switch {
	case errors.As(err, &ve):
		writeErr = ValidationErrorResponse(w, ve)
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", "Annotation not found or already processed")
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrUnauthorized):
		writeErr = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
	case errors.Is(err, llm.ErrCircuitOpen):
		writeErr = ErrorResponse(w, http.StatusServiceUnavailable, "provider_unavailable", "Vision provider is temporarily unavailable")
	case errors.As(err, &genErr):
		logger.Error("Generation failed", zap.String("op", op), zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusBadGateway, "generation_failed", "Vision provider request failed")
	default:
		logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, op+"_failed", "Internal server error")
	}

	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

// decodeOptionalJSON decodes r's body into v. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeInvalidBody(w http.ResponseWriter, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
