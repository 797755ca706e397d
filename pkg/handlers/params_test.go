package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseAnnotationID(t *testing.T) {
	valid := uuid.New()

	tests := []struct {
		name      string
		pathValue string
		wantOK    bool
		wantID    uuid.UUID
	}{
		{"valid UUID", valid.String(), true, valid},
		{"invalid UUID", "not-a-uuid", false, uuid.Nil},
		{"empty", "", false, uuid.Nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", nil)
			req.SetPathValue("annotationId", tt.pathValue)
			rec := httptest.NewRecorder()

			id, ok := ParseAnnotationID(rec, req, zap.NewNop())

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, "invalid_annotation_id", decodeBody[ErrorBody](t, rec).Error)
			}
		})
	}
}

func TestParseJobID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("jobId", "123")
	rec := httptest.NewRecorder()

	_, ok := ParseJobID(rec, req, zap.NewNop())

	assert.False(t, ok)
	assert.Equal(t, "invalid_job_id", decodeBody[ErrorBody](t, rec).Error)
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test?limit=25&offset=x", nil)

	n, ok := parseIntQuery(httptest.NewRecorder(), req, "limit", 50, zap.NewNop())
	assert.True(t, ok)
	assert.Equal(t, 25, n)

	n, ok = parseIntQuery(httptest.NewRecorder(), req, "missing", 50, zap.NewNop())
	assert.True(t, ok)
	assert.Equal(t, 50, n)

	rec := httptest.NewRecorder()
	_, ok = parseIntQuery(rec, req, "offset", 0, zap.NewNop())
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
