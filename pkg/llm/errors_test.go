package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorIncludesContext(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Model:      "gpt-4o",
		Endpoint:   "https://api.openai.com/v1?key=secret",
		Cause:      errors.New("upstream"),
	}

	msg := err.Error()
	assert.Contains(t, msg, "HTTP 503")
	assert.Contains(t, msg, "model=gpt-4o")
	assert.Contains(t, msg, "endpoint=api.openai.com")
	assert.NotContains(t, msg, "secret")
	assert.Contains(t, msg, "upstream")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
		status    int
	}{
		{"openai 401", &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key"}, ErrorTypeAuth, false, 401},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, ErrorTypeRateLimit, true, 429},
		{"openai 503 request error", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, ErrorTypeEndpoint, true, 503},
		{"model missing", errors.New("the model `gpt-9` does not exist"), ErrorTypeModel, false, 0},
		{"plain 404", errors.New("HTTP 404 page"), ErrorTypeEndpoint, false, 404},
		{"overloaded text", errors.New("overloaded_error: Overloaded"), ErrorTypeUnavailable, true, 0},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), ErrorTypeEndpoint, true, 0},
		{"timeout", errors.New("net/http: request canceled (Client.Timeout exceeded) timeout"), ErrorTypeEndpoint, true, 0},
		{"bad request", errors.New("status 400: invalid image"), ErrorTypeImage, false, 400},
		{"circuit open", fmt.Errorf("%w: probe in flight", ErrCircuitOpen), ErrorTypeUnavailable, false, 0},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_PassesThroughClassified(t *testing.T) {
	original := NewError(ErrorTypeResponse, "unusable model output", true, nil)
	wrapped := fmt.Errorf("attempt 2: %w", original)
	assert.Same(t, original, ClassifyError(wrapped))
	assert.Nil(t, ClassifyError(nil))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, GetErrorType(NewError(ErrorTypeAuth, "x", false, nil)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
}
