package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(threshold int, resetAfter time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	require.NoError(t, cb.Allow())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())
	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)
	cb.RecordFailure()
	require.Error(t, cb.Allow())

	*now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_NeutralReleasesProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Second)
	cb.RecordFailure()
	*now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordNeutral()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestGuardedClient_OpensOnTransientFailures(t *testing.T) {
	mock := NewMockVisionClient()
	mock.DetectFeaturesFunc = func(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
		return nil, NewError(ErrorTypeEndpoint, "server error", true, nil)
	}
	cb, _ := newTestBreaker(2, time.Minute)
	guarded := NewGuardedClient(mock, cb, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := guarded.DetectFeatures(context.Background(), &DetectionRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	_, err := guarded.DetectFeatures(context.Background(), &DetectionRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeUnavailable, GetErrorType(err))
	assert.False(t, ClassifyError(err).Retryable)
	assert.Equal(t, 2, mock.Calls(), "open breaker must not reach the provider")
}

func TestGuardedClient_PermanentFailuresDoNotTrip(t *testing.T) {
	mock := NewMockVisionClient()
	mock.DetectFeaturesFunc = func(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	}
	cb, _ := newTestBreaker(1, time.Minute)
	guarded := NewGuardedClient(mock, cb, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, _ = guarded.DetectFeatures(context.Background(), &DetectionRequest{})
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "mock-vision", guarded.GetModel())
}

func TestRateLimitedClient_WaitsForToken(t *testing.T) {
	mock := NewMockVisionClient()
	limited := NewRateLimitedClient(mock, 20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := limited.DetectFeatures(context.Background(), &DetectionRequest{})
		require.NoError(t, err)
	}
	// Burst 1 at 20 rps: the 2nd and 3rd calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, mock.Calls())
}

func TestRateLimitedClient_RespectsContext(t *testing.T) {
	mock := NewMockVisionClient()
	limited := NewRateLimitedClient(mock, 0.1, 1)

	_, err := limited.DetectFeatures(context.Background(), &DetectionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.DetectFeatures(ctx, &DetectionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls())
}

func TestRateLimitedClient_ZeroRateIsUnlimited(t *testing.T) {
	limited := NewRateLimitedClient(NewMockVisionClient(), 0, 0)
	for i := 0; i < 50; i++ {
		_, err := limited.DetectFeatures(context.Background(), &DetectionRequest{})
		require.NoError(t, err)
	}
}
