package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves-engine/pkg/apperrors"
)

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Zero(t, cfg.MaxElapsed)
}

func TestForAttempts(t *testing.T) {
	cfg := ForAttempts(3, time.Second, 8*time.Second, 45*time.Second)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.MaxElapsed)

	assert.Equal(t, 0, ForAttempts(0, time.Second, time.Second, 0).MaxRetries)
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, Attempts(err))
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	calls := 0
	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_MaxElapsedStopsEarly(t *testing.T) {
	cfg := &Config{
		MaxRetries:   10,
		InitialDelay: 40 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   1,
		MaxElapsed:   100 * time.Millisecond,
	}
	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Less(t, calls, 5)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestDo_OnRetryCalledBeforeEachSleep(t *testing.T) {
	cfg := fastConfig(2)
	var seen []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}
	_ = Do(context.Background(), cfg, func() error { return errors.New("fail") })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_NilConfig(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		calls++
		return calls * 10, errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 20, result)
}

func TestDoWithResult_SuccessAfterRetries(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"uppercase pattern", errors.New("Connection Refused"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"http 503", errors.New("status 503 from provider"), true},
		{"http 429", errors.New("error, status code: 429"), true},
		{"anthropic overloaded", errors.New("overloaded_error: Overloaded"), true},
		{"auth error", errors.New("authentication failed"), false},
		{"syntax error", errors.New("syntax error at position 10"), false},
		{"context canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("vision call: %w", context.DeadlineExceeded), false},
		{"not found", fmt.Errorf("job: %w", apperrors.ErrNotFound), false},
		{"conflict", apperrors.ErrConflict, false},
		{"validation", apperrors.NewValidationError("boundingBox", "no area"), false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock sqlstate", &pgconn.PgError{Code: "40P01"}, true},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23514"}), false},
		{"retryable generation error", &apperrors.GenerationError{Message: "x", Retryable: true}, true},
		{"permanent generation error", &apperrors.GenerationError{Message: "503 but bad key", Retryable: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestDoIfRetryable_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		return errors.New("authentication failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, Attempts(err))
}

func TestDoIfRetryable_RetriesTransient(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 2
	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error")
	assert.Equal(t, 2, calls)
}

func TestDoIfRetryableWithResult_ReportsAttempts(t *testing.T) {
	var seen []int
	result, attempts, err := DoIfRetryableWithResult(context.Background(), fastConfig(3), func(attempt int) (string, error) {
		seen = append(seen, attempt)
		if attempt == 1 {
			return "", errors.New("timeout talking to provider")
		}
		return "features", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "features", result)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoIfRetryableWithResult_Exhausted(t *testing.T) {
	_, attempts, err := DoIfRetryableWithResult(context.Background(), fastConfig(2), func(int) (int, error) {
		return 0, errors.New("502 bad gateway")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
}

func TestClassifyErrorType(t *testing.T) {
	assert.Equal(t, "503", classifyErrorType(errors.New("HTTP 503")))
	assert.Equal(t, "timeout", classifyErrorType(errors.New("request timed out")))
	assert.Equal(t, "sqlstate_40001", classifyErrorType(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, "unknown", classifyErrorType(errors.New("weird")))
}
