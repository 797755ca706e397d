package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the breaker's view of the vision provider.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds breaker thresholds.
type CircuitBreakerConfig struct {
	Threshold  int           // consecutive retryable failures before tripping
	ResetAfter time.Duration // open period before a single probe is let through
}

// CircuitBreaker stops generation jobs from hammering a provider that is down.
// Only transient failures count; a bad request says nothing about provider health.
type CircuitBreaker struct {
	mu               sync.Mutex
	cfg              CircuitBreakerConfig
	state            CircuitState
	consecutiveFails int
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. After ResetAfter an open breaker
// admits exactly one probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.ResetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return fmt.Errorf("%w: %d consecutive failures, retry in %v", ErrCircuitOpen,
			cb.consecutiveFails, (cb.cfg.ResetAfter - cb.now().Sub(cb.openedAt)).Round(time.Second))
	default:
		return fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
	}
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a transient failure and trips the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.cfg.Threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// RecordNeutral releases a half-open probe that ended without telling us
// anything about provider health.
func (cb *CircuitBreaker) RecordNeutral() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the running failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// GuardedClient wraps a VisionClient with a circuit breaker.
type GuardedClient struct {
	next    VisionClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedClient wraps next.
func NewGuardedClient(next VisionClient, breaker *CircuitBreaker, logger *zap.Logger) *GuardedClient {
	return &GuardedClient{next: next, breaker: breaker, logger: logger.Named("vision.breaker")}
}

// DetectFeatures implements VisionClient.
func (g *GuardedClient) DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, NewError(ErrorTypeUnavailable, "provider unavailable", false, err)
	}

	result, err := g.next.DetectFeatures(ctx, req)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case ClassifyError(err).Retryable:
		g.breaker.RecordFailure()
		if g.breaker.State() == CircuitOpen {
			g.logger.Warn("Vision provider circuit opened",
				zap.Int("consecutive_failures", g.breaker.ConsecutiveFailures()),
				zap.Error(err))
		}
	default:
		g.breaker.RecordNeutral()
	}
	return result, err
}

// GetModel implements VisionClient.
func (g *GuardedClient) GetModel() string {
	return g.next.GetModel()
}
