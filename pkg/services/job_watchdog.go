package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/database"
	"github.com/aves-app/aves-engine/pkg/repositories"
)

// WatchdogFailureMessage is stored on jobs the watchdog reaps.
const WatchdogFailureMessage = FailurePrefixTimeout + "job exceeded its deadline"

// JobWatchdog fails jobs left in processing past their deadline, such as
// jobs whose process died mid-generation.
type JobWatchdog struct {
	jobRepo  repositories.AnnotationJobRepository
	scopes   database.ScopeProvider
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJobWatchdog creates a watchdog. Call Start to run it periodically.
func NewJobWatchdog(
	jobRepo repositories.AnnotationJobRepository,
	scopes database.ScopeProvider,
	cfg config.GenerationConfig,
	logger *zap.Logger,
) *JobWatchdog {
	interval := cfg.WatchdogInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &JobWatchdog{
		jobRepo:  jobRepo,
		scopes:   scopes,
		interval: interval,
		grace:    cfg.WatchdogGrace,
		now:      time.Now,
		logger:   logger.Named("job-watchdog"),
	}
}

// Sweep fails every expired processing job once and returns their ids.
func (w *JobWatchdog) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	ctx, release, err := w.scopes.WithScopeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer release()

	ids, err := w.jobRepo.FailExpired(ctx, w.now(), w.grace, WatchdogFailureMessage)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		w.logger.Warn("Reaped expired annotation job", zap.String("job_id", id.String()))
	}
	return ids, nil
}

// Start runs Sweep immediately and then every interval until Stop or ctx ends.
// Calling Start on a running watchdog is a no-op.
func (w *JobWatchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info("Job watchdog started",
		zap.Duration("interval", w.interval),
		zap.Duration("grace", w.grace))
}

func (w *JobWatchdog) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Job watchdog sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop halts the periodic sweep and waits for an in-progress sweep to return.
func (w *JobWatchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("Job watchdog stopped")
}
