package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/config"
)

func TestJobWatchdog_Sweep(t *testing.T) {
	repo := newFakeJobRepo()
	stale := uuid.New()
	repo.expired = []uuid.UUID{stale}

	w := NewJobWatchdog(repo, passthroughScopes{}, config.GenerationConfig{WatchdogGrace: 10 * time.Second}, zap.NewNop())

	ids, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale}, ids)
	assert.Equal(t, []time.Duration{10 * time.Second}, repo.expireArgs)
	assert.Equal(t, []failedJob{{id: stale, message: "timeout: job exceeded its deadline"}}, repo.failures())

	ids, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "reaped jobs are not reported twice")
}

func TestJobWatchdog_StartStop(t *testing.T) {
	repo := newFakeJobRepo()
	stale := uuid.New()
	repo.expired = []uuid.UUID{stale}

	w := NewJobWatchdog(repo, passthroughScopes{}, config.GenerationConfig{WatchdogInterval: 5 * time.Millisecond}, zap.NewNop())
	w.Start(context.Background())
	w.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(repo.failures()) == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	repo.mu.Lock()
	sweeps := len(repo.expireArgs)
	repo.mu.Unlock()
	assert.GreaterOrEqual(t, sweeps, 1)
	time.Sleep(20 * time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, sweeps, len(repo.expireArgs), "no sweeps after Stop")
}
