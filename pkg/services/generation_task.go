package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/logging"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/services/workqueue"
)

// generationTask is one asynchronous generation run. The queue enforces the
// job's persisted deadline; the hooks turn a timeout or shutdown into a failed job.
type generationTask struct {
	workqueue.BaseTask
	svc *generationService
	job *models.AnnotationJob
}

func newGenerationTask(svc *generationService, job *models.AnnotationJob) *generationTask {
	return &generationTask{
		BaseTask: workqueue.NewBaseTask(job.ID.String(), fmt.Sprintf("Generate annotations for %s", job.ImageID), svc.cfg.Timeout),
		svc:      svc,
		job:      job,
	}
}

// Deadline implements workqueue.DeadlineTask. It is the deadline_at stored on
// the job, so the queue and the watchdog agree on when the job expires.
func (t *generationTask) Deadline() time.Time {
	return t.job.DeadlineAt
}

// Execute implements workqueue.Task.
func (t *generationTask) Execute(ctx context.Context) error {
	return t.svc.run(ctx, t.job)
}

// OnTimeout implements workqueue.Task.
func (t *generationTask) OnTimeout(ctx context.Context, cause error) {
	msg := fmt.Sprintf("%sgeneration exceeded %s", FailurePrefixTimeout, t.Timeout())
	t.fail(ctx, msg)
}

// OnCancel implements workqueue.Task.
func (t *generationTask) OnCancel(ctx context.Context, cause error) {
	t.fail(ctx, FailurePrefixCancelled+logging.ErrorPayload(cause))
}

func (t *generationTask) fail(ctx context.Context, msg string) {
	if _, err := t.svc.FailJob(ctx, t.job.ID, msg); err != nil {
		t.svc.logger.Error("Failed to record generation outcome",
			zap.String("job_id", t.job.ID.String()),
			zap.String("reason", msg),
			zap.Error(err))
	}
}

var _ workqueue.DeadlineTask = (*generationTask)(nil)
