package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueClosed is returned by Submit after Shutdown.
	ErrQueueClosed = errors.New("work queue is shut down")
	// ErrDuplicateTask is returned when a task with the same ID is still active.
	ErrDuplicateTask = errors.New("task is already queued or running")
)

const (
	defaultHookTimeout = 10 * time.Second
	defaultRetention   = 15 * time.Minute
)

// Queue runs submitted tasks in FIFO order under a concurrency strategy.
// Every task runs under its own deadline; the queue guarantees that a task
// which neither finishes nor fails on its own gets OnTimeout (deadline) or
// OnCancel (shutdown), so nothing is left half-done without a hook firing.
type Queue struct {
	mu     sync.Mutex
	tasks  []*TaskState
	byID   map[string]*TaskState
	closed bool

	strategy    ConcurrencyStrategy
	hookTimeout time.Duration
	retention   time.Duration

	// done is closed whenever no task is pending or running
	done chan struct{}
	// wg tracks runTask goroutines
	wg sync.WaitGroup

	// parent of every task context; cancelled on Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithHookTimeout bounds OnTimeout and OnCancel.
func WithHookTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.hookTimeout = d
		}
	}
}

// WithRetention sets how long finished tasks stay visible through Get.
func WithRetention(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.retention = d
		}
	}
}

// New creates a queue. The default strategy runs one task at a time.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		byID:        make(map[string]*TaskState),
		strategy:    NewSerializedStrategy(),
		hookTimeout: defaultHookTimeout,
		retention:   defaultRetention,
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	// Empty queue starts idle.
	close(q.done)
	return q
}

// Submit adds a task and starts it if the strategy allows.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if existing, ok := q.byID[task.ID()]; ok && !existing.GetStatus().IsTerminal() {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID())
	}

	q.pruneLocked(time.Now())

	ts := NewTaskState(task)
	q.tasks = append(q.tasks, ts)
	q.byID[task.ID()] = ts

	q.logger.Debug("task submitted",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Duration("timeout", task.Timeout()))

	q.resetDoneLocked()
	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts pending tasks in submission order.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}
		q.strategy.OnStart()

		var (
			ctx      context.Context
			cancel   context.CancelFunc
			deadline *time.Time
		)
		if d, ok := deadlineFor(ts.Task, time.Now()); ok {
			deadline = &d
			ctx, cancel = context.WithDeadline(q.ctx, d)
		} else {
			ctx, cancel = context.WithCancel(q.ctx)
		}
		ts.start(deadline)

		q.wg.Add(1)
		go q.runTask(ctx, cancel, ts)
	}
}

// runTask executes one task and settles its outcome. Execute runs in its own
// goroutine so an expired deadline is acted on even when the task ignores ctx.
func (q *Queue) runTask(ctx context.Context, cancel context.CancelFunc, ts *TaskState) {
	defer q.wg.Done()
	defer cancel()

	task := ts.Task
	var (
		err    error
		status TaskStatus
	)

	// A task whose deadline passed while it waited for a slot never runs.
	if ctx.Err() != nil {
		err = ctx.Err()
		status = q.classify(ctx, err)
		q.settle(ts, status, err)
		return
	}

	result := make(chan error, 1)
	go func() {
		result <- q.execute(ctx, task)
	}()

	select {
	case err = <-result:
		status = q.classify(ctx, err)
	case <-ctx.Done():
		err = ctx.Err()
		status = q.classify(ctx, err)
		go func() {
			if late := <-result; late == nil {
				q.logger.Warn("task finished after its deadline",
					zap.String("task_id", task.ID()),
					zap.String("task_name", task.Name()))
			}
		}()
	}

	q.settle(ts, status, err)
}

// settle logs the outcome, runs the matching hook and records the terminal status.
func (q *Queue) settle(ts *TaskState, status TaskStatus, err error) {
	task := ts.Task
	switch status {
	case TaskStatusTimedOut:
		q.logger.Warn("task deadline exceeded",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()),
			zap.Duration("timeout", task.Timeout()))
		q.runHook(task, "on_timeout", func(hctx context.Context) { task.OnTimeout(hctx, err) })
	case TaskStatusCancelled:
		q.logger.Info("task cancelled by shutdown",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		q.runHook(task, "on_cancel", func(hctx context.Context) { task.OnCancel(hctx, err) })
	case TaskStatusFailed:
		q.logger.Error("task failed",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()),
			zap.Error(err))
	default:
		q.logger.Debug("task completed",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
	}

	q.complete(ts, status, err)
}

// classify maps an Execute result onto a terminal status.
func (q *Queue) classify(ctx context.Context, err error) TaskStatus {
	switch {
	case err == nil:
		return TaskStatusCompleted
	case q.ctx.Err() != nil:
		return TaskStatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return TaskStatusTimedOut
	default:
		return TaskStatusFailed
	}
}

// execute runs the task, turning a panic into an error.
func (q *Queue) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name(), r)
		}
	}()
	return task.Execute(ctx)
}

// runHook calls a lifecycle hook on a fresh bounded context.
func (q *Queue) runHook(task Task, hook string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), q.hookTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task hook panicked",
				zap.String("task_id", task.ID()),
				zap.String("hook", hook),
				zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

func (q *Queue) complete(ts *TaskState, status TaskStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts.finish(status, err)
	q.strategy.OnComplete()

	q.tryStartTasksLocked()
	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
}

// pruneLocked forgets finished tasks older than the retention window.
// Must be called with lock held.
func (q *Queue) pruneLocked(now time.Time) {
	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		snap := ts.Snapshot()
		if snap.Status.IsTerminal() && snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > q.retention {
			if q.byID[snap.ID] == ts {
				delete(q.byID, snap.ID)
			}
			continue
		}
		kept = append(kept, ts)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
}

// allTasksDoneLocked returns true if all tasks are in a terminal state.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		if !ts.GetStatus().IsTerminal() {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// Get returns a snapshot of the task with the given ID.
func (q *Queue) Get(id string) (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.byID[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return ts.Snapshot(), true
}

// GetTasks returns a snapshot of all retained tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until no task is pending or running, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, cancels pending and running ones, and
// waits for running tasks to settle or ctx to expire. Pending tasks get
// OnCancel without ever running.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.waitRunning(ctx)
	}
	q.closed = true

	var never []*TaskState
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.finish(TaskStatusCancelled, ErrQueueClosed)
			never = append(never, ts)
		}
	}
	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
	q.mu.Unlock()

	q.logger.Info("shutting down work queue",
		zap.Int("pending_cancelled", len(never)))

	q.cancel()
	for _, ts := range never {
		task := ts.Task
		q.runHook(task, "on_cancel", func(hctx context.Context) { task.OnCancel(hctx, ErrQueueClosed) })
	}

	return q.waitRunning(ctx)
}

func (q *Queue) waitRunning(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("work queue shutdown: %w", ctx.Err())
	}
}

// IsClosed reports whether Shutdown has been called.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusTimedOut:
			p.TimedOut++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.TimedOut + p.Cancelled
	return (done * 100) / p.Total
}
