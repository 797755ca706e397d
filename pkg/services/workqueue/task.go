package workqueue

import (
	"context"
	"sync"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task will not run again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is a unit of background work with its own deadline. The queue owns the
// lifecycle: it runs Execute under the deadline and calls exactly one of
// OnTimeout or OnCancel when the task does not finish on its own.
type Task interface {
	// ID identifies the task; at most one active task per ID.
	ID() string

	// Name is a human-readable label for logs.
	Name() string

	// Timeout bounds Execute. Zero means no deadline.
	Timeout() time.Duration

	// Execute does the work. ctx is cancelled at the deadline or on shutdown.
	Execute(ctx context.Context) error

	// OnTimeout runs when the deadline passed before Execute returned.
	// ctx is a fresh short-lived context, not the expired one.
	OnTimeout(ctx context.Context, cause error)

	// OnCancel runs when the queue shut down before the task finished,
	// including tasks that never started.
	OnCancel(ctx context.Context, cause error)
}

// DeadlineTask is implemented by tasks whose deadline is fixed when the work
// is accepted rather than when the queue starts it. The queue uses Deadline in
// place of Timeout, so time spent waiting for a slot counts against it.
type DeadlineTask interface {
	Deadline() time.Time
}

// deadlineFor returns the absolute deadline of task started at now, or false
// when the task has none.
func deadlineFor(task Task, now time.Time) (time.Time, bool) {
	if dt, ok := task.(DeadlineTask); ok {
		if d := dt.Deadline(); !d.IsZero() {
			return d, true
		}
	}
	if timeout := task.Timeout(); timeout > 0 {
		return now.Add(timeout), true
	}
	return time.Time{}, false
}

// TaskState holds the runtime state of a task.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	SubmittedAt time.Time
	StartedAt   *time.Time
	Deadline    *time.Time
	CompletedAt *time.Time
	Error       error

	mu sync.RWMutex
}

// NewTaskState wraps a freshly submitted task.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:        task,
		Status:      TaskStatusPending,
		SubmittedAt: time.Now(),
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// start marks the task running with the given deadline.
func (ts *TaskState) start(deadline *time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := time.Now()
	ts.Status = TaskStatusRunning
	ts.StartedAt = &now
	ts.Deadline = deadline
}

// finish records a terminal status and error.
func (ts *TaskState) finish(status TaskStatus, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := time.Now()
	ts.Status = status
	ts.Error = err
	ts.CompletedAt = &now
}

// GetError returns the error (thread-safe).
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.Error != nil {
		errMsg = ts.Error.Error()
	}

	return TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		Status:      ts.Status,
		SubmittedAt: ts.SubmittedAt,
		StartedAt:   ts.StartedAt,
		Deadline:    ts.Deadline,
		CompletedAt: ts.CompletedAt,
		Error:       errMsg,
	}
}

// TaskSnapshot is an immutable view of task state for serialization.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BaseTask provides identity and deadline for concrete tasks, plus no-op
// lifecycle hooks. Embed it and override the hooks that matter.
type BaseTask struct {
	id      string
	name    string
	timeout time.Duration
}

// NewBaseTask creates a base task.
func NewBaseTask(id, name string, timeout time.Duration) BaseTask {
	return BaseTask{id: id, name: name, timeout: timeout}
}

// ID returns the task ID.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task name.
func (t BaseTask) Name() string {
	return t.name
}

// Timeout returns the task deadline.
func (t BaseTask) Timeout() time.Duration {
	return t.timeout
}

// OnTimeout does nothing.
func (t BaseTask) OnTimeout(ctx context.Context, cause error) {}

// OnCancel does nothing.
func (t BaseTask) OnCancel(ctx context.Context, cause error) {}
