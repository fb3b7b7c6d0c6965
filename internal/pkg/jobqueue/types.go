package jobqueue

import (
	"time"
)

// TaskStatus defines the status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusRetrying   TaskStatus = "retrying"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one unit of work: a single serialized provider event.
// Ownership while processing is a lease identified by LeaseToken.
type Task struct {
	ID          string        `json:"id"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	Status      TaskStatus    `json:"status"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	MaxExecTime time.Duration `json:"max_exec_time"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	AssignedAt  time.Time     `json:"assigned_at,omitempty"`
	AssignedTo  string        `json:"assigned_to,omitempty"`
	LeaseToken  string        `json:"lease_token,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Result      string        `json:"result,omitempty"`
}

// LeaseDeadline is the instant the queue may hand the task to someone else.
func (t *Task) LeaseDeadline() time.Time {
	return t.AssignedAt.Add(t.MaxExecTime)
}

// CanRetry reports whether a retryable failure should be scheduled again.
func (t *Task) CanRetry() bool {
	return t.Attempt < t.MaxAttempts
}

// MarkAsAssigned records a new lease.
func (t *Task) MarkAsAssigned(worker, token string, now time.Time) {
	t.Status = TaskStatusProcessing
	t.Attempt++
	t.AssignedAt = now
	t.AssignedTo = worker
	t.LeaseToken = token
	t.UpdatedAt = now
}

// MarkAsCompleted updates the task status to completed
func (t *Task) MarkAsCompleted(summary string, now time.Time) {
	t.Status = TaskStatusCompleted
	t.Result = summary
	t.LastError = ""
	t.UpdatedAt = now
	t.CompletedAt = &now
}

// MarkAsRetrying updates the task status to retrying
func (t *Task) MarkAsRetrying(reason string, now time.Time) {
	t.Status = TaskStatusRetrying
	t.LastError = reason
	t.UpdatedAt = now
}

// MarkAsFailed updates the task status to failed
func (t *Task) MarkAsFailed(reason string, now time.Time) {
	t.Status = TaskStatusFailed
	t.LastError = reason
	t.UpdatedAt = now
}

// MarkAsPending puts the task back in line without a lease.
func (t *Task) MarkAsPending(reason string, now time.Time) {
	t.Status = TaskStatusPending
	t.LastError = reason
	t.LeaseToken = ""
	t.AssignedTo = ""
	t.UpdatedAt = now
}

// Stats is a snapshot of one queue.
type Stats struct {
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Delayed    int64            `json:"delayed"`
	Dead       int64            `json:"dead"`
	Counters   map[string]int64 `json:"counters"`
}

// SweepResult reports what one sweep moved.
type SweepResult struct {
	Promoted int
	Requeued int
}
