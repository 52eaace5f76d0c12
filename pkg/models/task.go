package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task record exists but has not been scheduled.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusScheduled indicates the task has been handed to an executor.
	TaskStatusScheduled TaskStatus = "scheduled"
	// TaskStatusRunning indicates the task is being worked on.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusTimeout indicates the task exceeded its execution deadline.
	TaskStatusTimeout TaskStatus = "timeout"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusScheduled, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is final. Terminal records are immutable.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a status change from s to next moves forward
// through the lifecycle. Transitions never skip backward and terminal states
// accept no further transitions.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusScheduled || next.Terminal()
	case TaskStatusScheduled:
		return next == TaskStatusRunning || next.Terminal()
	case TaskStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// TaskRecord represents one spawned unit of work tracked by the orchestrator.
type TaskRecord struct {
	// ID is the unique identifier for this task, assigned at creation.
	ID string `json:"id"`
	// RequesterKey identifies the caller or session that requested the spawn.
	// Quotas are scoped per requester key.
	RequesterKey string `json:"requester_key"`
	// ParentID is the ID of the parent task, empty for root tasks.
	ParentID string `json:"parent_id,omitempty"`
	// Title is a short description of the task.
	Title string `json:"title,omitempty"`
	// Status is the current lifecycle state of the task.
	Status TaskStatus `json:"status"`
	// SpawnDepth is the number of ancestors between this task and a root task.
	SpawnDepth int `json:"spawn_depth"`
	// WaitFor lists task IDs this task is blocked on.
	WaitFor []string `json:"wait_for,omitempty"`
	// Config carries opaque per-task configuration for the executor.
	Config map[string]string `json:"config,omitempty"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task began running, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the task's output. Set only on successful completion.
	Result string `json:"result,omitempty"`
	// Error holds the failure message. Set only on unsuccessful termination.
	Error string `json:"error,omitempty"`
	// ErrorKind classifies the failure (e.g. ORPHANED, PARENT_CANCELLED).
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Terminal returns true if the record has reached a final state.
func (r *TaskRecord) Terminal() bool {
	return r.Status.Terminal()
}

// Clone returns a deep copy of the record. Snapshots handed to callers must
// not alias orchestrator-owned state.
func (r *TaskRecord) Clone() *TaskRecord {
	c := *r
	if r.WaitFor != nil {
		c.WaitFor = append([]string(nil), r.WaitFor...)
	}
	if r.Config != nil {
		c.Config = make(map[string]string, len(r.Config))
		for k, v := range r.Config {
			c.Config[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
