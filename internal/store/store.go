// Package store provides durable persistence for task records.
// The orchestrator talks to the TaskStore interface; a SQLite-backed
// implementation and an in-memory implementation are provided.
package store

import (
	"errors"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// ErrNotFound indicates the requested task record does not exist.
var ErrNotFound = errors.New("task not found")

// ErrTerminal indicates an update was attempted on a terminal record.
var ErrTerminal = errors.New("task is terminal")

// StatusPatch carries the fields that may accompany a status transition.
// Result and Error are mutually exclusive and only meaningful on terminal
// transitions.
type StatusPatch struct {
	// StartedAt records when execution began, if transitioning to running.
	StartedAt *time.Time
	// CompletedAt records when the terminal state was reached.
	CompletedAt *time.Time
	// Result is the task output, for completed tasks.
	Result string
	// Error is the failure message, for failed/timeout/cancelled tasks.
	Error string
	// ErrorKind classifies the failure.
	ErrorKind models.ErrorKind
}

// TaskStore is the durable record store the orchestrator requires.
// Implementations must enforce forward-only status transitions: once a
// record is terminal it is immutable.
type TaskStore interface {
	// Insert persists a new task record.
	Insert(rec *models.TaskRecord) error
	// Get returns the record with the given ID, or ErrNotFound.
	Get(id string) (*models.TaskRecord, error)
	// UpdateStatus transitions a record's status and applies the patch.
	// Returns ErrTerminal if the record is already terminal and an error
	// if the transition does not move forward through the lifecycle.
	UpdateStatus(id string, status models.TaskStatus, patch StatusPatch) error
	// GetActiveByRequester returns all non-terminal records for a requester key.
	GetActiveByRequester(key string) ([]*models.TaskRecord, error)
	// GetChildren returns all records whose parent is the given task.
	GetChildren(parentID string) ([]*models.TaskRecord, error)
	// GetSubtree returns the record with the given ID and all its
	// descendants, parents before children.
	GetSubtree(rootID string) ([]*models.TaskRecord, error)
	// ListActive returns all non-terminal records.
	ListActive() ([]*models.TaskRecord, error)
	// PurgeTerminal deletes terminal records older than the given age.
	// Returns the number of records deleted.
	PurgeTerminal(olderThan time.Duration) (int64, error)
	// Close releases the store's resources.
	Close() error
}
