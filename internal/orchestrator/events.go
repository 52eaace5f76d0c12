// Package orchestrator coordinates agent spawning: admission control,
// resource quotas, deadlock detection, and lifecycle tracking.
package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskCreated indicates a spawn request was admitted and recorded.
	EventTaskCreated EventType = "task.created"
	// EventTaskScheduled indicates a queued task was admitted by the scheduler.
	EventTaskScheduled EventType = "task.scheduled"
	// EventTaskStarted indicates a task began execution.
	EventTaskStarted EventType = "task.started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task.completed"
	// EventTaskFailed indicates a task failed or timed out.
	EventTaskFailed EventType = "task.failed"
	// EventTaskCancelled indicates a task was cancelled, directly or by cascade.
	EventTaskCancelled EventType = "task.cancelled"
)

// Event represents a lifecycle event emitted by the orchestrator.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// RequesterKey identifies the session that owns the task.
	RequesterKey string
	// ParentID is the ID of the parent task, if any.
	ParentID string
	// Message provides additional context about the event.
	Message string
	// ErrorKind classifies the failure for failure/cancellation events.
	ErrorKind models.ErrorKind
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// eventEmitter fans lifecycle events out to subscribers without ever
// blocking the spawn path.
type eventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

func newEventEmitter(bufferSize int) *eventEmitter {
	return &eventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel. If the channel is full the
// event is dropped; a slow subscriber must never stall spawning.
func (e *eventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
	default:
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *eventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *eventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
func (e *eventEmitter) Close() {
	close(e.events)
}
