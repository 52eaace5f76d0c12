package models

import (
	"fmt"
	"strings"
)

// ErrorCode identifies the category of a spawn rejection.
type ErrorCode string

const (
	// CodeRateLimited indicates the token bucket could not grant tokens
	// within the wait ceiling.
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	// CodeResourceExhausted indicates a quota check failed.
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	// CodeDeadlockDetected indicates the requested wait-for edges would
	// close a cycle.
	CodeDeadlockDetected ErrorCode = "DEADLOCK_DETECTED"
	// CodeCircuitOpen indicates the circuit breaker rejected the call
	// without attempting task creation.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// QuotaReason identifies which quota a RESOURCE_EXHAUSTED rejection hit.
type QuotaReason string

const (
	// ReasonConcurrentLimit means the requester's live task count is at its cap.
	ReasonConcurrentLimit QuotaReason = "CONCURRENT_LIMIT_EXCEEDED"
	// ReasonMaxDepth means the spawn would exceed the maximum spawn depth.
	ReasonMaxDepth QuotaReason = "MAX_DEPTH_EXCEEDED"
	// ReasonMaxSubAgents means the parent's live child count is at its cap.
	ReasonMaxSubAgents QuotaReason = "MAX_SUBAGENTS_EXCEEDED"
)

// ErrorKind classifies how a task reached an unsuccessful terminal state.
type ErrorKind string

const (
	// KindOrphaned marks a task cancelled because its parent terminated.
	KindOrphaned ErrorKind = "ORPHANED"
	// KindParentCancelled marks a task cancelled as part of a cascading
	// subtree cancellation.
	KindParentCancelled ErrorKind = "PARENT_CANCELLED"
	// KindDeadlock marks a task failed because its dependencies formed a cycle.
	KindDeadlock ErrorKind = "DEADLOCK_DETECTED"
	// KindTimeout marks a task that exceeded its execution deadline.
	KindTimeout ErrorKind = "TIMEOUT"
)

// SpawnError is the structured rejection returned by the spawn pipeline.
// Every rejection path carries a typed code; no error is silently dropped.
type SpawnError struct {
	// Code is the rejection category.
	Code ErrorCode
	// Reason is the quota sub-reason for RESOURCE_EXHAUSTED rejections.
	Reason QuotaReason
	// Cycle is the full cycle path for DEADLOCK_DETECTED rejections.
	Cycle []string
	// Current is the observed counter value for quota rejections.
	Current int
	// Limit is the configured cap for quota rejections.
	Limit int
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	switch e.Code {
	case CodeResourceExhausted:
		return fmt.Sprintf("%s: %s (current %d, limit %d)", e.Code, e.Reason, e.Current, e.Limit)
	case CodeDeadlockDetected:
		return fmt.Sprintf("%s: cycle [%s]", e.Code, strings.Join(e.Cycle, " -> "))
	default:
		return string(e.Code)
	}
}

// Is allows errors.Is matching against a bare *SpawnError with the same code.
func (e *SpawnError) Is(target error) bool {
	t, ok := target.(*SpawnError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewRateLimited returns a RATE_LIMITED rejection.
func NewRateLimited() *SpawnError {
	return &SpawnError{Code: CodeRateLimited}
}

// NewResourceExhausted returns a RESOURCE_EXHAUSTED rejection with its
// sub-reason and the counter values observed at rejection time.
func NewResourceExhausted(reason QuotaReason, current, limit int) *SpawnError {
	return &SpawnError{Code: CodeResourceExhausted, Reason: reason, Current: current, Limit: limit}
}

// NewDeadlockDetected returns a DEADLOCK_DETECTED rejection carrying the cycle.
func NewDeadlockDetected(cycle []string) *SpawnError {
	return &SpawnError{Code: CodeDeadlockDetected, Cycle: cycle}
}

// NewCircuitOpen returns a CIRCUIT_OPEN rejection.
func NewCircuitOpen() *SpawnError {
	return &SpawnError{Code: CodeCircuitOpen}
}
