// Package queue implements the in-process priority task queue and fixed
// worker pool that drive every asynchronous operation in the dispatch
// engine (message delivery attempts, AI processing, URL fetches, and
// periodic maintenance jobs).
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending is returned when a caller tries to cancel or retry a task
// that is not currently eligible for that transition.
var ErrNotPending = errors.New("queue: task is not in a cancellable/retriable state")

// ErrUnknownTask is returned by lookups for a task id the queue has never
// seen, or has already purged.
var ErrUnknownTask = errors.New("queue: unknown task id")

// Priority orders tasks within the queue; lower values run first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// Type names the handler a task is dispatched to.
type Type string

const (
	TypeSendMessage       Type = "send_message"
	TypeAIProcess         Type = "ai_process"
	TypeURLFetch          Type = "url_fetch"
	TypeSystemMaintenance Type = "system_maintenance"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

// Task is one unit of work submitted to the queue. Payload is opaque to
// the queue itself and interpreted only by the registered Handler for
// its Type.
type Task struct {
	ID         uuid.UUID
	Type       Type
	Priority   Priority
	Payload    any
	Status     Status
	RetryCount int
	MaxRetries int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	seq int64 // FIFO tie-break within equal priority, assigned at submit time
}

func newTask(typ Type, priority Priority, payload any, maxRetries int) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.New(),
		Type:       typ,
		Priority:   priority,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
