package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"messagepusher/internal/eventbus"
)

// Handler executes one task. A returned error marks the task for retry
// (until MaxRetries is exhausted) rather than immediate failure.
type Handler func(ctx context.Context, task *Task) error

// DefaultMaxRetries matches the original task queue's configured retry
// budget when a caller submits without specifying one.
const DefaultMaxRetries = 3

// DefaultRetryBaseDelay scales linearly with RetryCount, the same shape
// as the teacher's worker backoff (`time.Duration(attempts) * 30s`).
const DefaultRetryBaseDelay = 5 * time.Second

// TaskQueue is a fixed-size worker pool draining an in-process priority
// queue. Priority ordering is (Priority, submission order); there is no
// starvation mitigation — a steady stream of High priority tasks can
// delay Low priority ones indefinitely.
type TaskQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  taskHeap
	tasks    map[uuid.UUID]*Task
	handlers map[Type]Handler
	seq      int64

	workers        int
	retryBaseDelay time.Duration
	logger         *zap.Logger
	bus            *eventbus.Bus

	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// SetEventBus attaches the best-effort lifecycle publisher; submitted/
// completed/failed events are published to it as tasks transition.
func (q *TaskQueue) SetEventBus(b *eventbus.Bus) { q.bus = b }

// SetRetryBaseDelay overrides DefaultRetryBaseDelay, the per-retry
// backoff unit a failed task's retry_count is multiplied by.
func (q *TaskQueue) SetRetryBaseDelay(d time.Duration) { q.retryBaseDelay = d }

// New builds a TaskQueue with the given fixed worker count.
func New(workers int, logger *zap.Logger) *TaskQueue {
	q := &TaskQueue{
		pending:        make(taskHeap, 0),
		tasks:          make(map[uuid.UUID]*Task),
		handlers:       make(map[Type]Handler),
		workers:        workers,
		retryBaseDelay: DefaultRetryBaseDelay,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// RegisterHandler binds a Handler to a task Type. Call before Start.
func (q *TaskQueue) RegisterHandler(t Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Start spawns the fixed worker pool. ctx governs the lifetime of every
// handler invocation; cancelling it does not by itself stop the pool —
// call Stop for that.
func (q *TaskQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop signals every worker to exit after its current task and blocks
// until they have exited; tasks still pending in the heap are not run.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stopCh)
	q.cond.Broadcast()
	q.wg.Wait()
}

// Submit enqueues a new task of the given type/priority and returns its
// handle. maxRetries of 0 falls back to DefaultMaxRetries.
func (q *TaskQueue) Submit(typ Type, priority Priority, payload any, maxRetries int) *Task {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	t := newTask(typ, priority, payload, maxRetries)

	q.mu.Lock()
	q.seq++
	t.seq = q.seq
	q.tasks[t.ID] = t
	heap.Push(&q.pending, t)
	q.mu.Unlock()
	q.cond.Signal()
	q.bus.Publish(eventbus.SubjectTaskSubmitted, eventbus.Event{Type: string(typ), TaskID: t.ID.String()})
	return t
}

// GetTask returns the current snapshot of a known task.
func (q *TaskQueue) GetTask(id uuid.UUID) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	cp := *t
	return &cp, nil
}

// CancelTask marks a pending task cancelled; it is a no-op error for a
// task already processing, completed, or failed.
func (q *TaskQueue) CancelTask(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	if t.Status != StatusPending && t.Status != StatusRetrying {
		return ErrNotPending
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	return nil
}

// RetryTask resets a failed task back to pending immediately, bypassing
// the scheduled backoff, and resubmits it to the heap.
func (q *TaskQueue) RetryTask(id uuid.UUID) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownTask
	}
	if t.Status != StatusFailed {
		q.mu.Unlock()
		return ErrNotPending
	}
	t.Status = StatusPending
	t.UpdatedAt = time.Now()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.pending, t)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// PurgeCompleted drops terminal (completed/cancelled) tasks last updated
// before `before` from the in-memory task table, bounding its growth.
func (q *TaskQueue) PurgeCompleted(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, t := range q.tasks {
		if (t.Status == StatusCompleted || t.Status == StatusCancelled) && t.UpdatedAt.Before(before) {
			delete(q.tasks, id)
			n++
		}
	}
	return n
}

// Depth returns the number of tasks currently waiting to be picked up by
// a worker, used by the generate_stats scheduler job.
func (q *TaskQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *TaskQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		t := heap.Pop(&q.pending).(*Task)
		if t.Status == StatusCancelled {
			q.mu.Unlock()
			continue
		}
		t.Status = StatusProcessing
		t.UpdatedAt = time.Now()
		handler, ok := q.handlers[t.Type]
		q.mu.Unlock()

		if !ok {
			q.finish(t, fmt.Errorf("queue: no handler registered for task type %q", t.Type))
			continue
		}

		err := handler(ctx, t)
		q.finish(t, err)
	}
}

func (q *TaskQueue) finish(t *Task, err error) {
	q.mu.Lock()
	now := time.Now()
	if err == nil {
		t.Status = StatusCompleted
		t.LastError = ""
		t.UpdatedAt = now
		q.mu.Unlock()
		q.bus.Publish(eventbus.SubjectTaskCompleted, eventbus.Event{Type: string(t.Type), TaskID: t.ID.String()})
		return
	}

	t.LastError = err.Error()
	t.RetryCount++
	if t.RetryCount > t.MaxRetries {
		t.Status = StatusFailed
		t.UpdatedAt = now
		q.mu.Unlock()
		q.logger.Warn("task exhausted retries",
			zap.String("task_id", t.ID.String()), zap.String("type", string(t.Type)), zap.Error(err))
		q.bus.Publish(eventbus.SubjectTaskFailed, eventbus.Event{Type: string(t.Type), TaskID: t.ID.String(), Detail: err.Error()})
		return
	}
	t.Status = StatusRetrying
	t.UpdatedAt = now
	delay := time.Duration(t.RetryCount) * q.retryBaseDelay
	q.mu.Unlock()

	q.logger.Info("task scheduled for retry",
		zap.String("task_id", t.ID.String()), zap.Int("retry_count", t.RetryCount), zap.Duration("delay", delay))
	time.AfterFunc(delay, func() { q.requeue(t) })
}

func (q *TaskQueue) requeue(t *Task) {
	q.mu.Lock()
	if t.Status != StatusRetrying {
		// Cancelled or otherwise moved on while the backoff timer was running.
		q.mu.Unlock()
		return
	}
	t.Status = StatusPending
	t.UpdatedAt = time.Now()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.pending, t)
	q.mu.Unlock()
	q.cond.Signal()
}
