package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSubmitRunsThroughHandler(t *testing.T) {
	q := New(2, zap.NewNop())
	var ran int32
	q.RegisterHandler(TypeSendMessage, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	q.Start(context.Background())
	defer q.Stop()

	task := q.Submit(TypeSendMessage, PriorityNormal, "payload", 0)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 })

	got, err := q.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestPriorityOrderingWithinHeap(t *testing.T) {
	q := New(1, zap.NewNop())
	var order []Priority
	done := make(chan struct{})
	q.RegisterHandler(TypeSendMessage, func(ctx context.Context, task *Task) error {
		order = append(order, task.Priority)
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	// Queue before starting workers so all three are pending when the
	// single worker wakes, guaranteeing priority ordering is exercised.
	q.Submit(TypeSendMessage, PriorityLow, nil, 0)
	q.Submit(TypeSendMessage, PriorityHigh, nil, 0)
	q.Submit(TypeSendMessage, PriorityNormal, nil, 0)

	q.Start(context.Background())
	defer q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not complete in time")
	}
	require.Equal(t, []Priority{PriorityHigh, PriorityNormal, PriorityLow}, order)
}

func TestRetryThenExhaustion(t *testing.T) {
	q := New(1, zap.NewNop())
	q.retryBaseDelay = 5 * time.Millisecond
	var attempts int32
	q.RegisterHandler(TypeAIProcess, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("transient")
	})
	q.Start(context.Background())
	defer q.Stop()

	task := q.Submit(TypeAIProcess, PriorityNormal, nil, 2)
	waitFor(t, time.Second, func() bool {
		got, err := q.GetTask(task.ID)
		return err == nil && got.Status == StatusFailed
	})

	got, err := q.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 3, int(atomic.LoadInt32(&attempts))) // initial + 2 retries
	require.Equal(t, "transient", got.LastError)
}

func TestCancelPendingTask(t *testing.T) {
	q := New(1, zap.NewNop())
	q.RegisterHandler(TypeURLFetch, func(ctx context.Context, task *Task) error { return nil })

	task := q.Submit(TypeURLFetch, PriorityNormal, nil, 0)
	require.NoError(t, q.CancelTask(task.ID))

	got, err := q.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	// Starting the pool afterwards must skip the cancelled task silently.
	q.Start(context.Background())
	defer q.Stop()
	time.Sleep(20 * time.Millisecond)
	got, err = q.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
}

func TestUnknownTaskType(t *testing.T) {
	q := New(1, zap.NewNop())
	q.retryBaseDelay = time.Millisecond // the missing handler is retried too; keep the backoff inside the wait below
	q.Start(context.Background())
	defer q.Stop()

	task := q.Submit(TypeSystemMaintenance, PriorityNormal, nil, 0)
	waitFor(t, time.Second, func() bool {
		got, err := q.GetTask(task.ID)
		return err == nil && got.Status == StatusFailed
	})
}

func TestPurgeCompleted(t *testing.T) {
	q := New(1, zap.NewNop())
	q.RegisterHandler(TypeSendMessage, func(ctx context.Context, task *Task) error { return nil })
	q.Start(context.Background())

	task := q.Submit(TypeSendMessage, PriorityNormal, nil, 0)
	waitFor(t, time.Second, func() bool {
		got, err := q.GetTask(task.ID)
		return err == nil && got.Status == StatusCompleted
	})
	q.Stop()

	n := q.PurgeCompleted(time.Now().Add(time.Hour))
	require.Equal(t, 1, n)
	_, err := q.GetTask(task.ID)
	require.ErrorIs(t, err, ErrUnknownTask)
}
