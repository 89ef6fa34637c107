// Package scheduler runs the wall-clock periodic jobs that keep the
// dispatch engine healthy: re-queueing failed/stuck attempts, pruning
// completed tasks and terminal attempt rows, emitting stats, and nightly
// store compaction. Each job's ticker+select-on-stop loop is grounded on
// the teacher's internal/worker/worker.go metricsLogger goroutine,
// generalized to four distinct jobs with per-job single-flight
// coalescing (misfire_grace_time has no meaning for a ticker that never
// misses a tick in-process, so max_instances=1 is the coalescing
// mechanism that matters here).
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"messagepusher/internal/dispatch"
	"messagepusher/internal/queue"
)

// Config carries the cadence for every job: an interval for the three
// periodic jobs, a time of day for db_maintenance.
type Config struct {
	CleanupInterval time.Duration
	RetryInterval   time.Duration
	StatsInterval   time.Duration
	// DBMaintenanceAt is the local time-of-day the db_maintenance job fires.
	DBMaintenanceAt time.Time // only Hour/Minute are read
}

// DefaultConfig mirrors spec §4.5's documented default cadence.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: 3600 * time.Second,
		RetryInterval:   300 * time.Second,
		StatsInterval:   86400 * time.Second,
		DBMaintenanceAt: time.Date(0, 1, 1, 2, 0, 0, 0, time.Local),
	}
}

// Scheduler owns the four periodic jobs named in spec §4.5.
type Scheduler struct {
	cfg    Config
	queue  *queue.TaskQueue
	logger *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	// running guards each job against overlapping firings (max_instances=1).
	runningCleanup     atomic.Bool
	runningRetryFailed atomic.Bool
	runningStats       atomic.Bool
	runningDBMaint     atomic.Bool
}

// New builds a Scheduler that submits SystemMaintenance tasks to q.
func New(cfg Config, q *queue.TaskQueue, logger *zap.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, queue: q, logger: logger, stopCh: make(chan struct{})}
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(4)
	go s.runInterval(ctx, "cleanup", s.cfg.CleanupInterval, &s.runningCleanup, func(ctx context.Context) {
		s.submit(queue.PriorityLow, "cleanup")
	})
	go s.runInterval(ctx, "retry_failed", s.cfg.RetryInterval, &s.runningRetryFailed, func(ctx context.Context) {
		s.submit(queue.PriorityNormal, "retry_failed_messages")
	})
	go s.runInterval(ctx, "generate_stats", s.cfg.StatsInterval, &s.runningStats, func(ctx context.Context) {
		s.submit(queue.PriorityLow, "generate_stats")
	})
	go s.runDaily(ctx, "db_maintenance", s.cfg.DBMaintenanceAt, &s.runningDBMaint, func(ctx context.Context) {
		s.submit(queue.PriorityLow, "db_maintenance")
	})
}

// Stop signals every job goroutine to exit and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) submit(priority queue.Priority, action string) {
	s.queue.Submit(queue.TypeSystemMaintenance, priority, dispatch.SystemMaintenancePayload{Action: action}, 0)
}

func (s *Scheduler) runInterval(ctx context.Context, name string, interval time.Duration, running *atomic.Bool, fire func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				s.logger.Info("scheduler job skipped, previous instance still running", zap.String("job", name))
				continue
			}
			fire(ctx)
			running.Store(false)
		}
	}
}

// runDaily fires once per day at the hour/minute in at, sleeping until
// the next occurrence rather than polling every tick.
func (s *Scheduler) runDaily(ctx context.Context, name string, at time.Time, running *atomic.Bool, fire func(context.Context)) {
	defer s.wg.Done()
	for {
		wait := nextOccurrence(time.Now(), at)
		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !running.CompareAndSwap(false, true) {
				s.logger.Info("scheduler job skipped, previous instance still running", zap.String("job", name))
				continue
			}
			fire(ctx)
			running.Store(false)
		}
	}
}

// nextOccurrence returns the duration until the next time of day (hour,
// minute from at) strictly after now, rolling over to tomorrow if that
// time has already passed today or is exactly now.
func nextOccurrence(now, at time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
