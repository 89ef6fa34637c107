package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"messagepusher/internal/observability"
	"messagepusher/internal/queue"
	"messagepusher/internal/store"
)

// MaintenanceConfig carries the tunables the four SystemMaintenance
// actions need, built from the process Config in cmd/messagepusher.
type MaintenanceConfig struct {
	StuckThreshold   time.Duration
	TaskPurgeAge     time.Duration
	AttemptRetention time.Duration
	RetryBatchLimit  int
}

// DefaultMaintenanceConfig matches the SPEC_FULL.md defaults.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		StuckThreshold:   120 * time.Second,
		TaskPurgeAge:     24 * time.Hour,
		AttemptRetention: 30 * 24 * time.Hour,
		RetryBatchLimit:  200,
	}
}

// Maintenance implements the four named actions spec §4.4.4 dispatches
// TypeSystemMaintenance tasks to.
type Maintenance struct {
	cfg        MaintenanceConfig
	store      *store.Store
	attempts   *store.AttemptRepo
	aiAttempts *store.AIAttemptRepo
	queue      *queue.TaskQueue
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewMaintenance builds the action set and is typically registered onto a
// Handlers via RegisterMaintenance for each of the four action names.
func NewMaintenance(cfg MaintenanceConfig, s *store.Store, attempts *store.AttemptRepo, aiAttempts *store.AIAttemptRepo,
	q *queue.TaskQueue, metrics *observability.Metrics, logger *zap.Logger) *Maintenance {
	return &Maintenance{cfg: cfg, store: s, attempts: attempts, aiAttempts: aiAttempts, queue: q, metrics: metrics, logger: logger}
}

// Register binds all four actions onto h under the names spec §4.4.4 uses.
func (m *Maintenance) Register(h *Handlers) {
	h.RegisterMaintenance("cleanup", m.Cleanup)
	h.RegisterMaintenance("retry_failed_messages", m.RetryFailedMessages)
	h.RegisterMaintenance("generate_stats", m.GenerateStats)
	h.RegisterMaintenance("db_maintenance", m.DBMaintenance)
}

// Cleanup purges the in-memory queue's completed/cancelled tasks and the
// store's terminal (success, or failed with exhausted retries) attempt
// and AI-attempt rows older than the configured retention window.
func (m *Maintenance) Cleanup(ctx context.Context) error {
	purgedTasks := m.queue.PurgeCompleted(time.Now().Add(-m.cfg.TaskPurgeAge))
	before := time.Now().Add(-m.cfg.AttemptRetention)
	purgedAttempts, err := m.attempts.PurgeTerminalBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("maintenance: purge attempts: %w", err)
	}
	purgedAI, err := m.aiAttempts.PurgeTerminalBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("maintenance: purge ai_attempts: %w", err)
	}
	m.logger.Info("cleanup completed",
		zap.Int("purged_tasks", purgedTasks), zap.Int64("purged_attempts", purgedAttempts), zap.Int64("purged_ai_attempts", purgedAI))
	return nil
}

// RetryFailedMessages implements the stuck-attempt recovery this repo
// adds to resolve spec §9's open question (CAS sending/processing rows
// older than StuckThreshold to failed so they re-enter the normal retry
// scan), then resubmits every failed attempt/AI-attempt with retry
// budget remaining as a Low priority SendMessage/AIProcess task.
func (m *Maintenance) RetryFailedMessages(ctx context.Context) error {
	stuckBefore := time.Now().Add(-m.cfg.StuckThreshold)

	stuck, err := m.attempts.ListStuck(ctx, stuckBefore)
	if err != nil {
		return fmt.Errorf("maintenance: list stuck attempts: %w", err)
	}
	for _, a := range stuck {
		msg := "stuck: recovered by scheduler"
		if err := m.attempts.CompareAndSetStatus(ctx, a.ID, store.AttemptSending, store.AttemptFailed, &msg, nil); err != nil && err != store.ErrCASFailed {
			m.logger.Warn("failed to recover stuck attempt", zap.String("attempt_id", a.ID.String()), zap.Error(err))
		}
	}

	stuckAI, err := m.aiAttempts.ListStuck(ctx, stuckBefore)
	if err != nil {
		return fmt.Errorf("maintenance: list stuck ai_attempts: %w", err)
	}
	for _, a := range stuckAI {
		msg := "stuck: recovered by scheduler"
		if err := m.aiAttempts.CompareAndSetStatus(ctx, a.ID, store.AIAttemptProcessing, store.AIAttemptFailed, nil, &msg, nil); err != nil && err != store.ErrCASFailed {
			m.logger.Warn("failed to recover stuck ai_attempt", zap.String("ai_attempt_id", a.ID.String()), zap.Error(err))
		}
	}

	failed, err := m.attempts.ListFailed(ctx, m.cfg.RetryBatchLimit)
	if err != nil {
		return fmt.Errorf("maintenance: list failed attempts: %w", err)
	}
	for _, a := range failed {
		m.queue.Submit(queue.TypeSendMessage, queue.PriorityLow, SendMessagePayload{AttemptID: a.ID}, 0)
	}

	failedAI, err := m.aiAttempts.ListFailed(ctx, m.cfg.RetryBatchLimit)
	if err != nil {
		return fmt.Errorf("maintenance: list failed ai_attempts: %w", err)
	}
	for _, a := range failedAI {
		m.queue.Submit(queue.TypeAIProcess, queue.PriorityLow, AIProcessPayload{AIAttemptID: a.ID}, 0)
	}

	m.logger.Info("retry_failed_messages completed",
		zap.Int("recovered_stuck", len(stuck)+len(stuckAI)), zap.Int("resubmitted", len(failed)+len(failedAI)))
	return nil
}

// GenerateStats snapshots current per-status counts and queue depth into
// the Prometheus gauges the operator surface exposes.
func (m *Maintenance) GenerateStats(ctx context.Context) error {
	if m.metrics == nil {
		return nil
	}
	counts, err := m.attempts.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: count attempts: %w", err)
	}
	for status, n := range counts {
		m.metrics.AttemptsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	aiCounts, err := m.aiAttempts.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: count ai_attempts: %w", err)
	}
	for status, n := range aiCounts {
		m.metrics.AIAttemptsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	m.metrics.QueueDepth.Set(float64(m.queue.Depth()))
	return nil
}

// DBMaintenance runs the store's vacuum/analyze pass.
func (m *Maintenance) DBMaintenance(ctx context.Context) error {
	if err := m.store.Maintenance(ctx); err != nil {
		return fmt.Errorf("maintenance: db_maintenance: %w", err)
	}
	m.logger.Info("db_maintenance completed")
	return nil
}
