// Package eventbus publishes best-effort task lifecycle events to NATS
// for external dashboards. Publishing never blocks or fails the caller:
// a missing or unreachable NATS server silently degrades this to a no-op,
// since no part of the dispatch engine's correctness depends on a
// subscriber being present.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is one lifecycle notification published to the bus.
type Event struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTaskSubmitted = "messagepusher.task.submitted"
	SubjectTaskCompleted = "messagepusher.task.completed"
	SubjectTaskFailed    = "messagepusher.task.failed"
	SubjectErrorLedger   = "messagepusher.error_ledger"
)

// Bus wraps an optional NATS connection. A nil *Bus (or one built with
// Disabled) makes every Publish a no-op.
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials url and returns a Bus publishing to it. Reconnect/
// disconnect events are logged but never surfaced to the caller.
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("eventbus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("eventbus reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("eventbus connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: conn, logger: logger}, nil
}

// Disabled returns a Bus whose Publish calls are no-ops, used when no
// NATS_URL is configured or connecting to it fails.
func Disabled(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Publish best-effort publishes ev to subject. Errors are logged, not
// returned: the event bus is observability only.
func (b *Bus) Publish(subject string, ev Event) {
	if b == nil || b.conn == nil {
		return
	}
	ev.Timestamp = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("eventbus marshal failed", zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("eventbus publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains and closes the underlying connection, if any.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Drain()
}
