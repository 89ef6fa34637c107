package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptRepo persists Attempt rows and owns the CAS status transition
// that is, per §4.1, the only way an Attempt's status changes after
// creation.
type AttemptRepo struct {
	db                *sql.DB
	defaultMaxRetries int
}

func NewAttemptRepo(s *Store) *AttemptRepo { return &AttemptRepo{db: s.db, defaultMaxRetries: DefaultMaxRetries} }

// SetDefaultMaxRetries overrides the retry budget applied to attempts
// created without an explicit MaxRetries, sourced from the
// max_retry_count SystemConfig key at Supervisor startup.
func (r *AttemptRepo) SetDefaultMaxRetries(n int) { r.defaultMaxRetries = n }

// Create inserts a waiting attempt for (messageID, channelID).
func (r *AttemptRepo) Create(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AttemptWaiting
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = r.defaultMaxRetries
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (id, message_id, channel_id, status, error, sent_at, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.MessageID.String(), a.ChannelID.String(), string(a.Status), a.Error, nil,
		a.RetryCount, a.MaxRetries, nowISO(a.CreatedAt), nowISO(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, channel_id, status, error, sent_at, retry_count, max_retries, created_at, updated_at
		FROM attempts WHERE id = ?`, id.String())
	return scanAttempt(row)
}

func (r *AttemptRepo) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, status, error, sent_at, retry_count, max_retries, created_at, updated_at
		FROM attempts WHERE message_id = ? ORDER BY created_at ASC`, messageID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()
	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CompareAndSetStatus transitions an attempt from exactly `from` to `to`,
// optionally setting errMsg and sentAt, and is a no-op failure (ErrCASFailed)
// if the row is not currently in `from` — including the case where it has
// already latched to success, which must never be overwritten.
func (r *AttemptRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to AttemptStatus, errMsg *string, sentAt *time.Time) error {
	var sentAtVal any
	if sentAt != nil {
		sentAtVal = nowISO(*sentAt)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attempts SET status = ?, error = ?, sent_at = COALESCE(?, sent_at), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), errMsg, sentAtVal, nowISO(time.Now()), id.String(), string(from))
	if err != nil {
		return fmt.Errorf("store: cas attempt status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: cas attempt rows affected: %w", err)
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}

// CompareAndSetFailed transitions an attempt from `from` to `failed`,
// recording errMsg. When exhaust is true (a permanent-dispatch outcome,
// or a disabled channel) retry_count is set to max_retries so the row
// never surfaces from ListFailed again; otherwise it is incremented by
// one, the normal transient-failure path.
func (r *AttemptRepo) CompareAndSetFailed(ctx context.Context, id uuid.UUID, from AttemptStatus, errMsg string, exhaust bool) error {
	retryExpr := "retry_count + 1"
	if exhaust {
		retryExpr = "max_retries"
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attempts SET status = 'failed', error = ?, retry_count = `+retryExpr+`, updated_at = ?
		WHERE id = ? AND status = ?`,
		errMsg, nowISO(time.Now()), id.String(), string(from))
	if err != nil {
		return fmt.Errorf("store: cas attempt to failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: cas attempt to failed rows affected: %w", err)
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}

// IncrementRetry bumps retry_count by one and returns the new value.
func (r *AttemptRepo) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE attempts SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		nowISO(time.Now()), id.String())
	if err != nil {
		return 0, fmt.Errorf("store: increment attempt retry: %w", err)
	}
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.RetryCount, nil
}

// ListFailed returns attempts currently in `failed` with retries remaining.
func (r *AttemptRepo) ListFailed(ctx context.Context, limit int) ([]*Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, status, error, sent_at, retry_count, max_retries, created_at, updated_at
		FROM attempts WHERE status = 'failed' AND retry_count < max_retries ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list failed attempts: %w", err)
	}
	defer rows.Close()
	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStuck returns attempts in `sending` whose updated_at is older than
// olderThan — candidates for the scheduler's stuck-attempt recovery sweep.
func (r *AttemptRepo) ListStuck(ctx context.Context, olderThan time.Time) ([]*Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, status, error, sent_at, retry_count, max_retries, created_at, updated_at
		FROM attempts WHERE status = 'sending' AND updated_at < ?`, nowISO(olderThan))
	if err != nil {
		return nil, fmt.Errorf("store: list stuck attempts: %w", err)
	}
	defer rows.Close()
	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeTerminalBefore deletes success/failed(exhausted-retry) attempts
// older than before, used by the cleanup scheduler job.
func (r *AttemptRepo) PurgeTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attempts WHERE updated_at < ? AND (status = 'success' OR (status = 'failed' AND retry_count >= max_retries))`,
		nowISO(before))
	if err != nil {
		return 0, fmt.Errorf("store: purge attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge attempts rows affected: %w", err)
	}
	return n, nil
}

// CountByStatus groups attempts by status, used by generate_stats.
func (r *AttemptRepo) CountByStatus(ctx context.Context) (map[AttemptStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM attempts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count attempts by status: %w", err)
	}
	defer rows.Close()
	out := map[AttemptStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan attempt count: %w", err)
		}
		out[AttemptStatus(status)] = n
	}
	return out, rows.Err()
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var (
		id, messageID, channelID, status, createdAt, updatedAt string
		errMsg, sentAt                                         sql.NullString
		retryCount, maxRetries                                 int
	)
	err := row.Scan(&id, &messageID, &channelID, &status, &errMsg, &sentAt, &retryCount, &maxRetries, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan attempt: %w", err)
	}
	a := &Attempt{
		Status:     AttemptStatus(status),
		Error:      nullStringPtr(errMsg),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse attempt id: %w", err)
	}
	if a.MessageID, err = uuid.Parse(messageID); err != nil {
		return nil, fmt.Errorf("store: parse message id: %w", err)
	}
	if a.ChannelID, err = uuid.Parse(channelID); err != nil {
		return nil, fmt.Errorf("store: parse channel id: %w", err)
	}
	if sentAt.Valid {
		t, err := parseISO(sentAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse sent_at: %w", err)
		}
		a.SentAt = &t
	}
	if a.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return a, nil
}
