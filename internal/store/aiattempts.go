package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AIAttemptRepo persists AIAttempt rows and owns the CAS status transition
// that is the only way an AIAttempt's status changes after creation.
type AIAttemptRepo struct {
	db                *sql.DB
	defaultMaxRetries int
}

func NewAIAttemptRepo(s *Store) *AIAttemptRepo {
	return &AIAttemptRepo{db: s.db, defaultMaxRetries: DefaultMaxRetries}
}

// SetDefaultMaxRetries mirrors AttemptRepo.SetDefaultMaxRetries.
func (r *AIAttemptRepo) SetDefaultMaxRetries(n int) { r.defaultMaxRetries = n }

func (r *AIAttemptRepo) Create(ctx context.Context, a *AIAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AIAttemptWaiting
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = r.defaultMaxRetries
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_attempts (id, message_id, ai_channel_id, prompt, result, status, error, processed_at, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.MessageID.String(), a.AIChannelID.String(), a.Prompt, a.Result, string(a.Status),
		a.Error, nil, a.RetryCount, a.MaxRetries, nowISO(a.CreatedAt), nowISO(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create ai_attempt: %w", err)
	}
	return nil
}

func (r *AIAttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*AIAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, ai_channel_id, prompt, result, status, error, processed_at, retry_count, max_retries, created_at, updated_at
		FROM ai_attempts WHERE id = ?`, id.String())
	return scanAIAttempt(row)
}

func (r *AIAttemptRepo) GetByMessage(ctx context.Context, messageID uuid.UUID) (*AIAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, ai_channel_id, prompt, result, status, error, processed_at, retry_count, max_retries, created_at, updated_at
		FROM ai_attempts WHERE message_id = ?`, messageID.String())
	return scanAIAttempt(row)
}

// CompareAndSetStatus transitions an AIAttempt from exactly `from` to `to`,
// rejecting the call (ErrCASFailed) when the current row is not in `from`
// — in particular once latched to success it can never be overwritten.
func (r *AIAttemptRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to AIAttemptStatus, result, errMsg *string, processedAt *time.Time) error {
	var processedAtVal any
	if processedAt != nil {
		processedAtVal = nowISO(*processedAt)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE ai_attempts SET status = ?, result = COALESCE(?, result), error = ?, processed_at = COALESCE(?, processed_at), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), result, errMsg, processedAtVal, nowISO(time.Now()), id.String(), string(from))
	if err != nil {
		return fmt.Errorf("store: cas ai_attempt status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: cas ai_attempt rows affected: %w", err)
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}

// CompareAndSetFailed transitions an ai_attempt from `from` to `failed`,
// recording errMsg. When exhaust is true (a permanent outcome: a
// structurally unusable response per §4.4.2, a permanent HTTP status, a
// disabled ai channel, or a request that cannot be built) retry_count is
// set to max_retries; otherwise it is incremented by one.
func (r *AIAttemptRepo) CompareAndSetFailed(ctx context.Context, id uuid.UUID, from AIAttemptStatus, errMsg string, exhaust bool) error {
	retryExpr := "retry_count + 1"
	if exhaust {
		retryExpr = "max_retries"
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE ai_attempts SET status = 'failed', error = ?, retry_count = `+retryExpr+`, updated_at = ?
		WHERE id = ? AND status = ?`,
		errMsg, nowISO(time.Now()), id.String(), string(from))
	if err != nil {
		return fmt.Errorf("store: cas ai_attempt to failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: cas ai_attempt to failed rows affected: %w", err)
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}

func (r *AIAttemptRepo) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE ai_attempts SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		nowISO(time.Now()), id.String())
	if err != nil {
		return 0, fmt.Errorf("store: increment ai_attempt retry: %w", err)
	}
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.RetryCount, nil
}

func (r *AIAttemptRepo) ListFailed(ctx context.Context, limit int) ([]*AIAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, ai_channel_id, prompt, result, status, error, processed_at, retry_count, max_retries, created_at, updated_at
		FROM ai_attempts WHERE status = 'failed' AND retry_count < max_retries ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list failed ai_attempts: %w", err)
	}
	defer rows.Close()
	var out []*AIAttempt
	for rows.Next() {
		a, err := scanAIAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStuck returns ai_attempts in `processing` older than olderThan.
func (r *AIAttemptRepo) ListStuck(ctx context.Context, olderThan time.Time) ([]*AIAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, ai_channel_id, prompt, result, status, error, processed_at, retry_count, max_retries, created_at, updated_at
		FROM ai_attempts WHERE status = 'processing' AND updated_at < ?`, nowISO(olderThan))
	if err != nil {
		return nil, fmt.Errorf("store: list stuck ai_attempts: %w", err)
	}
	defer rows.Close()
	var out []*AIAttempt
	for rows.Next() {
		a, err := scanAIAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AIAttemptRepo) PurgeTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ai_attempts WHERE updated_at < ? AND (status = 'success' OR (status = 'failed' AND retry_count >= max_retries))`,
		nowISO(before))
	if err != nil {
		return 0, fmt.Errorf("store: purge ai_attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge ai_attempts rows affected: %w", err)
	}
	return n, nil
}

func (r *AIAttemptRepo) CountByStatus(ctx context.Context) (map[AIAttemptStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ai_attempts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count ai_attempts by status: %w", err)
	}
	defer rows.Close()
	out := map[AIAttemptStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan ai_attempt count: %w", err)
		}
		out[AIAttemptStatus(status)] = n
	}
	return out, rows.Err()
}

func scanAIAttempt(row rowScanner) (*AIAttempt, error) {
	var (
		id, messageID, aiChannelID, prompt, status, createdAt, updatedAt string
		result, errMsg, processedAt                                     sql.NullString
		retryCount, maxRetries                                          int
	)
	err := row.Scan(&id, &messageID, &aiChannelID, &prompt, &result, &status, &errMsg, &processedAt, &retryCount, &maxRetries, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan ai_attempt: %w", err)
	}
	a := &AIAttempt{
		Prompt:     prompt,
		Result:     nullStringPtr(result),
		Status:     AIAttemptStatus(status),
		Error:      nullStringPtr(errMsg),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse ai_attempt id: %w", err)
	}
	if a.MessageID, err = uuid.Parse(messageID); err != nil {
		return nil, fmt.Errorf("store: parse message id: %w", err)
	}
	if a.AIChannelID, err = uuid.Parse(aiChannelID); err != nil {
		return nil, fmt.Errorf("store: parse ai_channel id: %w", err)
	}
	if processedAt.Valid {
		t, err := parseISO(processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse processed_at: %w", err)
		}
		a.ProcessedAt = &t
	}
	if a.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return a, nil
}
