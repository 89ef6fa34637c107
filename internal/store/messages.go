package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageRepo persists Message rows.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{db: s.db} }

func (r *MessageRepo) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ViewToken == "" {
		m.ViewToken = uuid.New().String()
	}
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, credential_id, title, content, url, url_content, file_storage, view_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.CredentialID.String(), m.Title, m.Content, m.URL, m.URLContent, m.FileStorage,
		m.ViewToken, nowISO(m.CreatedAt), nowISO(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, credential_id, title, content, url, url_content, file_storage, view_token, created_at, updated_at
		FROM messages WHERE id = ?`, id.String())
	return scanMessage(row)
}

// SetURLContent stores the fetched body for a message's url_fetch task.
func (r *MessageRepo) SetURLContent(ctx context.Context, id uuid.UUID, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET url_content = ?, updated_at = ? WHERE id = ?`,
		content, nowISO(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("store: set url_content: %w", err)
	}
	return requireOneRow(res)
}

// ListByCredential returns messages for a credential, newest first, paginated.
func (r *MessageRepo) ListByCredential(ctx context.Context, credentialID uuid.UUID, limit, offset int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, credential_id, title, content, url, url_content, file_storage, view_token, created_at, updated_at
		FROM messages WHERE credential_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		credentialID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountSince returns the number of messages created at or after since.
func (r *MessageRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE created_at >= ?`, nowISO(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		id, credentialID, viewToken, createdAt, updatedAt string
		title, content, url, urlContent, fileStorage      sql.NullString
	)
	err := row.Scan(&id, &credentialID, &title, &content, &url, &urlContent, &fileStorage, &viewToken, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	m := &Message{ViewToken: viewToken}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse message id: %w", err)
	}
	if m.CredentialID, err = uuid.Parse(credentialID); err != nil {
		return nil, fmt.Errorf("store: parse credential id: %w", err)
	}
	m.Title = nullStringPtr(title)
	m.Content = nullStringPtr(content)
	m.URL = nullStringPtr(url)
	m.URLContent = nullStringPtr(urlContent)
	m.FileStorage = nullStringPtr(fileStorage)
	if m.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if m.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return m, nil
}

func nullStringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
