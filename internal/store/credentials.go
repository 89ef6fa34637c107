package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CredentialRepo persists Credential rows.
type CredentialRepo struct {
	db *sql.DB
}

func NewCredentialRepo(s *Store) *CredentialRepo { return &CredentialRepo{db: s.db} }

// Create inserts a new credential, stamping CreatedAt/UpdatedAt to now.
func (r *CredentialRepo) Create(ctx context.Context, c *Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	channels, err := encodeStringSlice(c.DefaultChannelIDs)
	if err != nil {
		return fmt.Errorf("store: encode default_channel_ids: %w", err)
	}
	var expiresAt *string
	if c.ExpiresAt != nil {
		v := nowISO(*c.ExpiresAt)
		expiresAt = &v
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, name, token, default_channel_ids, default_ai_id, expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.Token, channels, c.DefaultAIID, expiresAt, string(c.Status),
		nowISO(c.CreatedAt), nowISO(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create credential: %w", err)
	}
	return nil
}

// GetByToken looks up the credential whose token matches exactly — the
// sole authentication primitive for /api/v1/push (§3: "token (unique)").
func (r *CredentialRepo) GetByToken(ctx context.Context, token string) (*Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, token, default_channel_ids, default_ai_id, expires_at, status, created_at, updated_at
		FROM credentials WHERE token = ?`, token)
	return scanCredential(row)
}

func (r *CredentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, token, default_channel_ids, default_ai_id, expires_at, status, created_at, updated_at
		FROM credentials WHERE id = ?`, id.String())
	return scanCredential(row)
}

// Disable flips a credential's status to disabled.
func (r *CredentialRepo) Disable(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE credentials SET status = 'disabled', updated_at = ? WHERE id = ?`,
		nowISO(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("store: disable credential: %w", err)
	}
	return requireOneRow(res)
}

func (r *CredentialRepo) Update(ctx context.Context, c *Credential) error {
	channels, err := encodeStringSlice(c.DefaultChannelIDs)
	if err != nil {
		return fmt.Errorf("store: encode default_channel_ids: %w", err)
	}
	var expiresAt *string
	if c.ExpiresAt != nil {
		v := nowISO(*c.ExpiresAt)
		expiresAt = &v
	}
	c.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET name = ?, default_channel_ids = ?, default_ai_id = ?, expires_at = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, channels, c.DefaultAIID, expiresAt, string(c.Status), nowISO(c.UpdatedAt), c.ID.String())
	if err != nil {
		return fmt.Errorf("store: update credential: %w", err)
	}
	return requireOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		id, token, status, createdAt, updatedAt string
		name, channels                          string
		defaultAIID, expiresAt                  sql.NullString
	)
	err := row.Scan(&id, &name, &token, &channels, &defaultAIID, &expiresAt, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan credential: %w", err)
	}

	channelIDs, err := decodeStringSlice(channels)
	if err != nil {
		return nil, fmt.Errorf("store: decode default_channel_ids: %w", err)
	}
	c := &Credential{
		Name:              name,
		Token:             token,
		DefaultChannelIDs: channelIDs,
		Status:            CredentialStatus(status),
	}
	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("store: parse credential id: %w", err)
	}
	if defaultAIID.Valid {
		v := defaultAIID.String
		c.DefaultAIID = &v
	}
	if expiresAt.Valid {
		t, err := parseISO(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse expires_at: %w", err)
		}
		c.ExpiresAt = &t
	}
	if c.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return c, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
