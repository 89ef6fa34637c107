package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelRepo persists ChannelTemplate rows.
type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(s *Store) *ChannelRepo { return &ChannelRepo{db: s.db} }

func (r *ChannelRepo) Create(ctx context.Context, c *ChannelTemplate) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.MaxLength == 0 {
		c.MaxLength = DefaultMaxLength
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	params, err := encodeStringMap(c.Params)
	if err != nil {
		return fmt.Errorf("store: encode params: %w", err)
	}
	headers, err := encodeStringMap(c.Headers)
	if err != nil {
		return fmt.Errorf("store: encode headers: %w", err)
	}
	placeholders, err := encodeStringMap(c.Placeholders)
	if err != nil {
		return fmt.Errorf("store: encode placeholders: %w", err)
	}
	proxy, err := encodeProxy(c.Proxy)
	if err != nil {
		return fmt.Errorf("store: encode proxy: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, api_url, method, content_type, params, headers, placeholders, proxy, max_length, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.APIURL, string(c.Method), string(c.ContentType),
		params, headers, placeholders, proxy, c.MaxLength, string(c.Status),
		nowISO(c.CreatedAt), nowISO(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	return nil
}

func (r *ChannelRepo) Update(ctx context.Context, c *ChannelTemplate) error {
	params, err := encodeStringMap(c.Params)
	if err != nil {
		return fmt.Errorf("store: encode params: %w", err)
	}
	headers, err := encodeStringMap(c.Headers)
	if err != nil {
		return fmt.Errorf("store: encode headers: %w", err)
	}
	placeholders, err := encodeStringMap(c.Placeholders)
	if err != nil {
		return fmt.Errorf("store: encode placeholders: %w", err)
	}
	proxy, err := encodeProxy(c.Proxy)
	if err != nil {
		return fmt.Errorf("store: encode proxy: %w", err)
	}
	c.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE channels SET name=?, api_url=?, method=?, content_type=?, params=?, headers=?, placeholders=?, proxy=?, max_length=?, status=?, updated_at=?
		WHERE id=?`,
		c.Name, c.APIURL, string(c.Method), string(c.ContentType), params, headers, placeholders, proxy,
		c.MaxLength, string(c.Status), nowISO(c.UpdatedAt), c.ID.String())
	if err != nil {
		return fmt.Errorf("store: update channel: %w", err)
	}
	return requireOneRow(res)
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*ChannelTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, api_url, method, content_type, params, headers, placeholders, proxy, max_length, status, created_at, updated_at
		FROM channels WHERE id = ?`, id.String())
	return scanChannel(row)
}

// GetEnabledByIDs resolves ids to enabled templates, silently dropping any
// id that is missing or disabled; callers compare len(result) against
// len(ids) to detect a rejected id per §4.1/§8 scenario 4.
func (r *ChannelRepo) GetEnabledByIDs(ctx context.Context, ids []uuid.UUID) ([]*ChannelTemplate, error) {
	out := make([]*ChannelTemplate, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetByID(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !c.Enabled() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func scanChannel(row rowScanner) (*ChannelTemplate, error) {
	var (
		id, name, apiURL, method, contentType, status, createdAt, updatedAt string
		params, headers, placeholders                                      string
		proxy                                                               sql.NullString
		maxLength                                                           int
	)
	err := row.Scan(&id, &name, &apiURL, &method, &contentType, &params, &headers, &placeholders, &proxy, &maxLength, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan channel: %w", err)
	}
	c := &ChannelTemplate{
		Name:        name,
		APIURL:      apiURL,
		Method:      HTTPMethod(method),
		ContentType: ContentType(contentType),
		MaxLength:   maxLength,
		Status:      TemplateStatus(status),
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse channel id: %w", err)
	}
	if c.Params, err = decodeStringMap(params); err != nil {
		return nil, fmt.Errorf("store: decode params: %w", err)
	}
	if c.Headers, err = decodeStringMap(headers); err != nil {
		return nil, fmt.Errorf("store: decode headers: %w", err)
	}
	if c.Placeholders, err = decodeStringMap(placeholders); err != nil {
		return nil, fmt.Errorf("store: decode placeholders: %w", err)
	}
	var proxyPtr *string
	if proxy.Valid {
		proxyPtr = &proxy.String
	}
	if c.Proxy, err = decodeProxy(proxyPtr); err != nil {
		return nil, fmt.Errorf("store: decode proxy: %w", err)
	}
	if c.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return c, nil
}
