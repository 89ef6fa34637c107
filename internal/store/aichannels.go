package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AIChannelRepo persists AIChannelTemplate rows.
type AIChannelRepo struct {
	db *sql.DB
}

func NewAIChannelRepo(s *Store) *AIChannelRepo { return &AIChannelRepo{db: s.db} }

func (r *AIChannelRepo) Create(ctx context.Context, c *AIChannelTemplate) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Method == "" {
		c.Method = MethodPOST
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
		INSERT INTO ai_channels (id, name, api_url, method, model, params, headers, placeholders, prompt, proxy, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.APIURL, string(c.Method), c.Model, params, headers, placeholders,
		c.Prompt, proxy, string(c.Status), nowISO(c.CreatedAt), nowISO(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create ai_channel: %w", err)
	}
	return nil
}

func (r *AIChannelRepo) Update(ctx context.Context, c *AIChannelTemplate) error {
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
		UPDATE ai_channels SET name=?, api_url=?, model=?, params=?, headers=?, placeholders=?, prompt=?, proxy=?, status=?, updated_at=?
		WHERE id=?`,
		c.Name, c.APIURL, c.Model, params, headers, placeholders, c.Prompt, proxy, string(c.Status),
		nowISO(c.UpdatedAt), c.ID.String())
	if err != nil {
		return fmt.Errorf("store: update ai_channel: %w", err)
	}
	return requireOneRow(res)
}

func (r *AIChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*AIChannelTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, api_url, method, model, params, headers, placeholders, prompt, proxy, status, created_at, updated_at
		FROM ai_channels WHERE id = ?`, id.String())
	return scanAIChannel(row)
}

// GetEnabled resolves id to an enabled template, returning ErrNotFound if
// the id is missing or the row is disabled.
func (r *AIChannelRepo) GetEnabled(ctx context.Context, id uuid.UUID) (*AIChannelTemplate, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, ErrNotFound
	}
	return c, nil
}

func scanAIChannel(row rowScanner) (*AIChannelTemplate, error) {
	var (
		id, name, apiURL, method, model, status, createdAt, updatedAt string
		params, headers, placeholders, prompt                        string
		proxy                                                         sql.NullString
	)
	err := row.Scan(&id, &name, &apiURL, &method, &model, &params, &headers, &placeholders, &prompt, &proxy, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan ai_channel: %w", err)
	}
	c := &AIChannelTemplate{
		Name:   name,
		APIURL: apiURL,
		Method: HTTPMethod(method),
		Model:  model,
		Prompt: prompt,
		Status: TemplateStatus(status),
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse ai_channel id: %w", err)
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
