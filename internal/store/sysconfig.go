package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SystemConfigRepo persists the key/value tunables read at Supervisor
// startup, per §4.7.
type SystemConfigRepo struct {
	db *sql.DB
}

func NewSystemConfigRepo(s *Store) *SystemConfigRepo { return &SystemConfigRepo{db: s.db} }

func (r *SystemConfigRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get system_config %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a key/value/description row.
func (r *SystemConfigRepo) Set(ctx context.Context, key, value, description string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, description) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, description = excluded.description`,
		key, value, description)
	if err != nil {
		return fmt.Errorf("store: set system_config %s: %w", key, err)
	}
	return nil
}

// defaultSystemConfig is the seed set spec §6 names, inserted once at
// first init; an existing row with the same key is left untouched so an
// operator's prior edit survives a restart.
var defaultSystemConfig = []SystemConfig{
	{Key: "version", Value: "1.0.0", Description: "deployed schema/engine version"},
	{Key: "max_retry_count", Value: "3", Description: "per-attempt retry budget"},
	{Key: "retry_interval", Value: "300", Description: "seconds between retry_failed scheduler sweeps"},
	{Key: "file_storage_path", Value: "data/files", Description: "base directory for message file attachments"},
	{Key: "file_retention_days", Value: "30", Description: "days before file attachments are purged"},
	{Key: "default_max_length", Value: "2000", Description: "channel template content truncation length"},
}

// SeedDefaults inserts every row in defaultSystemConfig that does not
// already exist, called once by the Supervisor at startup per §4.7.
func (r *SystemConfigRepo) SeedDefaults(ctx context.Context) error {
	for _, c := range defaultSystemConfig {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO system_config (key, value, description) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING`, c.Key, c.Value, c.Description)
		if err != nil {
			return fmt.Errorf("store: seed system_config %s: %w", c.Key, err)
		}
	}
	return nil
}

// All returns every configured key/value pair.
func (r *SystemConfigRepo) All(ctx context.Context) ([]SystemConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, description FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("store: list system_config: %w", err)
	}
	defer rows.Close()
	var out []SystemConfig
	for rows.Next() {
		var c SystemConfig
		if err := rows.Scan(&c.Key, &c.Value, &c.Description); err != nil {
			return nil, fmt.Errorf("store: scan system_config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
