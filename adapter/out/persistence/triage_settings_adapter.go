package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"triage_server/core/domain"
)

// SettingsAdapter implements out.SettingsRepository.
type SettingsAdapter struct {
	db *sqlx.DB
}

// NewSettingsAdapter creates a new SettingsAdapter.
func NewSettingsAdapter(db *sqlx.DB) *SettingsAdapter {
	return &SettingsAdapter{db: db}
}

type settingRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get returns the raw string value.
func (a *SettingsAdapter) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM settings WHERE key = $1`

	var value string
	if err := a.db.GetContext(ctx, &value, query, key); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// GetBool parses a boolean value, returning the fallback when unset.
func (a *SettingsAdapter) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := a.Get(ctx, key)
	if err == ErrNotFound {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("setting %s is not a boolean: %w", key, err)
	}
	return parsed, nil
}

// GetFloat parses a numeric value, returning the fallback when unset.
func (a *SettingsAdapter) GetFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	raw, err := a.Get(ctx, key)
	if err == ErrNotFound {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, fmt.Errorf("setting %s is not a number: %w", key, err)
	}
	return parsed, nil
}

// GetJSON decodes a JSON value into dest.
func (a *SettingsAdapter) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := a.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("setting %s is not valid JSON: %w", key, err)
	}
	return nil
}

// Set upserts one key.
func (a *SettingsAdapter) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`

	_, err := a.db.ExecContext(ctx, query, key, value)
	return err
}

// SetMany upserts all keys in one transaction, so concurrent readers see
// either none or all of the batch.
func (a *SettingsAdapter) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// GetAll returns every setting.
func (a *SettingsAdapter) GetAll(ctx context.Context) ([]*domain.Setting, error) {
	const query = `SELECT key, value, updated_at FROM settings ORDER BY key`

	var rows []settingRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	settings := make([]*domain.Setting, len(rows))
	for i, r := range rows {
		settings[i] = &domain.Setting{Key: r.Key, Value: r.Value, UpdatedAt: r.UpdatedAt}
	}
	return settings, nil
}
