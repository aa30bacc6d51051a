// Package settings provides runtime configuration overrides backed by the
// settings table. Env configuration sets the defaults; rows here win.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles settings database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "settings").Logger(),
	}
}

// Get returns a setting value, or the fallback when unset.
func (r *Repository) Get(key, fallback string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetFloat returns a setting as float64, or the fallback when unset or
// unparsable.
func (r *Repository) GetFloat(key string, fallback float64) (float64, error) {
	raw, err := r.Get(key, "")
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", raw).Msg("Setting is not a number, using fallback")
		return fallback, nil
	}
	return value, nil
}

// GetBool returns a setting as bool, or the fallback.
func (r *Repository) GetBool(key string, fallback bool) (bool, error) {
	raw, err := r.Get(key, "")
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return value, nil
}

// Set upserts a setting.
func (r *Repository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a setting, falling back to the env default.
func (r *Repository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// All returns every setting.
func (r *Repository) All() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value
	}

	return out, rows.Err()
}
