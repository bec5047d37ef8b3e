package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
)

// Setting keys persisted by the dashboard and consumed by the pipeline.
const (
	SettingShopeeEnabled     = "shopee_enabled"
	SettingMeliEnabled       = "mercadolivre_enabled"
	SettingAliExpressEnabled = "aliexpress_enabled"
	SettingAmazonEnabled     = "amazon_enabled"
	SettingMeliCookies       = "mercadolivre_cookies"
)

// SettingRepo handles database operations for dashboard-managed settings
type SettingRepo struct {
	db *DB
}

var _ SettingRepository = (*SettingRepo)(nil)

func NewSettingRepository(db *DB) *SettingRepo {
	return &SettingRepo{db: db}
}

func (r *SettingRepo) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *SettingRepo) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetBool reads a boolean setting, falling back to the default when the key
// is absent or the store is unreachable. Platform toggles default to enabled.
func (r *SettingRepo) GetBool(key string, defaultValue bool) bool {
	value, err := r.Get(key)
	if err != nil {
		slog.Warn("Failed to read setting, using default", "key", key, "default", defaultValue, "error", err)
		return defaultValue
	}
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Invalid boolean setting, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}
