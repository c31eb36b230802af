package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSetting stores a per-user setting, replacing any previous value.
func (s *Store) SetSetting(userID, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO settings (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, now)
	if err != nil {
		return fmt.Errorf("setting %s for %s: %w", key, userID, err)
	}
	return nil
}

// GetSetting returns the value stored for key, or ErrNotFound.
func (s *Store) GetSetting(userID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE user_id = ? AND key = ?`,
		userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// AllSettings returns every setting stored for the user, keyed by name.
func (s *Store) AllSettings(userID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE user_id = ? ORDER BY key`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing settings for %s: %w", userID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// DeleteSetting removes a setting if present. Deleting a missing key is not
// an error.
func (s *Store) DeleteSetting(userID, key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("deleting setting %s for %s: %w", key, userID, err)
	}
	return nil
}
