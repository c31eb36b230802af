package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetSyncCursor returns the sync cursor for a user and provider, or
// ErrNotFound if the provider has never been synced.
func (s *Store) GetSyncCursor(userID, provider string) (SyncCursor, error) {
	var c SyncCursor
	var lastSynced, updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, provider, last_synced_at, updated_at
		FROM sync_cursors WHERE user_id = ? AND provider = ?`, userID, provider,
	).Scan(&c.UserID, &c.Provider, &lastSynced, &updatedAt)
	if err == sql.ErrNoRows {
		return SyncCursor{}, ErrNotFound
	}
	if err != nil {
		return SyncCursor{}, err
	}
	if c.LastSyncedAt, err = time.Parse(time.RFC3339, lastSynced); err != nil {
		return SyncCursor{}, fmt.Errorf("parsing last_synced_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SyncCursor{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// AdvanceSyncCursor moves the cursor forward to the given timestamp. The
// cursor is monotonic: an attempt to move it backwards (a retried job
// replaying an older window) is a no-op, not an error.
func (s *Store) AdvanceSyncCursor(userID, provider string, to time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	toStr := to.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO sync_cursors (user_id, provider, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET last_synced_at = excluded.last_synced_at, updated_at = excluded.updated_at
		WHERE excluded.last_synced_at > sync_cursors.last_synced_at`,
		userID, provider, toStr, now)
	if err != nil {
		return fmt.Errorf("advancing sync cursor %s/%s: %w", userID, provider, err)
	}
	return nil
}
