package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementUsage bumps the usage counter for (userID, resource) in the given
// window and reports whether the post-increment count stayed within limit.
// The increment and the check are one conditional write; when the window is
// full the statement changes no rows, so concurrent callers can never push
// the counter past the limit.
func (s *Store) IncrementUsage(userID, resource string, windowStart time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	window := windowStart.UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		INSERT INTO usage_counters (user_id, resource, window_start, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, resource, window_start) DO UPDATE
		SET count = count + 1
		WHERE usage_counters.count < ?`,
		userID, resource, window, limit)
	if err != nil {
		return false, fmt.Errorf("incrementing usage %s/%s: %w", userID, resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UsageCount returns the counter value for (userID, resource) in the given
// window. A window with no activity reads as zero.
func (s *Store) UsageCount(userID, resource string, windowStart time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT count FROM usage_counters WHERE user_id = ? AND resource = ? AND window_start = ?`,
		userID, resource, windowStart.UTC().Format(time.RFC3339)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneUsage deletes counters for windows that started before the cutoff.
func (s *Store) PruneUsage(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM usage_counters WHERE window_start < ?`,
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning usage counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
