package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertInteraction inserts or updates the interaction identified by
// (UserID, Source, SourceID) and returns the canonical row ID. Re-running
// normalization for the same source item refreshes the row in place; it
// never creates a duplicate.
func (s *Store) UpsertInteraction(i Interaction) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	occurredAt := i.OccurredAt.UTC().Format(time.RFC3339)
	participants := i.ParticipantsJSON
	if participants == "" {
		participants = "[]"
	}

	var existingID string
	err = tx.QueryRow(`SELECT id FROM interactions WHERE user_id = ? AND source = ? AND source_id = ?`,
		i.UserID, i.Source, i.SourceID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`
			INSERT INTO interactions (id, user_id, source, source_id, kind, subject, participants_json, occurred_at, excerpt, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i.ID, i.UserID, i.Source, i.SourceID, i.Kind, i.Subject, participants, occurredAt, i.Excerpt, now, now,
		); err != nil {
			return "", fmt.Errorf("inserting interaction: %w", err)
		}
		existingID = i.ID
	case err != nil:
		return "", fmt.Errorf("looking up interaction: %w", err)
	default:
		if _, err := tx.Exec(`
			UPDATE interactions SET kind = ?, subject = ?, participants_json = ?, occurred_at = ?, excerpt = ?, updated_at = ?
			WHERE id = ?`,
			i.Kind, i.Subject, participants, occurredAt, i.Excerpt, now, existingID,
		); err != nil {
			return "", fmt.Errorf("updating interaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return existingID, nil
}

// GetInteraction returns an interaction by ID.
func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, source, source_id, kind, subject, participants_json, occurred_at, excerpt, created_at, updated_at
		FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// ListInteractions returns the user's interactions, most recent first.
func (s *Store) ListInteractions(userID string, limit, offset int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, source, source_id, kind, subject, participants_json, occurred_at, excerpt, created_at, updated_at
		FROM interactions WHERE user_id = ?
		ORDER BY occurred_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// CountInteractions returns the number of interactions for a user.
func (s *Store) CountInteractions(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var i Interaction
	var occurredAt, createdAt, updatedAt string
	err := row.Scan(&i.ID, &i.UserID, &i.Source, &i.SourceID, &i.Kind, &i.Subject, &i.ParticipantsJSON, &occurredAt, &i.Excerpt, &createdAt, &updatedAt)
	if err != nil {
		return Interaction{}, err
	}
	if i.OccurredAt, err = time.Parse(time.RFC3339, occurredAt); err != nil {
		return Interaction{}, fmt.Errorf("parsing occurred_at: %w", err)
	}
	if i.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if i.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Interaction{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return i, nil
}
