package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertContact merges a contact observation into the contact identified by
// (UserID, Email). A new email creates a row; a known one bumps times_seen
// and last_seen_at and fills in name/phone if they were missing. Emails are
// stored lower-cased so matching is case-insensitive.
func (s *Store) UpsertContact(c Contact) (string, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return "", fmt.Errorf("upserting contact: missing email")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning contact transaction: %w", err)
	}
	defer tx.Rollback()

	seenAt := c.LastSeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	seenStr := seenAt.UTC().Format(time.RFC3339)

	var existing Contact
	var lastSeen string
	err = tx.QueryRow(`SELECT id, name, phone, last_seen_at FROM contacts WHERE user_id = ? AND email = ?`,
		c.UserID, email).Scan(&existing.ID, &existing.Name, &existing.Phone, &lastSeen)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, user_id, email, name, phone, first_seen_at, last_seen_at, times_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			c.ID, c.UserID, email, c.Name, c.Phone, seenStr, seenStr,
		); err != nil {
			return "", fmt.Errorf("inserting contact: %w", err)
		}
		existing.ID = c.ID
	case err != nil:
		return "", fmt.Errorf("looking up contact: %w", err)
	default:
		name := existing.Name
		if name == "" {
			name = c.Name
		}
		phone := existing.Phone
		if phone == "" {
			phone = c.Phone
		}
		newLast := seenStr
		if lastSeen > newLast {
			newLast = lastSeen
		}
		if _, err := tx.Exec(`
			UPDATE contacts SET name = ?, phone = ?, last_seen_at = ?, times_seen = times_seen + 1
			WHERE id = ?`,
			name, phone, newLast, existing.ID,
		); err != nil {
			return "", fmt.Errorf("updating contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return existing.ID, nil
}

// GetContact returns a contact by ID.
func (s *Store) GetContact(id string) (Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, email, name, phone, first_seen_at, last_seen_at, times_seen
		FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	return c, err
}

// GetContactByEmail returns a contact by its (case-insensitive) email.
func (s *Store) GetContactByEmail(userID, email string) (Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, email, name, phone, first_seen_at, last_seen_at, times_seen
		FROM contacts WHERE user_id = ? AND email = ?`, userID, strings.ToLower(strings.TrimSpace(email)))
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	return c, err
}

// ListContacts returns the user's contacts, most recently seen first.
func (s *Store) ListContacts(userID string, limit int) ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, email, name, phone, first_seen_at, last_seen_at, times_seen
		FROM contacts WHERE user_id = ?
		ORDER BY last_seen_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountContacts returns the number of contacts for a user.
func (s *Store) CountContacts(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var firstSeen, lastSeen string
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &c.Phone, &firstSeen, &lastSeen, &c.TimesSeen)
	if err != nil {
		return Contact{}, err
	}
	if c.FirstSeenAt, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return Contact{}, fmt.Errorf("parsing first_seen_at: %w", err)
	}
	if c.LastSeenAt, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return Contact{}, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	return c, nil
}
