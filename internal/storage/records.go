package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertRawRecord stores a fetched provider item. A duplicate of an already
// stored item (same user, provider, and source ID) is silently ignored.
// Returns whether a new row was inserted.
func (s *Store) InsertRawRecord(rec RawRecord) (bool, error) {
	fetchedAt := rec.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO raw_records (id, user_id, provider, source_id, kind, payload_json, occurred_at, fetched_at, process_status, skip_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', '')
		ON CONFLICT (user_id, provider, source_id) DO NOTHING`,
		rec.ID, rec.UserID, rec.Provider, rec.SourceID, rec.Kind, rec.PayloadJSON,
		rec.OccurredAt.UTC().Format(time.RFC3339), fetchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting raw record %s/%s: %w", rec.Provider, rec.SourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetRawRecord returns a raw record by ID.
func (s *Store) GetRawRecord(id string) (RawRecord, error) {
	var r RawRecord
	var occurredAt, fetchedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, provider, source_id, kind, payload_json, occurred_at, fetched_at, process_status, skip_reason
		FROM raw_records WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.Provider, &r.SourceID, &r.Kind, &r.PayloadJSON, &occurredAt, &fetchedAt, &r.ProcessStatus, &r.SkipReason)
	if err == sql.ErrNoRows {
		return RawRecord{}, ErrNotFound
	}
	if err != nil {
		return RawRecord{}, err
	}
	if r.OccurredAt, err = time.Parse(time.RFC3339, occurredAt); err != nil {
		return RawRecord{}, fmt.Errorf("parsing occurred_at: %w", err)
	}
	if r.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return RawRecord{}, fmt.Errorf("parsing fetched_at: %w", err)
	}
	return r, nil
}

// MarkRawRecordProcessed flags a raw record as normalized.
func (s *Store) MarkRawRecordProcessed(id string) error {
	return s.setRawRecordStatus(id, RawProcessed, "")
}

// MarkRawRecordSkipped flags a raw record as permanently skipped. Malformed
// items land here instead of failing their normalize job; the reason is kept
// for inspection.
func (s *Store) MarkRawRecordSkipped(id, reason string) error {
	return s.setRawRecordStatus(id, RawSkipped, reason)
}

func (s *Store) setRawRecordStatus(id, status, reason string) error {
	res, err := s.db.Exec(`UPDATE raw_records SET process_status = ?, skip_reason = ? WHERE id = ?`, status, reason, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRawRecords returns the number of raw records for a user and provider.
// Pass an empty provider to count across providers.
func (s *Store) CountRawRecords(userID, provider string) (int, error) {
	var count int
	var err error
	if provider == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM raw_records WHERE user_id = ?`, userID).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM raw_records WHERE user_id = ? AND provider = ?`, userID, provider).Scan(&count)
	}
	return count, err
}
