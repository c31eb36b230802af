package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// EnqueueJob inserts a new queued job. Status, attempts, and timestamps are
// set here; the caller provides ID, UserID, Kind, PayloadJSON, and BatchID.
func (s *Store) EnqueueJob(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("enqueueing job: missing id")
	}
	if job.UserID == "" {
		return fmt.Errorf("enqueueing job: missing user id")
	}
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	now := time.Now().UTC().Format(jobTimeLayout)
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, user_id, kind, payload_json, status, attempts, last_error, batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 0, '', ?, ?, ?)`,
		job.ID, job.UserID, job.Kind, payload, job.BatchID, now, now,
	)
	return err
}

// ListQueuedJobs returns up to limit queued jobs for the user, least recently
// updated first. Listing does not claim; callers race for each job through
// ClaimJob.
func (s *Store) ListQueuedJobs(userID string, limit int) ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, kind, payload_json, status, attempts, last_error, batch_id, created_at, updated_at
		FROM jobs
		WHERE user_id = ? AND status = 'queued'
		ORDER BY updated_at ASC, created_at ASC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing queued jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimJob attempts the queued -> processing transition for a single job.
// The conditional update is the whole protocol: whoever flips the row wins,
// everyone else sees zero affected rows and moves on. Losing is not an error.
func (s *Store) ClaimJob(userID, id string) (bool, error) {
	now := time.Now().UTC().Format(jobTimeLayout)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'processing', updated_at = ?
		WHERE id = ? AND user_id = ? AND status = 'queued'`,
		now, id, userID)
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking claimed rows for %s: %w", id, err)
	}
	return n == 1, nil
}

// GetJob returns a single job by ID.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, kind, payload_json, status, attempts, last_error, batch_id, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(jobTimeLayout)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`, now, id)
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

// FailJob records a failed attempt. Below maxAttempts the job goes back to
// queued with a fresh updated_at (the backoff clock); at or past the cap it
// becomes a terminal error. Returns whether the job is now terminal.
func (s *Store) FailJob(id string, errMsg string, maxAttempts int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRow(`SELECT attempts FROM jobs WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	now := time.Now().UTC().Format(jobTimeLayout)
	attempts++

	terminal := attempts >= maxAttempts
	status := "queued"
	if terminal {
		status = "error"
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, now, id); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return terminal, nil
}

// FailJobTerminal moves a job straight to the terminal error status,
// bypassing retries. Used for unknown kinds and permanently failed work.
func (s *Store) FailJobTerminal(id string, errMsg string) error {
	now := time.Now().UTC().Format(jobTimeLayout)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'error', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, errMsg, now, id)
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

// ReleaseJob returns a claimed job to the queue without charging an attempt.
// Used when a job could not run through no fault of its own, such as an
// exhausted quota window. Only a processing job can be released.
func (s *Store) ReleaseJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(jobTimeLayout)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'queued', last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`, errMsg, now, id)
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

// RequeueStuckJobs returns processing jobs whose updated_at is older than
// cutoff to the queue. A worker that crashed mid-job leaves its claim behind;
// without this sweep that job would sit in processing forever. Attempts are
// preserved so a crash-looping job still exhausts its retries.
func (s *Store) RequeueStuckJobs(cutoff time.Time) (int, error) {
	now := time.Now().UTC().Format(jobTimeLayout)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'queued', last_error = 'requeued after stalled worker', updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		now, cutoff.UTC().Format(jobTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("requeuing stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UsersWithQueuedJobs returns the distinct user IDs that currently have
// queued work.
func (s *Store) UsersWithQueuedJobs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM jobs WHERE status = 'queued' ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListJobs returns jobs for the user, most recently updated first.
// status and batchID filter when non-empty.
func (s *Store) ListJobs(userID, status, batchID string, limit int) ([]Job, error) {
	query := `SELECT id, user_id, kind, payload_json, status, attempts, last_error, batch_id, created_at, updated_at
		FROM jobs WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountJobsByStatus returns the number of jobs per status for the user.
func (s *Store) CountJobsByStatus(userID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.PayloadJSON, &j.Status, &j.Attempts, &j.LastError, &j.BatchID, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
