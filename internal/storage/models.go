package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses. A job moves queued -> processing -> done, or back to queued
// for a retry, or to error once it is out of attempts. done and error are
// terminal.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobError      = "error"
)

type Job struct {
	ID          string
	UserID      string
	Kind        string
	PayloadJSON string
	Status      string
	Attempts    int
	LastError   string
	BatchID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Raw record processing statuses.
const (
	RawPending   = "pending"
	RawProcessed = "processed"
	RawSkipped   = "skipped"
)

// RawRecord is a provider item exactly as fetched, before normalization.
// The (UserID, Provider, SourceID) triple is unique; re-fetching the same
// item is a no-op.
type RawRecord struct {
	ID            string
	UserID        string
	Provider      string
	SourceID      string
	Kind          string
	PayloadJSON   string
	OccurredAt    time.Time
	FetchedAt     time.Time
	ProcessStatus string
	SkipReason    string
}

// Interaction is a normalized communication event (email or calendar event).
// The (UserID, Source, SourceID) triple is unique; normalization upserts.
type Interaction struct {
	ID               string
	UserID           string
	Source           string
	SourceID         string
	Kind             string
	Subject          string
	ParticipantsJSON string
	OccurredAt       time.Time
	Excerpt          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Contact is a person derived from interaction participants, merged by
// (UserID, Email).
type Contact struct {
	ID          string
	UserID      string
	Email       string
	Name        string
	Phone       string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	TimesSeen   int
}

// SyncCursor records how far provider sync has progressed for a user.
// LastSyncedAt only ever moves forward.
type SyncCursor struct {
	UserID       string
	Provider     string
	LastSyncedAt time.Time
	UpdatedAt    time.Time
}
