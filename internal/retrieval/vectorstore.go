package retrieval

import "time"

// VectorStore is the interface for embedding storage and similarity search
// backends. The current implementation uses SQLite with brute-force cosine
// similarity, which is fine for a single user's mailbox; an ANN-capable
// backend can replace it behind this interface if vector counts grow past
// that.
type VectorStore interface {
	// Replace inserts records, overwriting any existing record with the
	// same (OwnerType, OwnerID). Re-embedding an interaction must never
	// leave two vectors behind.
	Replace(records []Record) error

	// Search returns the topK records most similar to vector, restricted
	// to the given user.
	Search(userID string, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByOwner removes the record owned by (ownerType, ownerID), if any.
	DeleteByOwner(ownerType, ownerID string) error

	// Count returns the number of records stored for a user.
	Count(userID string) (int, error)
}

// Record is one embedded text chunk, owned by the interaction or contact it
// was derived from.
type Record struct {
	ID        string
	UserID    string
	OwnerType string
	OwnerID   string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
