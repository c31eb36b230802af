package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/halwer/rolo/internal/storage"
)

// Job kinds processed by the ingestion pipeline. The set is closed: a kind
// with no registered handler fails terminally at dispatch.
const (
	KindSyncProvider      = "sync_provider"
	KindNormalizeRecord   = "normalize_record"
	KindGenerateEmbedding = "generate_embedding"
	KindExtractContacts   = "extract_contacts"
)

// SyncPayload asks the sync stage to pull new items from one provider.
type SyncPayload struct {
	Provider string `json:"provider"`
	Query    string `json:"query,omitempty"`
}

// NormalizePayload points the normalize stage at one raw record.
type NormalizePayload struct {
	RawRecordID string `json:"raw_record_id"`
}

// EmbedPayload points the embed stage at one interaction.
type EmbedPayload struct {
	InteractionID string `json:"interaction_id"`
}

// ContactsPayload points the contact-extraction stage at one interaction.
type ContactsPayload struct {
	InteractionID string `json:"interaction_id"`
}

// Queue abstracts job insertion. Implemented by storage.Store.
type Queue interface {
	EnqueueJob(job storage.Job) error
}

// EnqueueSync opens a new batch and queues a provider sync job in it.
// This is the entry point behind the "approve sync" action.
func EnqueueSync(q Queue, userID, provider, query string) (jobID, batchID string, err error) {
	if provider == "" {
		return "", "", fmt.Errorf("enqueueing sync: missing provider")
	}
	payload, err := json.Marshal(SyncPayload{Provider: provider, Query: query})
	if err != nil {
		return "", "", fmt.Errorf("marshalling sync payload: %w", err)
	}

	jobID = uuid.New().String()
	batchID = uuid.New().String()
	err = q.EnqueueJob(storage.Job{
		ID:          jobID,
		UserID:      userID,
		Kind:        KindSyncProvider,
		PayloadJSON: string(payload),
		BatchID:     batchID,
	})
	if err != nil {
		return "", "", fmt.Errorf("enqueueing sync job: %w", err)
	}
	return jobID, batchID, nil
}

// enqueue queues one follow-up job carrying the originating batch id.
func enqueue(q Queue, userID, kind, batchID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", kind, err)
	}
	return q.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        kind,
		PayloadJSON: string(b),
		BatchID:     batchID,
	})
}
