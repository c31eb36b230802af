package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/provider"
	"github.com/halwer/rolo/internal/storage"
)

// excerptMaxChars caps the stored interaction excerpt.
const excerptMaxChars = 1000

// NormalizeStage turns one raw provider record into an Interaction. The
// transformation ends in an idempotent upsert, so normalizing the same
// record twice yields exactly one interaction. A malformed record is marked
// skipped and the job still succeeds: one bad item must not block its batch.
type NormalizeStage struct {
	store *storage.Store
}

// NewNormalizeStage wires the normalize handler.
func NewNormalizeStage(store *storage.Store) *NormalizeStage {
	return &NormalizeStage{store: store}
}

// Handle normalizes the raw record named by the job payload.
func (n *NormalizeStage) Handle(ctx context.Context, job storage.Job) error {
	var p NormalizePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return ingest.Permanent(fmt.Errorf("decoding normalize payload: %w", err))
	}
	if p.RawRecordID == "" {
		return ingest.Permanent(fmt.Errorf("normalize payload missing raw record id"))
	}

	rec, err := n.store.GetRawRecord(p.RawRecordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ingest.Permanent(fmt.Errorf("raw record %s: %w", p.RawRecordID, err))
		}
		return fmt.Errorf("loading raw record %s: %w", p.RawRecordID, err)
	}

	var item provider.Item
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &item); err != nil {
		return n.skip(rec, "malformed payload")
	}
	if item.SourceID == "" {
		return n.skip(rec, "missing source id")
	}
	occurredAt := item.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = rec.OccurredAt
	}
	if occurredAt.IsZero() {
		return n.skip(rec, "missing timestamp")
	}

	excerpt := buildExcerpt(item)
	if item.Subject == "" && excerpt == "" {
		return n.skip(rec, "no content")
	}

	participants := "[]"
	if len(item.Participants) > 0 {
		b, err := json.Marshal(item.Participants)
		if err != nil {
			return n.skip(rec, "malformed participants")
		}
		participants = string(b)
	}

	interactionID, err := n.store.UpsertInteraction(storage.Interaction{
		ID:               uuid.New().String(),
		UserID:           rec.UserID,
		Source:           rec.Provider,
		SourceID:         rec.SourceID,
		Kind:             item.Kind,
		Subject:          item.Subject,
		ParticipantsJSON: participants,
		OccurredAt:       occurredAt,
		Excerpt:          excerpt,
	})
	if err != nil {
		return fmt.Errorf("upserting interaction for %s: %w", rec.ID, err)
	}

	if err := n.store.MarkRawRecordProcessed(rec.ID); err != nil {
		return fmt.Errorf("marking raw record %s processed: %w", rec.ID, err)
	}

	// Fan out enrichment under the originating batch.
	if err := enqueue(n.store, rec.UserID, KindGenerateEmbedding, job.BatchID, EmbedPayload{InteractionID: interactionID}); err != nil {
		return fmt.Errorf("queueing embedding job: %w", err)
	}
	if err := enqueue(n.store, rec.UserID, KindExtractContacts, job.BatchID, ContactsPayload{InteractionID: interactionID}); err != nil {
		return fmt.Errorf("queueing contact extraction job: %w", err)
	}

	return nil
}

// skip marks the record permanently skipped and reports success: the item is
// consumed, not retried.
func (n *NormalizeStage) skip(rec storage.RawRecord, reason string) error {
	slog.Warn("skipping raw record",
		"record_id", rec.ID,
		"provider", rec.Provider,
		"source_id", rec.SourceID,
		"reason", reason,
	)
	if err := n.store.MarkRawRecordSkipped(rec.ID, reason); err != nil {
		return fmt.Errorf("marking raw record %s skipped: %w", rec.ID, err)
	}
	return nil
}

// buildExcerpt assembles the interaction's plain-text excerpt from the body
// (HTML stripped when no text body exists) and any PDF attachment text.
func buildExcerpt(item provider.Item) string {
	var parts []string

	body := strings.TrimSpace(item.BodyText)
	if body == "" && item.BodyHTML != "" {
		body = htmlToText(item.BodyHTML)
	}
	if body != "" {
		parts = append(parts, collapseSpace(body))
	}

	for _, att := range item.Attachments {
		if att.MimeType != "application/pdf" || len(att.Data) == 0 {
			continue
		}
		if txt := pdfText(att.Data); txt != "" {
			parts = append(parts, txt)
		}
	}

	return truncateText(strings.Join(parts, " "), excerptMaxChars)
}
