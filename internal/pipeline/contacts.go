package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/halwer/rolo/internal/contacts"
	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

// ContactsStage mines an interaction's participant list into the contact
// book. Contacts merge on email, so reprocessing the same interaction bumps
// sighting counters instead of creating duplicates. Participants without a
// parseable address are dropped inside extraction, never fatal.
type ContactsStage struct {
	store    *storage.Store
	settings *settings.Manager
}

// NewContactsStage wires the contact-extraction handler.
func NewContactsStage(store *storage.Store, sm *settings.Manager) *ContactsStage {
	return &ContactsStage{store: store, settings: sm}
}

// Handle extracts contacts from the interaction named by the job payload.
func (c *ContactsStage) Handle(ctx context.Context, job storage.Job) error {
	var p ContactsPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return ingest.Permanent(fmt.Errorf("decoding contacts payload: %w", err))
	}
	if p.InteractionID == "" {
		return ingest.Permanent(fmt.Errorf("contacts payload missing interaction id"))
	}

	inter, err := c.store.GetInteraction(p.InteractionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ingest.Permanent(fmt.Errorf("interaction %s: %w", p.InteractionID, err))
		}
		return fmt.Errorf("loading interaction %s: %w", p.InteractionID, err)
	}

	region, err := c.settings.DefaultRegion(inter.UserID)
	if err != nil {
		slog.Warn("loading default region", "user_id", inter.UserID, "error", err)
		region = ""
	}

	identities, err := contacts.Extract(inter.ParticipantsJSON, region)
	if err != nil {
		// The participant list was written by normalization; if it does not
		// parse now, it never will.
		return ingest.Permanent(fmt.Errorf("parsing participants of %s: %w", inter.ID, err))
	}
	if len(identities) == 0 {
		slog.Debug("interaction has no addressable participants", "interaction_id", inter.ID)
		return nil
	}

	for _, ident := range identities {
		_, err := c.store.UpsertContact(storage.Contact{
			ID:         uuid.New().String(),
			UserID:     inter.UserID,
			Email:      ident.Email,
			Name:       ident.Name,
			Phone:      ident.Phone,
			LastSeenAt: inter.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("upserting contact %s: %w", ident.Email, err)
		}
	}
	return nil
}
