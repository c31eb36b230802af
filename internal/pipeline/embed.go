package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/ratelimit"
	"github.com/halwer/rolo/internal/retrieval"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

// OwnerTypeInteraction tags vectors derived from interactions.
const OwnerTypeInteraction = "interaction"

// ResourceEmbedding is the rate-limited resource name for model calls.
const ResourceEmbedding = "embedding"

// EmbedStage computes an interaction's embedding vector and stores it keyed
// by the owning interaction. Re-running replaces the stored vector, so a
// re-normalized interaction never accumulates duplicates. Model calls pass
// through the per-minute usage guardrail first; an over-quota job is
// deferred back to the queue without spending an attempt and runs again in
// a later window.
type EmbedStage struct {
	store    *storage.Store
	embedder *retrieval.Embedder
	vectors  retrieval.VectorStore
	limiter  *ratelimit.Limiter
	settings *settings.Manager
	now      func() time.Time
}

// NewEmbedStage wires the embedding handler.
func NewEmbedStage(store *storage.Store, embedder *retrieval.Embedder, vectors retrieval.VectorStore, limiter *ratelimit.Limiter, sm *settings.Manager) *EmbedStage {
	return &EmbedStage{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		limiter:  limiter,
		settings: sm,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle embeds the interaction named by the job payload.
func (e *EmbedStage) Handle(ctx context.Context, job storage.Job) error {
	var p EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return ingest.Permanent(fmt.Errorf("decoding embed payload: %w", err))
	}
	if p.InteractionID == "" {
		return ingest.Permanent(fmt.Errorf("embed payload missing interaction id"))
	}

	inter, err := e.store.GetInteraction(p.InteractionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ingest.Permanent(fmt.Errorf("interaction %s: %w", p.InteractionID, err))
		}
		return fmt.Errorf("loading interaction %s: %w", p.InteractionID, err)
	}

	text := embedText(inter)
	if text == "" {
		slog.Debug("interaction has no text to embed", "interaction_id", inter.ID)
		return nil
	}

	if err := e.allow(job.UserID); err != nil {
		if errors.Is(err, ratelimit.ErrLimited) {
			return ingest.Throttled(err)
		}
		return err
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding interaction %s: %w", inter.ID, err)
	}

	err = e.vectors.Replace([]retrieval.Record{{
		ID:        uuid.New().String(),
		UserID:    inter.UserID,
		OwnerType: OwnerTypeInteraction,
		OwnerID:   inter.ID,
		TextChunk: text,
		Embedding: vec,
		CreatedAt: e.now(),
	}})
	if err != nil {
		return fmt.Errorf("storing vector for %s: %w", inter.ID, err)
	}
	return nil
}

// allow consults the usage guardrail, honoring a per-user quota override.
func (e *EmbedStage) allow(userID string) error {
	override, err := e.settings.EmbedPerMinute(userID)
	if err != nil {
		slog.Warn("loading embed quota override", "user_id", userID, "error", err)
		override = 0
	}
	if override > 0 {
		return e.limiter.AllowLimit(userID, ResourceEmbedding, override)
	}
	return e.limiter.Allow(userID, ResourceEmbedding)
}

// embedText is the canonical text form of an interaction for the model:
// subject plus excerpt.
func embedText(inter storage.Interaction) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(inter.Subject); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(inter.Excerpt); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}
