package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/provider"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

// SyncConfig bounds one sync job invocation. The deadline and item cap make
// a single job finite; whatever is left waits for the next scheduled sync,
// which resumes from the cursor.
type SyncConfig struct {
	ChunkSize  int           // items stored per chunk (default 25)
	ChunkDelay time.Duration // cooperative pause between chunks (default 150ms)
	Deadline   time.Duration // wall-clock budget per invocation (default 3m)
	ItemCap    int           // max items per invocation (default 2000)
}

// SyncStore is the storage surface the sync stage writes through.
// *storage.Store implements it.
type SyncStore interface {
	Queue
	GetSyncCursor(userID, provider string) (storage.SyncCursor, error)
	InsertRawRecord(rec storage.RawRecord) (bool, error)
	AdvanceSyncCursor(userID, provider string, to time.Time) error
}

// SyncStage fetches provider items newer than the user's cursor, stores them
// as raw records, and queues a normalize job for each record it hasn't seen
// before. Raw record insertion is conflict-tolerant, so re-running a sync
// over the same window is a no-op.
type SyncStage struct {
	store    SyncStore
	vault    provider.TokenSource
	client   provider.Client
	settings *settings.Manager
	cfg      SyncConfig
	now      func() time.Time
}

// NewSyncStage wires the sync handler. Zero cfg fields fall back to defaults.
func NewSyncStage(store SyncStore, vault provider.TokenSource, client provider.Client, sm *settings.Manager, cfg SyncConfig) *SyncStage {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 25
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = 150 * time.Millisecond
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 3 * time.Minute
	}
	if cfg.ItemCap <= 0 {
		cfg.ItemCap = 2000
	}
	return &SyncStage{
		store:    store,
		vault:    vault,
		client:   client,
		settings: sm,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs one bounded sync invocation.
func (s *SyncStage) Handle(ctx context.Context, job storage.Job) error {
	var p SyncPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return ingest.Permanent(fmt.Errorf("decoding sync payload: %w", err))
	}
	if p.Provider == "" {
		return ingest.Permanent(fmt.Errorf("sync payload missing provider"))
	}

	query := p.Query
	if query == "" {
		q, err := s.settings.Query(job.UserID, p.Provider)
		if err != nil {
			slog.Warn("loading sync query filter", "user_id", job.UserID, "provider", p.Provider, "error", err)
		} else {
			query = q
		}
	}

	token, err := s.vault.AccessToken(ctx, job.UserID, p.Provider)
	if err != nil {
		var credErr *provider.CredentialError
		if errors.As(err, &credErr) {
			return ingest.Permanent(fmt.Errorf("obtaining %s credential: %w", p.Provider, err))
		}
		return fmt.Errorf("obtaining %s credential: %w", p.Provider, err)
	}

	cursor, err := s.store.GetSyncCursor(job.UserID, p.Provider)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("reading sync cursor: %w", err)
	}
	since := cursor.LastSyncedAt // zero on first sync: fetch everything

	deadline := s.now().Add(s.cfg.Deadline)
	var (
		pageToken string
		chunk     []provider.Item
		seen      int
		inserted  int
		early     string
	)

	for {
		if s.now().After(deadline) {
			early = "deadline"
			break
		}

		page, err := s.client.ListItemsSince(ctx, token, p.Provider, since, query, pageToken)
		if err != nil {
			var credErr *provider.CredentialError
			if errors.As(err, &credErr) {
				return ingest.Permanent(fmt.Errorf("listing %s items: %w", p.Provider, err))
			}
			return fmt.Errorf("listing %s items: %w", p.Provider, err)
		}

		for _, item := range page.Items {
			chunk = append(chunk, item)
			seen++
			if len(chunk) < s.cfg.ChunkSize {
				continue
			}

			n, err := s.flushChunk(job, p.Provider, chunk)
			if err != nil {
				return err
			}
			inserted += n
			chunk = chunk[:0]

			if seen >= s.cfg.ItemCap {
				early = "item cap"
				break
			}
			if s.now().After(deadline) {
				early = "deadline"
				break
			}

			// Cooperative pause so we don't hammer the provider.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}

		if early != "" || page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(chunk) > 0 {
		n, err := s.flushChunk(job, p.Provider, chunk)
		if err != nil {
			return err
		}
		inserted += n
	}

	if early != "" {
		slog.Info("sync stopped early, cursor saved",
			"user_id", job.UserID,
			"provider", p.Provider,
			"reason", early,
			"fetched", seen,
			"inserted", inserted,
		)
		return nil
	}

	slog.Info("sync complete",
		"user_id", job.UserID,
		"provider", p.Provider,
		"fetched", seen,
		"inserted", inserted,
	)
	return nil
}

// flushChunk durably stores one chunk, queues a normalize job per newly
// inserted record, and advances the cursor past the chunk. Malformed items
// are logged and skipped (refetching cannot fix them); a store failure
// aborts the chunk before the cursor moves, so the retried job refetches
// everything not yet durably stored.
func (s *SyncStage) flushChunk(job storage.Job, providerName string, items []provider.Item) (int, error) {
	inserted := 0
	var maxOccurred time.Time

	for _, item := range items {
		if item.SourceID == "" {
			slog.Warn("provider item missing source id, skipping",
				"user_id", job.UserID, "provider", providerName)
			continue
		}

		payload, err := json.Marshal(item)
		if err != nil {
			slog.Warn("marshalling provider item, skipping",
				"provider", providerName, "source_id", item.SourceID, "error", err)
			continue
		}

		rec := storage.RawRecord{
			ID:          uuid.New().String(),
			UserID:      job.UserID,
			Provider:    providerName,
			SourceID:    item.SourceID,
			Kind:        item.Kind,
			PayloadJSON: string(payload),
			OccurredAt:  item.OccurredAt,
			FetchedAt:   s.now(),
		}
		ok, err := s.store.InsertRawRecord(rec)
		if err != nil {
			return inserted, fmt.Errorf("storing item %s: %w", item.SourceID, err)
		}

		if item.OccurredAt.After(maxOccurred) {
			maxOccurred = item.OccurredAt
		}
		if !ok {
			// Already seen on an earlier sync; no duplicate normalize job.
			continue
		}
		inserted++

		if err := enqueue(s.store, job.UserID, KindNormalizeRecord, job.BatchID, NormalizePayload{RawRecordID: rec.ID}); err != nil {
			slog.Warn("queueing normalize job",
				"provider", providerName, "source_id", item.SourceID, "error", err)
		}
	}

	if !maxOccurred.IsZero() {
		if err := s.store.AdvanceSyncCursor(job.UserID, providerName, maxOccurred); err != nil {
			return inserted, fmt.Errorf("advancing sync cursor: %w", err)
		}
	}
	return inserted, nil
}
