package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/provider"
	"github.com/halwer/rolo/internal/ratelimit"
	"github.com/halwer/rolo/internal/retrieval"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

// TestPipeline_FullIngestionCycle wires the runner with all four stage
// handlers over one store and drives a sync from queue to vectors: pass one
// runs the sync job and fans out normalize jobs under the same batch, pass
// two normalizes into interactions, pass three embeds and extracts contacts.
func TestPipeline_FullIngestionCycle(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	items := make([]provider.Item, 3)
	for i := range items {
		items[i] = gatewayItem([]string{"m1", "m2", "m3"}[i], base.Add(time.Duration(i)*time.Minute))
		items[i].Participants = []provider.Participant{
			{Name: "Ana Torres", Email: "ana@example.com", Role: "from"},
		}
	}
	gw := &fakeGateway{pages: []provider.Page{{Items: items}}}
	client := &fakeEmbedClient{vec: []float32{0.1, 0.2, 0.3}}

	sm := settings.NewManager(s)
	vectors := retrieval.NewSQLiteStore(s.DB())
	limiter := ratelimit.New(s, map[string]int{ResourceEmbedding: 100})
	embedder := retrieval.NewEmbedder(client, "test-embed")

	r := ingest.NewRunner(s, ingest.Config{})
	r.Register(KindSyncProvider, NewSyncStage(s, &fakeVault{token: "tok-1"}, gw, sm, SyncConfig{ChunkDelay: time.Millisecond}))
	r.Register(KindNormalizeRecord, NewNormalizeStage(s))
	r.Register(KindGenerateEmbedding, NewEmbedStage(s, embedder, vectors, limiter, sm))
	r.Register(KindExtractContacts, NewContactsStage(s, sm))

	ctx := context.Background()
	syncJobID, batchID, err := EnqueueSync(s, "u1", "gmail", "")
	if err != nil {
		t.Fatalf("EnqueueSync: %v", err)
	}

	// Pass one: the sync job fetches, stores raw records, and queues one
	// normalize job per record in the originating batch.
	sum, err := r.RunPass(ctx, "u1")
	if err != nil {
		t.Fatalf("RunPass (sync): %v", err)
	}
	if sum.Processed != 1 || sum.Succeeded != 1 {
		t.Fatalf("sync pass summary = %+v, want processed=1 succeeded=1", sum)
	}

	raw, err := s.CountRawRecords("u1", "gmail")
	if err != nil {
		t.Fatalf("CountRawRecords: %v", err)
	}
	if raw != 3 {
		t.Errorf("raw records = %d, want 3", raw)
	}

	syncJob, err := s.GetJob(syncJobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if syncJob.Status != storage.JobDone {
		t.Errorf("sync job status = %q, want %q", syncJob.Status, storage.JobDone)
	}

	queued, err := s.ListJobs("u1", storage.JobQueued, batchID, 20)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("queued jobs in batch = %d, want 3 normalize jobs", len(queued))
	}
	for _, j := range queued {
		if j.Kind != KindNormalizeRecord {
			t.Errorf("job kind = %q, want %q", j.Kind, KindNormalizeRecord)
		}
	}

	// Pass two: normalize jobs build interactions and fan out embedding and
	// contact-extraction work, still under the same batch.
	sum, err = r.RunPass(ctx, "u1")
	if err != nil {
		t.Fatalf("RunPass (normalize): %v", err)
	}
	if sum.Processed != 3 || sum.Succeeded != 3 {
		t.Fatalf("normalize pass summary = %+v, want processed=3 succeeded=3", sum)
	}

	interactions, err := s.CountInteractions("u1")
	if err != nil {
		t.Fatalf("CountInteractions: %v", err)
	}
	if interactions != 3 {
		t.Errorf("interactions = %d, want 3", interactions)
	}

	queued, err = s.ListJobs("u1", storage.JobQueued, batchID, 20)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(queued) != 6 {
		t.Fatalf("queued jobs in batch = %d, want 3 embed + 3 contacts", len(queued))
	}

	// Pass three: enrichment drains.
	sum, err = r.RunPass(ctx, "u1")
	if err != nil {
		t.Fatalf("RunPass (enrichment): %v", err)
	}
	if sum.Processed != 6 || sum.Succeeded != 6 {
		t.Fatalf("enrichment pass summary = %+v, want processed=6 succeeded=6", sum)
	}

	vecCount, err := vectors.Count("u1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if vecCount != 3 {
		t.Errorf("vectors = %d, want 3", vecCount)
	}

	ana, err := s.GetContactByEmail("u1", "ana@example.com")
	if err != nil {
		t.Fatalf("GetContactByEmail: %v", err)
	}
	if ana.TimesSeen != 3 {
		t.Errorf("ana times_seen = %d, want 3 (merged, not duplicated)", ana.TimesSeen)
	}
	if contacts, err := s.CountContacts("u1"); err != nil || contacts != 1 {
		t.Errorf("contacts = %d (err %v), want exactly 1", contacts, err)
	}

	counts, err := s.CountJobsByStatus("u1")
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[storage.JobDone] != 10 || counts[storage.JobQueued] != 0 {
		t.Errorf("job counts = %v, want 10 done and an empty queue", counts)
	}
}
