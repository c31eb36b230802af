package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halwer/rolo/internal/pipeline"
	"github.com/halwer/rolo/internal/retrieval"
	"github.com/halwer/rolo/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:       store,
		Retriever:   &fakeSearcher{},
		DefaultUser: "local",
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SearchInteractions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	searcher := &fakeSearcher{
		matches: []retrieval.Match{
			{ID: "v1", OwnerType: "interaction", OwnerID: "int-1", Text: "Lunch with Ana", Score: 0.95},
			{ID: "v2", OwnerType: "interaction", OwnerID: "int-2", Text: "Quarterly review", Score: 0.81},
		},
	}
	deps.Retriever = searcher
	handler := mcpSearchInteractions(deps)

	req := makeCallToolRequest("search_interactions", map[string]interface{}{
		"query": "lunch plans",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	var matches []json.RawMessage
	if err := json.Unmarshal([]byte(text), &matches); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	if len(searcher.users) != 1 || searcher.users[0] != "local" {
		t.Errorf("search users = %v, want the default user", searcher.users)
	}
	if searcher.queries[0] != "lunch plans" {
		t.Errorf("query = %q, want 'lunch plans'", searcher.queries[0])
	}
	if searcher.topKs[0] != 5 {
		t.Errorf("topK = %d, want default 5", searcher.topKs[0])
	}
}

func TestMCPTool_SearchInteractions_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchInteractions(deps)

	req := makeCallToolRequest("search_interactions", map[string]interface{}{
		"query": "nonexistent topic",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_SearchInteractions_MissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchInteractions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_interactions", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing query")
	}
}

func TestMCPTool_SearchInteractions_Error(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &fakeSearcher{err: errors.New("embed failed")}
	handler := mcpSearchInteractions(deps)

	req := makeCallToolRequest("search_interactions", map[string]interface{}{
		"query": "test",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_LookupContact(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if _, err := store.UpsertContact(storage.Contact{
		ID:     "c1",
		UserID: "local",
		Email:  "ana@example.com",
		Name:   "Ana Torres",
	}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	handler := mcpLookupContact(deps)

	// Lookup should not be case sensitive.
	req := makeCallToolRequest("lookup_contact", map[string]interface{}{
		"email": "ANA@example.com",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var contact storage.Contact
	if err := json.Unmarshal([]byte(toolText(t, result)), &contact); err != nil {
		t.Fatalf("failed to parse contact: %v", err)
	}
	if contact.Email != "ana@example.com" {
		t.Errorf("email = %q, want ana@example.com", contact.Email)
	}
	if contact.Name != "Ana Torres" {
		t.Errorf("name = %q, want Ana Torres", contact.Name)
	}
}

func TestMCPTool_LookupContact_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpLookupContact(deps)

	req := makeCallToolRequest("lookup_contact", map[string]interface{}{
		"email": "ghost@example.com",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown contact")
	}
	if text := toolText(t, result); !strings.Contains(text, "ghost@example.com") {
		t.Errorf("error should name the email, got: %s", text)
	}
}

func TestMCPTool_QueueSync(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpQueueSync(deps)

	req := makeCallToolRequest("queue_sync", map[string]interface{}{
		"provider": "gmail",
		"query":    "newer_than:30d",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "Queued gmail sync") {
		t.Errorf("unexpected response: %s", text)
	}

	jobs, err := store.ListJobs("local", "", "", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs))
	}
	if jobs[0].Kind != pipeline.KindSyncProvider {
		t.Errorf("kind = %q, want %q", jobs[0].Kind, pipeline.KindSyncProvider)
	}
	if !strings.Contains(jobs[0].PayloadJSON, `"provider":"gmail"`) {
		t.Errorf("payload = %s, want it to carry the provider", jobs[0].PayloadJSON)
	}
	if jobs[0].BatchID == "" {
		t.Error("queued job should belong to a batch")
	}
}

func TestMCPTool_QueueSync_MissingProvider(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpQueueSync(deps)

	result, err := handler(context.Background(), makeCallToolRequest("queue_sync", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing provider")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	seedInteraction(t, store, "int-1", "local", "Lunch with Ana", base)
	seedInteraction(t, store, "int-2", "local", "Quarterly review", base.Add(time.Hour))
	seedInteraction(t, store, "int-x", "u2", "Someone else's meeting", base)

	handler := mcpResourceRecent(deps)
	req := makeReadResourceRequest("crm://recent")

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 interactions for the default user, got %d", len(summaries))
	}
	if summaries[0].ID != "int-2" {
		t.Errorf("first = %q, want the newest interaction", summaries[0].ID)
	}
}

func TestMCPResource_Recent_TruncatesExcerpts(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if _, err := store.UpsertInteraction(storage.Interaction{
		ID:         "int-long",
		UserID:     "local",
		Source:     "gmail",
		SourceID:   "src-long",
		Kind:       "email",
		Subject:    "Novel-length update",
		OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Excerpt:    strings.Repeat("x", 300),
	}); err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}

	handler := mcpResourceRecent(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("crm://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc := contents[0].(mcp.TextResourceContents)
	var summaries []struct {
		Excerpt string `json:"excerpt"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(summaries))
	}
	if !strings.HasSuffix(summaries[0].Excerpt, "...") {
		t.Error("long excerpt should be truncated with an ellipsis")
	}
	if n := utf8.RuneCountInString(summaries[0].Excerpt); n > 210 {
		t.Errorf("excerpt length = %d runes, want at most ~203", n)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Retriever = &fakeSearcher{
		matches: []retrieval.Match{{ID: "v1", Text: "test", Score: 0.9}},
	}

	syncHandler := mcpQueueSync(deps)
	searchHandler := mcpSearchInteractions(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("queue_sync", map[string]interface{}{
				"provider": "gmail",
			})
			if _, err := syncHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("search_interactions", map[string]interface{}{
				"query": "test",
			})
			if _, err := searchHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
