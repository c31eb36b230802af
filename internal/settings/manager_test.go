package settings

import (
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]map[string]string

	allCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]map[string]string)}
}

func (m *mockStore) SetSetting(userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[userID] == nil {
		m.data[userID] = make(map[string]string)
	}
	m.data[userID][key] = value
	return nil
}

func (m *mockStore) GetSetting(userID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[userID][key], nil
}

func (m *mockStore) AllSettings(userID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allCalls++
	cp := make(map[string]string, len(m.data[userID]))
	for k, v := range m.data[userID] {
		cp[k] = v
	}
	return cp, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Defaults(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	s, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DefaultRegion != "US" {
		t.Errorf("DefaultRegion = %q, want %q", s.DefaultRegion, "US")
	}
	if len(s.Providers) != 0 {
		t.Errorf("expected no providers, got %v", s.Providers)
	}
	if s.EmbedPerMinute != 0 {
		t.Errorf("EmbedPerMinute = %d, want 0", s.EmbedPerMinute)
	}
}

func TestSetAndGet(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	if err := mgr.Set("u1", "sync.providers", `["gmail","gcal"]`); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := mgr.Set("u1", "contacts.default_region", "GB"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := mgr.Set("u1", "limits.embed_per_minute", "30"); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	s, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(s.Providers) != 2 || s.Providers[0] != "gmail" || s.Providers[1] != "gcal" {
		t.Errorf("Providers = %v, want [gmail gcal]", s.Providers)
	}
	if s.DefaultRegion != "GB" {
		t.Errorf("DefaultRegion = %q, want %q", s.DefaultRegion, "GB")
	}
	if s.EmbedPerMinute != 30 {
		t.Errorf("EmbedPerMinute = %d, want 30", s.EmbedPerMinute)
	}
}

func TestGet_MalformedKeysFallBack(t *testing.T) {
	store := newMockStore()
	store.SetSetting("u1", "sync.providers", "not json")
	store.SetSetting("u1", "limits.embed_per_minute", "lots")
	mgr := NewManager(store)

	s, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(s.Providers) != 0 {
		t.Errorf("expected malformed providers to be skipped, got %v", s.Providers)
	}
	if s.EmbedPerMinute != 0 {
		t.Errorf("expected malformed quota to be skipped, got %d", s.EmbedPerMinute)
	}
}

func TestQuery_PerProvider(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	mgr.Set("u1", "sync.queries", `{"gmail":"label:clients"}`)

	q, err := mgr.Query("u1", "gmail")
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q != "label:clients" {
		t.Errorf("Query(gmail) = %q, want %q", q, "label:clients")
	}

	q, err = mgr.Query("u1", "gcal")
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q != "" {
		t.Errorf("Query(gcal) = %q, want empty", q)
	}
}

func TestGet_ScopedToUser(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	mgr.Set("u1", "contacts.default_region", "DE")

	s, err := mgr.Get("u2")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if s.DefaultRegion != "US" {
		t.Errorf("u2 DefaultRegion = %q, want default %q", s.DefaultRegion, "US")
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	mgr.Get("u1")
	mgr.Get("u1")

	store.mu.Lock()
	calls := store.allCalls
	store.mu.Unlock()

	if calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)

	mgr.Get("u1")

	// Advance past TTL
	clock.Advance(ttl + time.Second)

	mgr.Get("u1")

	store.mu.Lock()
	calls := store.allCalls
	store.mu.Unlock()

	if calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestSetInvalidatesCache(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	s, _ := mgr.Get("u1")
	if s.DefaultRegion != "US" {
		t.Fatalf("DefaultRegion = %q, want %q", s.DefaultRegion, "US")
	}

	mgr.Set("u1", "contacts.default_region", "FR")

	s, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if s.DefaultRegion != "FR" {
		t.Errorf("DefaultRegion = %q after Set, want %q", s.DefaultRegion, "FR")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	mgr.Set("u1", "sync.providers", `["gmail"]`)

	s1, _ := mgr.Get("u1")
	s1.Providers[0] = "mutated"

	s2, _ := mgr.Get("u1")
	if s2.Providers[0] != "gmail" {
		t.Errorf("cache was mutated through the returned copy: %v", s2.Providers)
	}
}
