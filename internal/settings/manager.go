package settings

import (
	"fmt"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetSetting(userID, key, value string) error
	GetSetting(userID, key string) (string, error)
	AllSettings(userID string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	settings Settings
	cachedAt time.Time
}

// Manager provides cached, structured access to per-user settings stored in
// SQLite. Sync and contact-extraction read it on every job, so reads are
// served from a TTL cache.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
		cache: make(map[string]cacheEntry),
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get reads the user's settings rows from storage (or cache) and assembles
// a structured Settings. Returns defaults for a user with no rows.
func (m *Manager) Get(userID string) (Settings, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		s := copySettings(e.settings)
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return copySettings(e.settings), nil
	}

	keys, err := m.store.AllSettings(userID)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}

	s := buildSettings(keys)
	m.cache[userID] = cacheEntry{settings: s, cachedAt: m.clock.Now()}
	return copySettings(s), nil
}

// Set persists one settings key and invalidates the user's cache entry.
func (m *Manager) Set(userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetSetting(userID, key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	delete(m.cache, userID)
	return nil
}

// All returns the user's raw settings rows, bypassing the cache.
func (m *Manager) All(userID string) (map[string]string, error) {
	return m.store.AllSettings(userID)
}

// EnabledProviders returns the providers sync should cover. Empty when the
// user has not configured any.
func (m *Manager) EnabledProviders(userID string) ([]string, error) {
	s, err := m.Get(userID)
	if err != nil {
		return nil, err
	}
	return s.Providers, nil
}

// Query returns the user's query filter for a provider, or "" when unset.
func (m *Manager) Query(userID, provider string) (string, error) {
	s, err := m.Get(userID)
	if err != nil {
		return "", err
	}
	return s.Queries[provider], nil
}

// DefaultRegion returns the region used for phone normalization.
func (m *Manager) DefaultRegion(userID string) (string, error) {
	s, err := m.Get(userID)
	if err != nil {
		return "", err
	}
	return s.DefaultRegion, nil
}

// EmbedPerMinute returns the user's embedding-quota override, or 0 when unset.
func (m *Manager) EmbedPerMinute(userID string) (int, error) {
	s, err := m.Get(userID)
	if err != nil {
		return 0, err
	}
	return s.EmbedPerMinute, nil
}
