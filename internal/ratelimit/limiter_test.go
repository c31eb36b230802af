package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halwer/rolo/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllow_WithinLimit(t *testing.T) {
	store := openTestStore(t)
	l := New(store, map[string]int{"embedding": 2})

	for i := 0; i < 2; i++ {
		if err := l.Allow("u1", "embedding"); err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
	}

	err := l.Allow("u1", "embedding")
	if !errors.Is(err, ErrLimited) {
		t.Errorf("error = %v, want ErrLimited", err)
	}
}

func TestAllow_UnconfiguredResourceIsUnlimited(t *testing.T) {
	store := openTestStore(t)
	l := New(store, map[string]int{"embedding": 1})

	for i := 0; i < 5; i++ {
		if err := l.Allow("u1", "provider_fetch"); err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
	}
}

func TestAllow_SeparateUsers(t *testing.T) {
	store := openTestStore(t)
	l := New(store, map[string]int{"embedding": 1})

	if err := l.Allow("u1", "embedding"); err != nil {
		t.Fatalf("Allow u1: %v", err)
	}
	if err := l.Allow("u2", "embedding"); err != nil {
		t.Errorf("Allow u2: %v (quotas must be per user)", err)
	}
}

// TestAllow_WindowRollover fills a window and verifies the next minute
// starts fresh.
func TestAllow_WindowRollover(t *testing.T) {
	store := openTestStore(t)
	l := New(store, map[string]int{"embedding": 1})

	now := time.Date(2025, 6, 1, 10, 30, 45, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.Allow("u1", "embedding"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := l.Allow("u1", "embedding"); !errors.Is(err, ErrLimited) {
		t.Fatalf("error = %v, want ErrLimited", err)
	}

	now = now.Add(time.Minute)
	if err := l.Allow("u1", "embedding"); err != nil {
		t.Errorf("Allow after rollover: %v", err)
	}
}

func TestAllowLimit_Override(t *testing.T) {
	store := openTestStore(t)
	l := New(store, map[string]int{"embedding": 1})

	for i := 0; i < 3; i++ {
		if err := l.AllowLimit("u1", "embedding", 3); err != nil {
			t.Fatalf("AllowLimit %d: %v", i, err)
		}
	}
	if err := l.AllowLimit("u1", "embedding", 3); !errors.Is(err, ErrLimited) {
		t.Errorf("error = %v, want ErrLimited", err)
	}
}

// TestConcurrentAllow races more callers than the window admits and verifies
// exactly the limit get through.
func TestConcurrentAllow(t *testing.T) {
	store := openTestStore(t)
	const limit = 3
	const callers = 10
	l := New(store, map[string]int{"embedding": limit})

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Allow("u1", "embedding")
		}()
	}
	wg.Wait()
	close(results)

	allowed, limited := 0, 0
	for err := range results {
		switch {
		case err == nil:
			allowed++
		case errors.Is(err, ErrLimited):
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if allowed != limit {
		t.Errorf("allowed = %d, want %d", allowed, limit)
	}
	if limited != callers-limit {
		t.Errorf("limited = %d, want %d", limited, callers-limit)
	}
}
