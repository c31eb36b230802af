package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func pageJSON(next string, ids ...string) []byte {
	p := Page{NextPageToken: next}
	for _, id := range ids {
		p.Items = append(p.Items, Item{
			SourceID:   id,
			Kind:       "email",
			Subject:    "subject " + id,
			OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		})
	}
	b, _ := json.Marshal(p)
	return b
}

func TestListItemsSince(t *testing.T) {
	since := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/gmail/items" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
		}
		if got := r.URL.Query().Get("since"); got != "2025-02-01T00:00:00Z" {
			t.Errorf("since = %q, want %q", got, "2025-02-01T00:00:00Z")
		}
		if got := r.URL.Query().Get("query"); got != "label:clients" {
			t.Errorf("query = %q, want %q", got, "label:clients")
		}
		if got := r.URL.Query().Get("page_token"); got != "p2" {
			t.Errorf("page_token = %q, want %q", got, "p2")
		}
		w.Write(pageJSON("p3", "msg-1", "msg-2"))
	}))
	defer srv.Close()

	c := NewGateway(srv.URL)
	page, err := c.ListItemsSince(context.Background(), "tok-1", "gmail", since, "label:clients", "p2")
	if err != nil {
		t.Fatalf("ListItemsSince: %v", err)
	}

	if len(page.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(page.Items))
	}
	if page.Items[0].SourceID != "msg-1" {
		t.Errorf("first SourceID = %q, want %q", page.Items[0].SourceID, "msg-1")
	}
	if page.Items[0].Kind != "email" {
		t.Errorf("Kind = %q, want %q", page.Items[0].Kind, "email")
	}
	if page.NextPageToken != "p3" {
		t.Errorf("NextPageToken = %q, want %q", page.NextPageToken, "p3")
	}
}

func TestListItemsSince_OmitsEmptyParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("page_token") {
			t.Error("page_token should be absent on the first page")
		}
		if r.URL.Query().Has("query") {
			t.Error("query should be absent when no filter is set")
		}
		w.Write(pageJSON(""))
	}))
	defer srv.Close()

	c := NewGateway(srv.URL)
	if _, err := c.ListItemsSince(context.Background(), "tok", "gmail", time.Now(), "", ""); err != nil {
		t.Fatalf("ListItemsSince: %v", err)
	}
}

func TestListItemsSince_CredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewGateway(srv.URL)
	_, err := c.ListItemsSince(context.Background(), "expired", "gmail", time.Now(), "", "")

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("error = %v, want CredentialError", err)
	}
	if credErr.Provider != "gmail" {
		t.Errorf("Provider = %q, want %q", credErr.Provider, "gmail")
	}
	if credErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", credErr.Status, http.StatusUnauthorized)
	}
}

func TestListItemsSince_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewGateway(srv.URL)
	_, err := c.ListItemsSince(context.Background(), "tok", "gcal", time.Now(), "", "")
	if err == nil {
		t.Fatal("expected error for 502")
	}

	var credErr *CredentialError
	if errors.As(err, &credErr) {
		t.Error("502 should not be a CredentialError")
	}
}

func TestVaultAccessToken_Caches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/tokens/u1/gmail" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer vault-secret" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer vault-secret")
		}
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "short-lived",
			ExpiresAt:   time.Now().UTC().Add(time.Hour),
		})
	}))
	defer srv.Close()

	c := NewVault(srv.URL, "vault-secret")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := c.AccessToken(ctx, "u1", "gmail")
		if err != nil {
			t.Fatalf("AccessToken %d: %v", i, err)
		}
		if tok != "short-lived" {
			t.Errorf("token = %q, want %q", tok, "short-lived")
		}
	}

	if n := hits.Load(); n != 1 {
		t.Errorf("vault hit %d times, want 1 (cache)", n)
	}
}

func TestVaultAccessToken_RefreshesNearExpiry(t *testing.T) {
	var hits atomic.Int32
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "tok",
			ExpiresAt:   base.Add(time.Minute),
		})
	}))
	defer srv.Close()

	c := NewVault(srv.URL, "secret")
	now := base
	c.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := c.AccessToken(ctx, "u1", "gmail"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}

	// Still comfortably before expiry: cache serves.
	now = base.Add(20 * time.Second)
	if _, err := c.AccessToken(ctx, "u1", "gmail"); err != nil {
		t.Fatalf("AccessToken (cached): %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("vault hit %d times, want 1", n)
	}

	// Inside the expiry margin: refetch.
	now = base.Add(45 * time.Second)
	if _, err := c.AccessToken(ctx, "u1", "gmail"); err != nil {
		t.Fatalf("AccessToken (refresh): %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("vault hit %d times, want 2", n)
	}
}

func TestVaultAccessToken_MissingGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewVault(srv.URL, "secret")
	_, err := c.AccessToken(context.Background(), "u1", "gcal")

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("error = %v, want CredentialError", err)
	}
	if credErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", credErr.Status, http.StatusNotFound)
	}
}
