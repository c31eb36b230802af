package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halwer/rolo/internal/ingest"
	"github.com/halwer/rolo/internal/pipeline"
	"github.com/halwer/rolo/internal/retrieval"
	"github.com/halwer/rolo/internal/settings"
	"github.com/halwer/rolo/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Searcher abstracts semantic search for the API layer. Implemented by
// retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, userID, query string, topK int) ([]retrieval.Match, error)
}

// PassRunner runs queue passes on demand. Implemented by ingest.Runner.
type PassRunner interface {
	RunPass(ctx context.Context, userID string) (ingest.Summary, error)
	RunAll(ctx context.Context) (ingest.Summary, error)
}

type SyncRequest struct {
	Provider string `json:"provider"`
	Query    string `json:"query,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

type RunnerPassRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type AppDeps struct {
	Store       *storage.Store
	Runner      PassRunner
	Retriever   Searcher
	Vectors     retrieval.VectorStore
	Settings    *settings.Manager
	Token       string
	DefaultUser string
}

// NewAppHandler returns the HTTP surface consumed by the CLI and by the cron
// jobs that drive scheduled syncs. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sync", handleQueueSync(deps))
		r.Post("/runner/pass", handleRunnerPass(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/summary", handleSummary(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Get("/contacts", handleListContacts(deps))
		r.Get("/contacts/{id}", handleGetContact(deps))
		r.Post("/search", handleSearch(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQueueSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Provider == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provider is required")
			return
		}

		userID := resolveUser(deps, req.UserID)
		jobID, batchID, err := pipeline.EnqueueSync(deps.Store, userID, req.Provider, req.Query)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue sync: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"job_id":   jobID,
			"batch_id": batchID,
			"status":   "queued",
		})
	}
}

func handleRunnerPass(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// The body is optional; an empty one means "all users".
		var req RunnerPassRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			sum ingest.Summary
			err error
		)
		if req.UserID == "" {
			sum, err = deps.Runner.RunAll(r.Context())
		} else {
			sum, err = deps.Runner.RunPass(r.Context(), req.UserID)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "queue pass failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sum)
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		status := r.URL.Query().Get("status")
		batch := r.URL.Query().Get("batch")
		userID := resolveUser(deps, r.URL.Query().Get("user_id"))

		jobs, err := deps.Store.ListJobs(userID, status, batch, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		if jobs == nil {
			jobs = []storage.Job{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jobs)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := resolveUser(deps, r.URL.Query().Get("user_id"))

		jobs, err := deps.Store.CountJobsByStatus(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		raws, err := deps.Store.CountRawRecords(userID, "")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count raw records: %v", err)
			return
		}
		interactions, err := deps.Store.CountInteractions(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count interactions: %v", err)
			return
		}
		contacts, err := deps.Store.CountContacts(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count contacts: %v", err)
			return
		}
		vectors, err := deps.Vectors.Count(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count vectors: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jobs":         jobs,
			"raw_records":  raws,
			"interactions": interactions,
			"contacts":     contacts,
			"vectors":      vectors,
		})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		userID := resolveUser(deps, r.URL.Query().Get("user_id"))

		interactions, err := deps.Store.ListInteractions(userID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

func handleGetInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interaction)
	}
}

func handleListContacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		userID := resolveUser(deps, r.URL.Query().Get("user_id"))

		contacts, err := deps.Store.ListContacts(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list contacts: %v", err)
			return
		}
		if contacts == nil {
			contacts = []storage.Contact{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(contacts)
	}
}

func handleGetContact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		contact, err := deps.Store.GetContact(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "contact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get contact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(contact)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 10
		}
		if topK > 50 {
			topK = 50
		}

		userID := resolveUser(deps, req.UserID)
		matches, err := deps.Retriever.Search(r.Context(), userID, req.Query, topK)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if matches == nil {
			matches = []retrieval.Match{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(matches)
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := resolveUser(deps, r.URL.Query().Get("user_id"))

		all, err := deps.Settings.All(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		if all == nil {
			all = map[string]string{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(all)
	}
}

func handlePatchSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		userID := resolveUser(deps, r.URL.Query().Get("user_id"))
		for key, value := range fields {
			if err := deps.Settings.Set(userID, key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set %q: %v", key, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

// resolveUser falls back to the configured single-tenant user when a request
// does not name one.
func resolveUser(deps AppDeps, requested string) string {
	if requested != "" {
		return requested
	}
	return deps.DefaultUser
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
