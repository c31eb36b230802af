package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halwer/rolo/internal/pipeline"
	"github.com/halwer/rolo/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       *storage.Store
	Retriever   Searcher
	DefaultUser string
}

// NewMCPServer creates an MCP server exposing the CRM to assistants: search
// over synced interactions, contact lookup, and sync approval. Single-tenant,
// so every tool operates as the configured default user.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rolo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rolo — personal CRM over synced email and calendar. Search interactions, look up contacts, and queue provider syncs."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_interactions",
			mcp.WithDescription("Semantically search synced interactions (emails, calendar events) and return the most relevant matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchInteractions(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_contact",
			mcp.WithDescription("Look up a contact by email address."),
			mcp.WithString("email", mcp.Description("Email address of the contact"), mcp.Required()),
		),
		mcpLookupContact(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_sync",
			mcp.WithDescription("Queue a background sync for one provider. Returns the job and batch ids."),
			mcp.WithString("provider", mcp.Description("Provider to sync, e.g. gmail or gcal"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Optional provider-side filter, e.g. a Gmail search expression")),
		),
		mcpQueueSync(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"crm://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 synced interactions (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchInteractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Retriever.Search(ctx, deps.DefaultUser, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpLookupContact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}

		contact, err := deps.Store.GetContactByEmail(deps.DefaultUser, email)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no contact with email %s", email)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(contact)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal contact: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpQueueSync(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		providerName, err := req.RequireString("provider")
		if err != nil {
			return mcpError("provider is required"), nil
		}
		query := req.GetString("query", "")

		jobID, batchID, err := pipeline.EnqueueSync(deps.Store, deps.DefaultUser, providerName, query)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue sync: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued %s sync: job %s, batch %s", providerName, jobID, batchID)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.ListInteractions(deps.DefaultUser, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list interactions: %w", err)
		}

		type interactionSummary struct {
			ID         string `json:"id"`
			Source     string `json:"source"`
			Kind       string `json:"kind"`
			Subject    string `json:"subject"`
			OccurredAt string `json:"occurred_at"`
			Excerpt    string `json:"excerpt,omitempty"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			excerpt := ix.Excerpt
			if utf8.RuneCountInString(excerpt) > 200 {
				runes := []rune(excerpt)
				excerpt = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:         ix.ID,
				Source:     ix.Source,
				Kind:       ix.Kind,
				Subject:    ix.Subject,
				OccurredAt: ix.OccurredAt.Format(time.RFC3339),
				Excerpt:    excerpt,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
