package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayClient talks to the provider sync gateway over HTTP. The gateway
// wraps each upstream provider's API behind one listing endpoint.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway creates a GatewayClient targeting the given base URL.
func NewGateway(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// ListItemsSince fetches one page of items for the provider, newest window
// first requested via since and continued via pageToken. query is the
// provider-specific filter expression, empty for everything. A 401/403/404/410
// from the gateway becomes a CredentialError; other failures are transient.
func (c *GatewayClient) ListItemsSince(ctx context.Context, accessToken, provider string, since time.Time, query, pageToken string) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	if query != "" {
		q.Set("query", query)
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	endpoint := fmt.Sprintf("%s/v1/%s/items?%s", c.baseURL, url.PathEscape(provider), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("listing %s items: %w", provider, err)
	}
	defer resp.Body.Close()

	if credentialStatus(resp.StatusCode) {
		return Page{}, &CredentialError{Provider: provider, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("list %s items: unexpected status %d", provider, resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decoding list response: %w", err)
	}
	return page, nil
}
