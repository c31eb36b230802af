package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenSource provides short-lived provider access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context, userID, provider string) (string, error)
}

// VaultClient fetches provider access tokens from the credential vault. The
// vault holds the OAuth grants; tokens it mints expire quickly, so they are
// cached here until shortly before expiry.
type VaultClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedToken
	now   func() time.Time
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// expiryMargin is how long before expiry a cached token stops being used.
const expiryMargin = 30 * time.Second

// NewVault creates a VaultClient targeting the given base URL, authenticating
// with apiToken.
func NewVault(baseURL, apiToken string) *VaultClient {
	return &VaultClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 0,
		},
		cache: make(map[string]cachedToken),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessToken returns a valid access token for the user's provider grant,
// from cache when possible. A 401/403/404/410 from the vault means the grant
// is gone and becomes a CredentialError.
func (c *VaultClient) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	key := userID + "/" + provider

	c.mu.Lock()
	if tok, ok := c.cache[key]; ok && c.now().Before(tok.expiresAt.Add(-expiryMargin)) {
		c.mu.Unlock()
		return tok.value, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/tokens/%s/%s", c.baseURL, userID, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %s token: %w", provider, err)
	}
	defer resp.Body.Close()

	if credentialStatus(resp.StatusCode) {
		return "", &CredentialError{Provider: provider, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token %s: unexpected status %d", provider, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token %s: empty access token", provider)
	}

	c.mu.Lock()
	c.cache[key] = cachedToken{value: tr.AccessToken, expiresAt: tr.ExpiresAt}
	c.mu.Unlock()

	return tr.AccessToken, nil
}
