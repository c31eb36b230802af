package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Participant is one person on a provider item: a sender, recipient, or
// calendar attendee.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Attachment is a file attached to a provider item. Data is base64 on the
// wire and may be empty when the gateway strips bodies over its size cap.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
}

// Item is one email or calendar event exactly as the provider returned it.
type Item struct {
	SourceID     string        `json:"source_id"`
	Kind         string        `json:"kind"`
	Subject      string        `json:"subject,omitempty"`
	BodyText     string        `json:"body_text,omitempty"`
	BodyHTML     string        `json:"body_html,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Attachments  []Attachment  `json:"attachments,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// Page is one window of a provider listing. An empty NextPageToken means the
// listing is complete.
type Page struct {
	Items         []Item `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// Client lists items from an upstream provider through the sync gateway.
type Client interface {
	ListItemsSince(ctx context.Context, accessToken, provider string, since time.Time, query, pageToken string) (Page, error)
}

// CredentialError means the upstream rejected our credentials: the grant was
// revoked, expired, or never existed. Retrying cannot help until the user
// reconnects the account.
type CredentialError struct {
	Provider string
	Status   int
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("provider %s rejected credentials (status %d)", e.Provider, e.Status)
}

// credentialStatus reports whether an HTTP status from the gateway or vault
// signals an unusable grant rather than a transient fault.
func credentialStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
