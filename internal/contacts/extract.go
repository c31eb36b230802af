package contacts

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// Identity is a cleaned-up participant ready to be merged into the contact
// book. Email is always set and lower-cased; Name and Phone may be empty.
type Identity struct {
	Email string
	Name  string
	Phone string
}

type participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

// Extract parses an interaction's participants into identities. Participants
// without a parseable email address are dropped; the email is the merge key
// and nothing useful can be done without one. Phones are normalized to E.164
// using defaultRegion for national-format numbers, and silently dropped when
// invalid. Repeats of the same address are folded into one identity.
func Extract(participantsJSON, defaultRegion string) ([]Identity, error) {
	if strings.TrimSpace(participantsJSON) == "" {
		return nil, nil
	}

	var participants []participant
	if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
		return nil, fmt.Errorf("parsing participants: %w", err)
	}

	var out []Identity
	index := make(map[string]int)
	for _, p := range participants {
		addr, err := mail.ParseAddress(strings.TrimSpace(p.Email))
		if err != nil {
			continue
		}

		id := Identity{
			Email: strings.ToLower(addr.Address),
			Name:  strings.TrimSpace(p.Name),
			Phone: normalizePhone(p.Phone, defaultRegion),
		}
		if id.Name == "" {
			id.Name = strings.TrimSpace(addr.Name)
		}

		if i, seen := index[id.Email]; seen {
			if out[i].Name == "" {
				out[i].Name = id.Name
			}
			if out[i].Phone == "" {
				out[i].Phone = id.Phone
			}
			continue
		}
		index[id.Email] = len(out)
		out = append(out, id)
	}
	return out, nil
}

// normalizePhone returns the E.164 form of raw, or "" if it does not parse
// as a valid number for the region.
func normalizePhone(raw, defaultRegion string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := libphonenumber.Parse(raw, defaultRegion)
	if err != nil {
		return ""
	}
	if !libphonenumber.IsValidNumber(num) {
		return ""
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}
