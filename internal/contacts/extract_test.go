package contacts

import (
	"testing"
)

func TestExtract_ParsesParticipants(t *testing.T) {
	input := `[
		{"email": "Ana.Lima@Example.com", "name": "Ana Lima", "role": "from"},
		{"email": "Bo Chen <bo@example.com>", "role": "to"}
	]`

	got, err := Extract(input, "US")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d identities, want 2", len(got))
	}

	if got[0].Email != "ana.lima@example.com" {
		t.Errorf("Email = %q, want lower-cased", got[0].Email)
	}
	if got[0].Name != "Ana Lima" {
		t.Errorf("Name = %q, want %q", got[0].Name, "Ana Lima")
	}

	// Display name recovered from the address form when the name field is empty.
	if got[1].Email != "bo@example.com" {
		t.Errorf("Email = %q, want %q", got[1].Email, "bo@example.com")
	}
	if got[1].Name != "Bo Chen" {
		t.Errorf("Name = %q, want %q", got[1].Name, "Bo Chen")
	}
}

func TestExtract_DropsParticipantsWithoutEmail(t *testing.T) {
	input := `[
		{"name": "No Address", "phone": "+16502530000"},
		{"email": "not-an-email"},
		{"email": "ok@example.com"}
	]`

	got, err := Extract(input, "US")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d identities, want 1", len(got))
	}
	if got[0].Email != "ok@example.com" {
		t.Errorf("Email = %q, want %q", got[0].Email, "ok@example.com")
	}
}

func TestExtract_FoldsRepeatedAddresses(t *testing.T) {
	input := `[
		{"email": "dee@example.com", "role": "from"},
		{"email": "DEE@example.com", "name": "Dee Park", "phone": "(650) 253-0000", "role": "cc"}
	]`

	got, err := Extract(input, "US")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d identities, want 1", len(got))
	}
	if got[0].Name != "Dee Park" {
		t.Errorf("Name = %q, want filled from second sighting", got[0].Name)
	}
	if got[0].Phone != "+16502530000" {
		t.Errorf("Phone = %q, want %q", got[0].Phone, "+16502530000")
	}
}

func TestExtract_NormalizesPhones(t *testing.T) {
	tests := []struct {
		raw    string
		region string
		want   string
	}{
		{"+1 650-253-0000", "US", "+16502530000"},
		{"(650) 253-0000", "US", "+16502530000"},
		{"011 91 11 2419 8000", "US", "+911124198000"},
		{"12", "US", ""},
		{"not a phone", "US", ""},
		{"", "US", ""},
	}
	for _, tt := range tests {
		if got := normalizePhone(tt.raw, tt.region); got != tt.want {
			t.Errorf("normalizePhone(%q, %q) = %q, want %q", tt.raw, tt.region, got, tt.want)
		}
	}
}

func TestExtract_InvalidPhoneKeepsIdentity(t *testing.T) {
	input := `[{"email": "ed@example.com", "phone": "banana"}]`

	got, err := Extract(input, "US")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d identities, want 1", len(got))
	}
	if got[0].Phone != "" {
		t.Errorf("Phone = %q, want empty for unparseable number", got[0].Phone)
	}
}

func TestExtract_EmptyAndMalformed(t *testing.T) {
	if got, err := Extract("", "US"); err != nil || len(got) != 0 {
		t.Errorf("Extract(\"\") = %v, %v; want empty, nil", got, err)
	}
	if got, err := Extract("[]", "US"); err != nil || len(got) != 0 {
		t.Errorf("Extract([]) = %v, %v; want empty, nil", got, err)
	}
	if _, err := Extract("{broken", "US"); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
