package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p{color:red}</style><script>alert("x")</script></head>` +
		`<body><p>Hello <b>world</b></p><p>Second &amp; third</p></body></html>`
	got := htmlToText(in)

	if !strings.Contains(got, "Hello world") {
		t.Errorf("got %q, want the text content", got)
	}
	if !strings.Contains(got, "Second & third") {
		t.Errorf("got %q, want entities decoded", got)
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Errorf("got %q, script or style content leaked through", got)
	}
}

func TestHTMLToText_PlainString(t *testing.T) {
	// x/net/html parses anything, so plain text survives untouched.
	if got := htmlToText("just words"); got != "just words" {
		t.Errorf("got %q, want %q", got, "just words")
	}
}

func TestCollapseSpace(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a  b", "a b"},
		{"a\n\tb  \r\n c", "a b c"},
		{"  leading and trailing  ", "leading and trailing"},
		{"", ""},
	}
	for _, c := range cases {
		if got := collapseSpace(c.in); got != c.want {
			t.Errorf("collapseSpace(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 100); got != "short" {
		t.Errorf("got %q, want input unchanged", got)
	}

	got := truncateText("one two three four", 9)
	if len(got) > 9 {
		t.Errorf("len = %d, want <= 9", len(got))
	}
	if got != "one two" {
		t.Errorf("got %q, want cut at the word boundary", got)
	}
}

func TestTruncateText_NeverSplitsRune(t *testing.T) {
	s := strings.Repeat("é", 40) // two bytes per rune, no spaces
	for max := 1; max < len(s); max++ {
		got := truncateText(s, max)
		if len(got) > max {
			t.Fatalf("max=%d: len = %d", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("max=%d: produced invalid UTF-8", max)
		}
	}
}
