package decode

import (
	"strings"
	"testing"
)

func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"hello"`, "hello"},
		{`"he said \"hi\""`, `he said \"hi\"`},
		{`plain`, "plain"},
		{`"`, `"`},
		{`""`, ""},
	}
	for _, tt := range tests {
		if got := Unquote(tt.in); got != tt.want {
			t.Errorf("Unquote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnescapeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`line1\nline2`, "line1\nline2"},
		{`tab\there`, "tab\there"},
		{`cr\rhere`, "cr\rhere"},
		{`back\\slash`, `back\slash`},
		{`quo\"te`, `quo"te`},
		{`dollar\$sign`, "dollar$sign"},
		{`unknown\zescape`, `unknown\zescape`},
		{`trailing\`, `trailing\`},
		{`no escapes`, "no escapes"},
	}
	for _, tt := range tests {
		if got := UnescapeString(tt.in); got != tt.want {
			t.Errorf("UnescapeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRawString(t *testing.T) {
	if got := RawString(`"hello\nworld"`); got != "hello\nworld" {
		t.Errorf("RawString = %q", got)
	}
	// Non-string output passes through.
	if got := RawString(`42`); got != "42" {
		t.Errorf("RawString = %q", got)
	}
}

func TestSentinelFields(t *testing.T) {
	raw := `"/nix/store/abc-templates/go@@@A Go project template@@@Welcome!\nEdit flake.nix to begin."`
	fields, err := SentinelFields(raw, 3)
	if err != nil {
		t.Fatalf("SentinelFields: %v", err)
	}
	if fields[0] != "/nix/store/abc-templates/go" {
		t.Errorf("path = %q", fields[0])
	}
	if fields[1] != "A Go project template" {
		t.Errorf("description = %q", fields[1])
	}
	if fields[2] != `Welcome!\nEdit flake.nix to begin.` {
		t.Errorf("welcome = %q", fields[2])
	}
}

func TestSentinelFieldsEmptyMiddle(t *testing.T) {
	fields, err := SentinelFields(`"/nix/store/x@@@@@@"`, 3)
	if err != nil {
		t.Fatalf("SentinelFields: %v", err)
	}
	if fields[0] != "/nix/store/x" || fields[1] != "" || fields[2] != "" {
		t.Errorf("fields = %q", fields)
	}
}

func TestSentinelFieldsKeepsTrailingSentinels(t *testing.T) {
	// The last field may contain the separator.
	fields, err := SentinelFields(`"p@@@d@@@see @@@ marks"`, 3)
	if err != nil {
		t.Fatalf("SentinelFields: %v", err)
	}
	if fields[2] != "see @@@ marks" {
		t.Errorf("welcome = %q", fields[2])
	}
}

func TestSentinelFieldsUnescapesQuotes(t *testing.T) {
	fields, err := SentinelFields(`"p@@@say \"hi\"@@@w"`, 3)
	if err != nil {
		t.Fatalf("SentinelFields: %v", err)
	}
	if fields[1] != `say "hi"` {
		t.Errorf("description = %q", fields[1])
	}
}

func TestSentinelFieldsTooFew(t *testing.T) {
	_, err := SentinelFields(`"only@@@two"`, 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unexpected field count: got 2, want 3") {
		t.Errorf("unexpected error: %v", err)
	}
}

// encodeSentinel builds the payload the way nix-instantiate prints the
// synthesized template string: fields joined by the sentinel, quotes
// and backslashes escaped, one surrounding quote layer.
func encodeSentinel(fields []string) string {
	joined := strings.Join(fields, Sentinel)
	joined = strings.ReplaceAll(joined, `\`, `\\`)
	joined = strings.ReplaceAll(joined, `"`, `\"`)
	return `"` + joined + `"`
}

func TestSentinelFieldsInvertsEncoding(t *testing.T) {
	cases := [][]string{
		{"/nix/store/abc-templates/trivial", "A trivial template", "Welcome aboard"},
		{"/nix/store/x", "", ""},
		{`C:\not\a\store\path`, `say "hi"`, `back\slash "and" quote`},
		{"/nix/store/y", "mid", "the last field keeps @@@ intact"},
	}
	for _, fields := range cases {
		got, err := SentinelFields(encodeSentinel(fields), 3)
		if err != nil {
			t.Fatalf("SentinelFields(%q): %v", fields, err)
		}
		for i := range fields {
			if got[i] != fields[i] {
				t.Errorf("field %d = %q, want %q", i, got[i], fields[i])
			}
		}
	}
}

func TestJSONDecodes(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	if err := JSON(`{"name": "demo"}`, &v); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if v.Name != "demo" {
		t.Errorf("name = %q", v.Name)
	}

	if err := JSON(`{broken`, &v); err == nil {
		t.Error("expected error for invalid JSON")
	} else if !strings.Contains(err.Error(), "parsing evaluator output") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBool(t *testing.T) {
	if !Bool("true\n") {
		t.Error("Bool(true) = false")
	}
	if Bool("false") || Bool("") || Bool("1") {
		t.Error("non-true values should decode to false")
	}
}
