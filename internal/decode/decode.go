// Package decode interprets evaluator output: JSON payloads, quoted nix
// string literals, and sentinel-joined multi-field payloads.
package decode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinel separates fields in string payloads built by the expression
// layer. Printable nix values never need the sequence, which keeps the
// protocol unambiguous for the leading fields.
const Sentinel = "@@@"

// Unquote strips one layer of surrounding double quotes, leaving the
// payload's own escapes intact.
func Unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// UnescapeString reverses the escape sequences of a printed nix string
// literal. Unknown escapes are preserved as written.
func UnescapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i == len(s)-1 {
			b.WriteByte('\\')
			break
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case '$':
			b.WriteByte('$')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// RawString converts evaluator stdout to the bare string value, the way
// --raw output is produced: a quoted literal loses its quotes and escape
// sequences, anything else passes through unchanged.
func RawString(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return UnescapeString(s[1 : len(s)-1])
	}
	return s
}

// SentinelFields decodes a string payload of n sentinel-joined fields.
// Only the first n-1 boundaries split, so the final field may itself
// contain the sentinel. Escaping is reversed in two passes, backslashes
// before quotes, mirroring how the literal was printed.
func SentinelFields(raw string, n int) ([]string, error) {
	s := Unquote(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = strings.ReplaceAll(s, `\"`, `"`)

	parts := strings.SplitN(s, Sentinel, n)
	if len(parts) < n {
		return nil, fmt.Errorf("unexpected field count: got %d, want %d", len(parts), n)
	}
	return parts, nil
}

// JSON decodes evaluator stdout produced with --json.
func JSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parsing evaluator output: %w", err)
	}
	return nil
}

// Bool interprets the output of a bare boolean evaluation.
func Bool(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}
