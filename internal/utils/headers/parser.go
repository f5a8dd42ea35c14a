// Package headers parses "Key: Value" header flags.
package headers

import (
	"fmt"
	"net/textproto"
	"strings"
)

// Parse converts header lines into a map keyed by canonical header name.
// A later line for the same header wins. Lines without a colon or with an
// empty name are rejected.
func Parse(lines []string) (map[string]string, error) {
	m := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed header %q, want \"Name: value\"", line)
		}
		m[textproto.CanonicalMIMEHeaderKey(name)] = strings.TrimSpace(value)
	}
	return m, nil
}
