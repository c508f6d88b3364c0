package httpapi

import (
	"net/url"
	"strings"
	"unicode"
)

// IsInternalPath accepts only same-origin absolute paths: a single leading slash, no
// scheme or host, no backslash tricks and no control characters.
func IsInternalPath(raw string) bool {
	if raw == "" || raw[0] != '/' {
		return false
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return false
	}
	for _, r := range raw {
		if unicode.IsControl(r) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}
