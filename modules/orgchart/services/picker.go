package services

import (
	"net/url"
	"strings"

	"github.com/iota-uz/orgchart/pkg/httpapi"
)

// SelectedUserParam carries the picked user back to the return destination.
const SelectedUserParam = "selectedUserId"

// IsInternalPath reports whether raw is safe to redirect to; see httpapi.IsInternalPath.
func IsInternalPath(raw string) bool {
	return httpapi.IsInternalPath(raw)
}

// SafeReturnPath returns raw when it is an internal path and fallback otherwise.
func SafeReturnPath(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if IsInternalPath(raw) {
		return raw
	}
	return fallback
}

// PickerRedirect appends selectedUserId to dest, keeping its query and fragment.
func PickerRedirect(dest, userID string) string {
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	q := u.Query()
	q.Set(SelectedUserParam, userID)
	u.RawQuery = q.Encode()
	return u.String()
}

// PickerSession is an active select-a-user flow.
type PickerSession struct {
	ReturnTo string
}
