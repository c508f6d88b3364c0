package orggraph

import (
	"errors"
	"fmt"
)

// MalformedTreeError means the record forest violates the builder's preconditions.
// Callers must not render anything built from such input.
type MalformedTreeError struct {
	Reason   string
	RecordID string
}

func (e *MalformedTreeError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("malformed tree: %s", e.Reason)
	}
	return fmt.Sprintf("malformed tree: %s (record %s)", e.Reason, e.RecordID)
}

func malformed(reason, recordID string) *MalformedTreeError {
	return &MalformedTreeError{Reason: reason, RecordID: recordID}
}

func IsMalformedTree(err error) bool {
	var mt *MalformedTreeError
	return errors.As(err, &mt)
}
