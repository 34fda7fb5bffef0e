package source

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a local input path does not exist or resolved empty.
	ErrNotFound = errors.New("input file not found")
	// ErrForbidden means a local input path lies outside the allowed roots.
	ErrForbidden = errors.New("input file not permitted")
)

// FetchError represents a failed remote input download.
type FetchError struct {
	Source     string // sanitised
	StatusCode int    // 0 when no HTTP response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true for server errors (5xx) and transport errors.
// Client errors (4xx) are considered permanent.
func (e *FetchError) IsRetryable() bool {
	if e.StatusCode != 0 {
		return e.StatusCode >= 500
	}
	for _, permanent := range []error{errTooLarge, errObjectMissing, errBadSource, errLocalWrite} {
		if errors.Is(e.Err, permanent) {
			return false
		}
	}
	return true
}

var (
	errTooLarge      = errors.New("input exceeds maximum size")
	errObjectMissing = errors.New("object does not exist")
	errBadSource     = errors.New("malformed input source")
	errLocalWrite    = errors.New("cannot write input file")
)
