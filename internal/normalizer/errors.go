package normalizer

import (
	"errors"
	"fmt"
)

// Reasons a raw entry is rejected.
var (
	ErrMissingTitle = errors.New("missing title")
	ErrMissingPrice = errors.New("missing price")
	ErrInvalidPrice = errors.New("invalid price")
	ErrMissingURL   = errors.New("missing url")
	ErrInvalidURL   = errors.New("invalid url")
)

// MalformedRecordError reports a single raw entry that was skipped.
type MalformedRecordError struct {
	Index  int
	Reason error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("raw product %d: %v", e.Index, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Reason }
