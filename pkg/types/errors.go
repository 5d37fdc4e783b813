package types

import "errors"

// Normalization and pipeline sentinel errors.
var (
	// ErrMissingUser is returned when a record's user reference is absent
	// or cannot be resolved to a user ID
	ErrMissingUser = errors.New("missing or unresolvable user reference")

	// ErrInvalidTimestamp is returned when a record's timestamp field is
	// absent or cannot be parsed
	ErrInvalidTimestamp = errors.New("invalid or missing timestamp")

	// ErrUnknownStream is returned for a stream kind outside the three
	// known streams
	ErrUnknownStream = errors.New("unknown stream kind")
)
