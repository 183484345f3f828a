package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is absent or logically expired.
	// Callers cannot (and should not) tell the two apart.
	ErrNotFound = errors.New("store: key not found or expired")

	// ErrValidation is the parent of every input validation failure.
	ErrValidation = errors.New("store: validation failed")

	// ErrInvalidKey is returned for empty or blank keys.
	ErrInvalidKey = fmt.Errorf("%w: key must not be blank", ErrValidation)

	// ErrInvalidTTL is returned when an operation requires a positive ttl or
	// the ttl is larger than MaxTTLSeconds.
	ErrInvalidTTL = fmt.Errorf("%w: ttl must be greater than 0 and at most %d seconds", ErrValidation, MaxTTLSeconds)

	// ErrUnavailable wraps connection-level failures of a remote backend.
	ErrUnavailable = errors.New("store: backend unavailable")
)
