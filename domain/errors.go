package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a referenced board, column, card or member does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates that the acting user lacks membership (or admin rights) on the board.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidationFailed indicates a missing or malformed input field.
	ErrValidationFailed = errors.New("validation failed")
	// ErrRemoteWriteFailed indicates that the remote gateway rejected or lost an
	// operation that had already been applied optimistically.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the board is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidationFailed)
}

func unauthorized(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUnauthorized)
}
