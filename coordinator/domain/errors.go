package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. The HTTP layer is the only translator from these to
// status codes (spec.md section 7); every other package returns errors
// wrapping one of these via fmt.Errorf("...: %w", ErrX).
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationErrorf wraps a formatted message as an ErrValidation.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// NotFoundErrorf wraps a formatted message as an ErrNotFound.
func NotFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// ConflictErrorf wraps a formatted message as an ErrConflict.
func ConflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}
