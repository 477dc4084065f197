package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/rental-broker/internal/persistence"
)

var (
	// ErrNotFound is returned when the requested resource does not exist or is hidden from the actor.
	ErrNotFound = errors.New("application: not found")
	// ErrForbidden is returned when the acting principal lacks permission for an operation.
	ErrForbidden = errors.New("application: forbidden")
	// ErrInvalidState is returned when the resource is not in a status that admits the operation.
	ErrInvalidState = errors.New("application: invalid state")
	// ErrIncompleteListing is matched by *IncompleteListingError.
	ErrIncompleteListing = errors.New("application: incomplete listing")
	// ErrInvalidSlots is returned when a viewing proposal is malformed.
	ErrInvalidSlots = errors.New("application: invalid slots")
	// ErrInvalidSlotSelection is returned when the chosen slot is not one of the proposed slots.
	ErrInvalidSlotSelection = errors.New("application: invalid slot selection")
	// ErrAlreadyExists is returned when a unique attribute is taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionExpired is returned when a session is past its expiry.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrSessionRevoked is returned when a session was explicitly revoked.
	ErrSessionRevoked = errors.New("application: session revoked")
	// ErrRateLimited is returned when the caller exceeded the attempt budget.
	ErrRateLimited = errors.New("application: rate limited")
)

// IncompleteListingError lists the required fields a listing still lacks.
type IncompleteListingError struct {
	Missing []string
}

func (e *IncompleteListingError) Error() string {
	if e == nil || len(e.Missing) == 0 {
		return ErrIncompleteListing.Error()
	}
	return fmt.Sprintf("%s: missing %s", ErrIncompleteListing.Error(), strings.Join(e.Missing, ", "))
}

// Is lets errors.Is match ErrIncompleteListing.
func (e *IncompleteListingError) Is(target error) bool {
	return target == ErrIncompleteListing
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d field(s)", len(v.FieldErrors))
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error. The first message per field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// mapRepoError translates persistence failures into application kinds.
// Anything unrecognised is wrapped and passed through.
func mapRepoError(err error, operation string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrStaleState):
		return ErrInvalidState
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
