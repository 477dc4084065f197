package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate")
	// ErrConstraintViolation is returned when a CHECK or foreign key constraint rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrStaleState is returned when a conditional update found the row in a
	// different status than the caller expected.
	ErrStaleState = errors.New("persistence: stale state")
	// ErrUnknownEnum is returned when a stored status or role is outside its closed set.
	ErrUnknownEnum = errors.New("persistence: unknown enum value")
)
