package domain

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a caller error: a malformed or missing required
// field. It is never retried.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// NotFoundError reports that no version chain exists for a matrix identifier.
type NotFoundError struct {
	MatrixID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no audit history for matrix %s", e.MatrixID)
}

// StorageUnavailableError reports that the persistence collaborator failed or
// timed out. The failure is surfaced to the caller rather than retried
// internally: retrying an append blindly could double-increment versions when
// the first attempt actually committed.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e StorageUnavailableError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target InvalidInputError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsStorageUnavailable reports whether err is a StorageUnavailableError.
func IsStorageUnavailable(err error) bool {
	var target StorageUnavailableError
	return errors.As(err, &target)
}
