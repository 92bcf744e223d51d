package store

import (
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
)

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a point lookup miss.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeValidation indicates malformed input.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConflict indicates a stale sync completion. Backends log it and
	// do not return it.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStorage indicates an engine I/O or constraint failure.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeConnection indicates the engine could not be reached.
	ErrCodeConnection ErrorCode = "CONNECTION"

	// ErrCodeMigration indicates the schema could not be brought up to date.
	// The store is unusable.
	ErrCodeMigration ErrorCode = "MIGRATION"
)

// Error is the error type returned by every backend.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the failing operation, e.g. "upsert payment".
	Op string

	// Key identifies the entity involved, if any.
	Key string

	// Message is a human-readable description when there is no cause.
	Message string

	// Retryable marks transient engine failures (busy, serialization).
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s): %s", e.Code, e.Op, e.Key, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewNotFound creates a NotFound error.
func NewNotFound(op, key string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Key: key, Message: "not found"}
}

// NewValidation creates a Validation error around err.
func NewValidation(op, key string, err error) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Key: key, Err: err}
}

// NewStorage wraps an engine failure. Errors that are already *Error pass
// through unchanged.
func NewStorage(op, key string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: ErrCodeStorage, Op: op, Key: key, Err: err}
}

// NewMigration wraps a migration failure.
func NewMigration(err error) *Error {
	return &Error{Code: ErrCodeMigration, Op: "migrate", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsValidation reports whether err is a Validation error. A bare
// *model.ValidationError also counts.
func IsValidation(err error) bool {
	if CodeOf(err) == ErrCodeValidation {
		return true
	}
	var ve *model.ValidationError
	return errors.As(err, &ve)
}

// IsMigration reports whether err is a fatal migration failure.
func IsMigration(err error) bool {
	return CodeOf(err) == ErrCodeMigration
}

// IsRetryable reports whether the caller may retry the same call.
func IsRetryable(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == ErrCodeConnection || se.Retryable
}
