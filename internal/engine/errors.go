package engine

import (
	"errors"
	"fmt"
)

// Error is the structured error returned across the engine boundary.
//
// Error includes structured fields for diagnostics. Err holds the original
// cause and is exposed through Unwrap, so errors.Is/As keep working on driver
// and transport errors.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failing operation (e.g. "add node", "persist").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInitFailed indicates the engine could not be created or opened.
	ErrCodeInitFailed ErrorCode = "INIT_FAILED"

	// ErrCodeQueryFailed indicates a malformed statement or a constraint violation.
	ErrCodeQueryFailed ErrorCode = "QUERY_FAILED"

	// ErrCodeTxMisuse indicates begin-while-active or commit/rollback-without-active.
	ErrCodeTxMisuse ErrorCode = "TX_MISUSE"

	// ErrCodeSerialization indicates a property value could not be encoded.
	ErrCodeSerialization ErrorCode = "SERIALIZATION_FAILED"

	// ErrCodeBackupNotFound indicates a restore was given an unknown identifier.
	ErrCodeBackupNotFound ErrorCode = "BACKUP_NOT_FOUND"

	// ErrCodeStorageExhausted indicates the blob store stayed full after pruning.
	ErrCodeStorageExhausted ErrorCode = "STORAGE_EXHAUSTED"

	// ErrCodeNotFound indicates an update or lookup of an unknown entity.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeClosed indicates an operation on a closed engine.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error without an underlying cause.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around cause. If cause is already an *Error it is
// returned unchanged so the innermost code wins.
func Wrap(code ErrorCode, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return cause
	}
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode returns true if err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound returns true for NOT_FOUND errors.
func IsNotFound(err error) bool { return IsCode(err, ErrCodeNotFound) }

// IsTxMisuse returns true for TX_MISUSE errors.
func IsTxMisuse(err error) bool { return IsCode(err, ErrCodeTxMisuse) }

// IsBackupNotFound returns true for BACKUP_NOT_FOUND errors.
func IsBackupNotFound(err error) bool { return IsCode(err, ErrCodeBackupNotFound) }

// IsSerialization returns true for SERIALIZATION_FAILED errors.
func IsSerialization(err error) bool { return IsCode(err, ErrCodeSerialization) }

// IsStorageExhausted returns true for STORAGE_EXHAUSTED errors.
func IsStorageExhausted(err error) bool { return IsCode(err, ErrCodeStorageExhausted) }

// IsClosed returns true for CLOSED errors.
func IsClosed(err error) bool { return IsCode(err, ErrCodeClosed) }
