// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package smierr defines the closed error taxonomy shared by the
// registry, the engines, and the device backends.
//
// Every error that crosses a package boundary is an [*Error] carrying
// a [Kind]. Callers branch on the kind with errors.Is against the
// sentinel values ([ErrNotFound], [ErrPermissionDenied], ...) or with
// [KindOf]; the wrapped error keeps the human-readable detail and the
// original cause for errors.As.
package smierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so that callers can make programmatic
// decisions (fall back, re-enumerate, give up) without parsing text.
type Kind string

const (
	// KindNotInitialized means the registry has not been initialized,
	// or has been shut down since.
	KindNotInitialized Kind = "not_initialized"

	// KindInvalidArgument covers null or foreign handles, out-of-range
	// enum values, and malformed input.
	KindInvalidArgument Kind = "invalid_argument"

	// KindNotFound means a handle or lookup key names nothing live.
	KindNotFound Kind = "not_found"

	// KindNotSupported means the feature is absent on this device or
	// device class.
	KindNotSupported Kind = "not_supported"

	// KindPermissionDenied means the collaborator refused the query for
	// lack of privilege. The partition resolver falls back on it.
	KindPermissionDenied Kind = "permission_denied"

	// KindInsufficientSize means a caller-provided buffer cannot hold
	// the result.
	KindInsufficientSize Kind = "insufficient_size"

	// KindDriverError is a collaborator failure not otherwise
	// classified: I/O errors, library failures, ioctl errors.
	KindDriverError Kind = "driver_error"

	// KindUnexpectedData means a collaborator returned a value outside
	// an expected enumeration.
	KindUnexpectedData Kind = "unexpected_data"
)

// Error is a categorized error. Use the kind-specific constructors
// rather than building one directly.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Err carries the message and the underlying cause, if any.
	Err error
}

// Error returns the underlying message. The kind travels separately.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This makes
// errors.Is(err, smierr.ErrNotFound) match any not-found error
// regardless of its message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinels for errors.Is. Only the Kind of a sentinel is significant.
var (
	ErrNotInitialized   = &Error{Kind: KindNotInitialized, Err: errors.New("not initialized")}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument, Err: errors.New("invalid argument")}
	ErrNotFound         = &Error{Kind: KindNotFound, Err: errors.New("not found")}
	ErrNotSupported     = &Error{Kind: KindNotSupported, Err: errors.New("not supported")}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Err: errors.New("permission denied")}
	ErrInsufficientSize = &Error{Kind: KindInsufficientSize, Err: errors.New("insufficient size")}
	ErrDriver           = &Error{Kind: KindDriverError, Err: errors.New("driver error")}
	ErrUnexpectedData   = &Error{Kind: KindUnexpectedData, Err: errors.New("unexpected data")}
)

// New creates an error of the given kind. The format string may use
// %w to wrap a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NotInitialized creates a not-initialized error.
func NotInitialized(format string, args ...any) *Error {
	return New(KindNotInitialized, format, args...)
}

// InvalidArgument creates an invalid-argument error.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// NotSupported creates a not-supported error.
func NotSupported(format string, args ...any) *Error {
	return New(KindNotSupported, format, args...)
}

// PermissionDenied creates a permission-denied error.
func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

// InsufficientSize creates an insufficient-size error.
func InsufficientSize(format string, args ...any) *Error {
	return New(KindInsufficientSize, format, args...)
}

// Driver creates a driver error.
func Driver(format string, args ...any) *Error {
	return New(KindDriverError, format, args...)
}

// UnexpectedData creates an unexpected-data error.
func UnexpectedData(format string, args ...any) *Error {
	return New(KindUnexpectedData, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindDriverError for any other non-nil error. Returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}
	return KindDriverError
}
