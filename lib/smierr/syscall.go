// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package smierr

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// FromSyscall classifies an error from a file, ioctl, or library call
// by its errno and wraps it with the given context. An error that is
// already categorized keeps its kind.
//
//	EACCES, EPERM                  -> KindPermissionDenied
//	ENOENT, ENODEV, EOPNOTSUPP,
//	ENOTSUP, ENOTTY                -> KindNotSupported
//	anything else                  -> KindDriverError
func FromSyscall(err error, format string, args ...any) *Error {
	context := fmt.Sprintf(format, args...)

	var categorized *Error
	if errors.As(err, &categorized) {
		return &Error{Kind: categorized.Kind, Err: fmt.Errorf("%s: %w", context, err)}
	}

	kind := KindDriverError
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM), errors.Is(err, fs.ErrPermission):
		kind = KindPermissionDenied
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOTSUP),
		errors.Is(err, unix.ENOTTY), errors.Is(err, fs.ErrNotExist):
		kind = KindNotSupported
	}
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", context, err)}
}
