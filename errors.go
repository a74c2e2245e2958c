// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hearth

import (
	"errors"
	"fmt"
)

// Error is a structured failure from the room core. Callers use
// errors.As to extract the code:
//
//	var hearthErr *hearth.Error
//	if errors.As(err, &hearthErr) {
//	    if hearthErr.Code == hearth.ErrCodeForbidden { ... }
//	}
//
// The transport layer owns the mapping from Code to status codes;
// the core never emits HTTP semantics.
type Error struct {
	// Code is the machine-readable error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable description.
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("hearth: %s: %s", e.Code, e.Message)
}

// Error codes. Membership-insufficient and power-level-insufficient
// denials both surface as M_FORBIDDEN; callers are not told which
// check failed.
const (
	// ErrCodeNotFound: a referenced room, event, or purge job does
	// not exist on this server.
	ErrCodeNotFound = "M_NOT_FOUND"

	// ErrCodeForbidden: the requester's membership or power level
	// does not permit the operation.
	ErrCodeForbidden = "M_FORBIDDEN"

	// ErrCodeBadRequest: malformed token, filter, or event content.
	ErrCodeBadRequest = "M_INVALID_PARAM"

	// ErrCodeConflict: a purge is already active for the room.
	ErrCodeConflict = "M_CONFLICT"

	// ErrCodeInternal: persisted state is inconsistent (e.g., a
	// referenced parent event is missing). Logged in detail at the
	// failure site; surfaced generically. Never silently repaired.
	ErrCodeInternal = "M_UNKNOWN"
)

// NotFound returns a *Error with code M_NOT_FOUND.
func NotFound(format string, args ...any) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden returns a *Error with code M_FORBIDDEN.
func Forbidden(format string, args ...any) error {
	return &Error{Code: ErrCodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// BadRequest returns a *Error with code M_INVALID_PARAM.
func BadRequest(format string, args ...any) error {
	return &Error{Code: ErrCodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a *Error with code M_CONFLICT.
func Conflict(format string, args ...any) error {
	return &Error{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal returns a *Error with code M_UNKNOWN.
func Internal(format string, args ...any) error {
	return &Error{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// IsCode checks whether err is a *Error with the given code.
func IsCode(err error, code string) bool {
	var hearthErr *Error
	if errors.As(err, &hearthErr) {
		return hearthErr.Code == code
	}
	return false
}

// IsNotFound reports whether err carries M_NOT_FOUND.
func IsNotFound(err error) bool { return IsCode(err, ErrCodeNotFound) }

// IsForbidden reports whether err carries M_FORBIDDEN.
func IsForbidden(err error) bool { return IsCode(err, ErrCodeForbidden) }

// IsBadRequest reports whether err carries M_INVALID_PARAM.
func IsBadRequest(err error) bool { return IsCode(err, ErrCodeBadRequest) }

// IsConflict reports whether err carries M_CONFLICT.
func IsConflict(err error) bool { return IsCode(err, ErrCodeConflict) }
