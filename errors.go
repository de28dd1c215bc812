// go-st25dv
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25dv.
//
// go-st25dv is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25dv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25dv; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package st25dv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Protocol errors. Every error returned by a Protocol matches one of these
// with errors.Is, except a wait ended by the caller's own context, which
// matches context.Canceled or context.DeadlineExceeded.
var (
	// ErrTagLost means the physical link is gone. It is never retried.
	ErrTagLost = errors.New("tag lost")
	// ErrLinkSecurity is reported by links when the platform revokes access
	// to the tag. It is handled like ErrTagLost.
	ErrLinkSecurity = errors.New("link security failure")
	// ErrLinkTimeout is reported by links when a single exchange timed out.
	ErrLinkTimeout = errors.New("link timeout")
	// ErrLinkFailure is any other link I/O error. It is retried locally.
	ErrLinkFailure = errors.New("link failure")
	// ErrPollTimeout means the mailbox never signalled a response.
	ErrPollTimeout = errors.New("mailbox poll timeout")
	// ErrWriteFailed means the tag kept rejecting a mailbox write.
	ErrWriteFailed = errors.New("mailbox write failed")
	// ErrMalformedResponse means a response did not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrCommandFailed means the tag answered with the error flag set.
	ErrCommandFailed = errors.New("command rejected by tag")
	// ErrMailboxUnavailable means the mailbox stayed disabled after a reset.
	ErrMailboxUnavailable = errors.New("mailbox unavailable")
	// ErrNotConnected means there is no usable connection to the tag.
	ErrNotConnected = errors.New("tag not connected")
	// ErrTagUnreachable means every connection attempt failed.
	ErrTagUnreachable = errors.New("tag unreachable")
	// ErrInvalidArgument means a caller supplied value is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorType categorizes errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent indicates a permanent error that should not be retried
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// String returns the error type name
func (t ErrorType) String() string {
	switch t {
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// ProtocolError carries the failing operation, the error kind and whatever
// diagnostics were available when the local retry budget ran out.
type ProtocolError struct {
	// Kind is one of the package sentinel errors.
	Kind error
	// Err is the underlying cause, if any.
	Err error
	// Op names the step that failed.
	Op string
	// Raw is the last raw response received from the tag.
	Raw []byte
	// Attempts is the number of attempts made before giving up.
	Attempts int
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("protocol error")
	}
	if e.Err != nil && !errors.Is(e.Kind, e.Err) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if len(e.Raw) > 0 {
		b.WriteString(" [last response 0x")
		b.WriteString(strings.ToUpper(hex.EncodeToString(e.Raw)))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ProtocolError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newProtocolError(op string, kind, cause error) *ProtocolError {
	return &ProtocolError{Op: op, Kind: kind, Err: cause}
}

// withAttempts records the attempt count on a protocol error. Any other
// error except a context error becomes an ErrLinkFailure.
func withAttempts(err error, op string, attempts int) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		annotated := *pe
		annotated.Attempts = attempts
		return &annotated
	}
	if isContextError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
	}
	return &ProtocolError{Op: op, Kind: ErrLinkFailure, Err: err, Attempts: attempts}
}

// linkError types an error reported by a link exchange
func linkError(op string, err error) error {
	switch {
	case isContextError(err):
		return fmt.Errorf("%s: %w", op, err)
	case isTagGone(err):
		return newProtocolError(op, ErrTagLost, err)
	case errors.Is(err, ErrLinkTimeout):
		return newProtocolError(op, ErrLinkTimeout, err)
	default:
		return newProtocolError(op, ErrLinkFailure, err)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isTagGone reports whether err means the physical tag has left the field.
func isTagGone(err error) bool {
	return errors.Is(err, ErrTagLost) || errors.Is(err, ErrLinkSecurity)
}

// GetErrorType returns the error type for retry decisions. Unknown errors
// are link level I/O failures and count as transient.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	switch {
	case isContextError(err):
		return ErrorTypePermanent
	case isTagGone(err),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrMailboxUnavailable),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrTagUnreachable):
		return ErrorTypePermanent
	case errors.Is(err, ErrPollTimeout), errors.Is(err, ErrLinkTimeout):
		return ErrorTypeTimeout
	default:
		return ErrorTypeTransient
	}
}

// IsRetryable reports whether an error may succeed on another attempt.
// ErrPollTimeout is retryable at the caller's discretion; the protocol
// never retries a whole transfer itself.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return GetErrorType(err) != ErrorTypePermanent
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}
