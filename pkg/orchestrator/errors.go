// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure the way the Control Surface (C9) reports
// it to callers, independent of any transport.
type ErrorKind int

const (
	// KindInternal covers store/queue/event-bus failures. Retryable by the
	// caller at their discretion.
	KindInternal ErrorKind = iota
	// KindNotFound covers a missing project context, history, or failure
	// record, or a workspace mismatch.
	KindNotFound
	// KindConflict covers an active pipeline on start, an illegal state for
	// pause/resume, or an invalid transition target.
	KindConflict
	// KindBadRequest covers malformed input: unknown action, incompatible
	// reassignment target, out-of-range parameters.
	KindBadRequest
	// KindInvalidTransition is the Conflict subtype that carries (from, to)
	// for diagnostics.
	KindInvalidTransition
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindInvalidTransition:
		return "invalid_transition"
	default:
		return "internal"
	}
}

// Error is the single error type every core operation returns. It is never
// panicked; callers switch on Kind().
type Error struct {
	kind    ErrorKind
	message string
	from    State // only meaningful for KindInvalidTransition
	to      State
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Transition returns the (from, to) pair for a KindInvalidTransition error.
func (e *Error) Transition() (State, State) { return e.from, e.to }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), cause: cause}
}

// ErrNotFound builds a KindNotFound error.
func ErrNotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// ErrConflict builds a KindConflict error.
func ErrConflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// ErrBadRequest builds a KindBadRequest error.
func ErrBadRequest(format string, args ...any) *Error {
	return newError(KindBadRequest, format, args...)
}

// ErrInternal wraps a lower-level failure as KindInternal.
func ErrInternal(cause error, format string, args ...any) *Error {
	return wrapError(KindInternal, cause, format, args...)
}

// ErrInvalidTransition builds the (from, to)-carrying Conflict subtype.
func ErrInvalidTransition(from, to State) *Error {
	return &Error{
		kind:    KindInvalidTransition,
		message: fmt.Sprintf("cannot transition from %q to %q", from, to),
		from:    from,
		to:      to,
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind()
	}
	return KindInternal
}
