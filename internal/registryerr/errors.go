// Package registryerr defines the error taxonomy shared by every component
// of the registry: downloads, index mutation, publishing and serving.
package registryerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags an Error with one of the registry's well-known failure modes.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindTransport        Kind = "transport"
	KindParse            Kind = "parse"
	KindIndexConflict    Kind = "index_conflict"
	KindIO               Kind = "io"
	KindSubprocess       Kind = "subprocess_failure"
	KindConfig           Kind = "config_error"
)

// Error is a tagged error carrying a Kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause. The
// cause is annotated with errors.WithStack so a stack trace is captured at
// the point the boundary was crossed, without duplicating message text
// into the cause chain (Error() composes Message with Cause itself).
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err is a registryerr.Error of the given Kind, walking
// the standard Unwrap chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf returns the Kind of the first *Error found in err's chain, or ""
// if none is present.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Chain walks err's cause chain outer-to-inner and returns one string per
// layer, matching the Cargo registries protocol's RegistryErrors JSON
// array: every wrapped *Error contributes its own Message, and the walk
// ends with the root cause's Error() text.
// Stack-only wrappers added by errors.WithStack contribute nothing of
// their own, since their Error() text is identical to their cause's.
func Chain(err error) []string {
	var out []string
	for err != nil {
		if e, ok := err.(*Error); ok {
			out = append(out, e.Message)
			err = e.Cause
			continue
		}
		if u, ok := err.(interface{ Unwrap() error }); ok {
			if inner := u.Unwrap(); inner != nil {
				err = inner
				continue
			}
		}
		out = append(out, err.Error())
		break
	}
	return out
}
