package services

import (
	"errors"
	"fmt"
)

// Kind classifies a registry failure so the HTTP boundary can map it to
// a status code without string matching.
type Kind string

const (
	// KindConfiguration: a required remote-access identifier or
	// credential is missing. Not retryable.
	KindConfiguration Kind = "configuration"

	// KindTransport: the remote call itself failed (network, quota,
	// malformed response). The caller may retry the whole operation;
	// the registry never retries on its own.
	KindTransport Kind = "transport"

	// KindNotFound: a targeted tab or organisation is absent.
	KindNotFound Kind = "not_found"

	// KindValidation: the caller-supplied entity fails an invariant.
	// Rejected before any remote call is made.
	KindValidation Kind = "validation"

	// KindInconsistentState: a multi-step write failed partway, leaving
	// the spreadsheet in an intermediate state. The whole operation is
	// safe to retry; rename is skipped when already applied.
	KindInconsistentState Kind = "inconsistent_state"
)

// Error is the typed failure surfaced by every registry operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, or "" when err is not a registry
// error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func configErrf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func validationErrf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundErrf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func transportErr(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

func inconsistentErr(msg string, err error) *Error {
	return &Error{Kind: KindInconsistentState, Message: msg, Err: err}
}
