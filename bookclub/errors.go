package bookclub

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown covers storage and other non-domain failures.
	CodeUnknown Code = "UNKNOWN"

	CodeNotFound          Code = "NOT_FOUND"
	CodeNotAuthorized     Code = "NOT_AUTHORIZED"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInactiveProposal  Code = "INACTIVE_PROPOSAL"
	CodeDuplicateVote     Code = "DUPLICATE_VOTE"
	CodeNoActiveProposals Code = "NO_ACTIVE_PROPOSALS"
)

// Error is a domain rejection. A rejected operation never changes state.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNotAuthorized     = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrInactiveProposal  = &Error{Code: CodeInactiveProposal, Message: "proposal is not active"}
	ErrDuplicateVote     = &Error{Code: CodeDuplicateVote, Message: "already voted"}
	ErrNoActiveProposals = &Error{Code: CodeNoActiveProposals, Message: "no active proposals"}
)

func newError(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// CodeOf returns the domain code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
