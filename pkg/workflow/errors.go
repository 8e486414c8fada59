package workflow

import (
	"errors"
	"fmt"
)

// Kind discriminates workflow failures. Handlers switch on this value to pick
// a response code; nothing anywhere matches on message text.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimited
	KindNotVerifiedPartner
	KindSelfApproval
	KindAlreadyActive
	KindAlreadyDecided
	KindNotApproved
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindNotVerifiedPartner:
		return "not_verified_partner"
	case KindSelfApproval:
		return "self_approval_blocked"
	case KindAlreadyActive:
		return "request_already_active"
	case KindAlreadyDecided:
		return "request_already_decided"
	case KindNotApproved:
		return "not_approved"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error carries the kind alongside the message and an optional cause
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from any error, defaulting to KindInternal
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}
