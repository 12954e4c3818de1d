// Package apperr defines the typed failure kinds surfaced by the domain
// services. Every kind is deterministic given current persisted state, so none
// is retried internally; callers map kinds to user-facing responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category.
type Kind int

const (
	// KindValidation is malformed input: out-of-range capacity, missing
	// required field, text over a length limit, self-referential transfer.
	KindValidation Kind = iota + 1
	// KindAuthorization is an actor lacking the required role relationship.
	KindAuthorization
	// KindCapacityExceeded is a circle at capacity at the moment of a
	// capacity-checked operation.
	KindCapacityExceeded
	// KindInvalidTransition is an entity not in a state that permits the
	// requested transition.
	KindInvalidTransition
	// KindDuplicateMembership is an active ledger row already existing for
	// the (circle, member) pair.
	KindDuplicateMembership
	// KindDuplicateRequest is a pending transfer request already existing for
	// the (requester, target circle) pair.
	KindDuplicateRequest
	// KindNotAMember is a missing active membership precondition.
	KindNotAMember
	// KindNotFound is a referenced entity that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindDuplicateMembership:
		return "duplicate_membership"
	case KindDuplicateRequest:
		return "duplicate_request"
	case KindNotAMember:
		return "not_a_member"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a kinded domain error with a user-presentable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is match against a bare kind sentinel: errors.Is(err, apperr.Validation).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// Kind sentinels for errors.Is matching.
var (
	Validation          = &Error{Kind: KindValidation}
	Authorization       = &Error{Kind: KindAuthorization}
	CapacityExceeded    = &Error{Kind: KindCapacityExceeded}
	InvalidTransition   = &Error{Kind: KindInvalidTransition}
	DuplicateMembership = &Error{Kind: KindDuplicateMembership}
	DuplicateRequest    = &Error{Kind: KindDuplicateRequest}
	NotAMember          = &Error{Kind: KindNotAMember}
	NotFound            = &Error{Kind: KindNotFound}
)

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
