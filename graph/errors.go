package graph

import "errors"

// Class groups errors by how a caller recovers.
//
// Integrity failures are fatal to the node being processed. Authorization
// failures are recoverable by obtaining the missing grant. Ordering
// failures are expected under eventual consistency and recoverable by
// resubmitting once prerequisites have synced. Conflict covers states that
// must not be silently overwritten.
type Class string

const (
	ClassIntegrity     Class = "Integrity"
	ClassAuthorization Class = "Authorization"
	ClassOrdering      Class = "Ordering"
	ClassConflict      Class = "Conflict"
	ClassNotFound      Class = "NotFound"
	ClassInternal      Class = "Internal"
)

// Code is a stable error identifier for programmatic handling.
type Code string

const (
	CodeInvalidSignature   Code = "InvalidSignature"
	CodeHashMismatch       Code = "HashMismatch"
	CodeInvalidNode        Code = "InvalidNode"
	CodeUnknownParent      Code = "UnknownParent"
	CodeUnauthorizedAuthor Code = "UnauthorizedAuthor"
	CodeSequenceReplay     Code = "SequenceReplay"
	CodeScopeNotFound      Code = "ScopeNotFound"
	CodeNotFound           Code = "NotFound"
	CodeAlreadyDispatched  Code = "AlreadyDispatched"
	CodeLineageInvalid     Code = "LineageInvalid"
)

// Error is the graph store's structured error type.
//
// RuleID (e.g. MESH-GRAPH-201) names the violated invariant and is stable
// across versions. Message is for humans; do not match on it.
type Error struct {
	Class   Class
	Code    Code
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(class Class, code Code, ruleID, msg string) error {
	return &Error{Class: class, Code: code, RuleID: ruleID, Message: msg}
}

func wrapErr(class Class, code Code, ruleID, msg string, cause error) error {
	if cause == nil {
		return newError(class, code, ruleID, msg)
	}
	return &Error{Class: class, Code: code, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsCode reports whether err is (or wraps) a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf returns err's stable Code, or "" if err is not a graph error.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// IsNotFound reports whether err indicates a missing node.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }
