// Package diag defines the error taxonomy shared by resolution, planning and
// evaluation of recursive queries.
//
// Resolution and planning errors are detected before any round executes and
// are returned as a single non-recoverable failure. Evaluation errors abort the
// whole recursive block.
package diag

import (
	"errors"
	"fmt"
)

// Code categorizes errors.
type Code string

const (
	// DuplicateBindingName indicates two bindings in one clause share a name.
	DuplicateBindingName Code = "DuplicateBindingName"

	// SchemaMismatch indicates a binding's body disagrees with its declared
	// or inferred shape, in arity or in a column type.
	SchemaMismatch Code = "SchemaMismatch"

	// AmbiguousColumn indicates an unqualified column matches several relations.
	AmbiguousColumn Code = "AmbiguousColumn"

	// UnknownColumn indicates a column matches no visible relation.
	UnknownColumn Code = "UnknownColumn"

	// UnknownRelation indicates a table reference matches no binding or catalog relation.
	UnknownRelation Code = "UnknownRelation"

	// InvalidQuery covers general query errors outside the recursion core
	// (misplaced aggregates, bad operand types, unsupported functions).
	InvalidQuery Code = "InvalidQuery"

	// UnsupportedRecursion indicates a construct cannot be lowered into a loop body.
	UnsupportedRecursion Code = "UnsupportedRecursion"

	// EvaluationFailure indicates a runtime fault during a round.
	EvaluationFailure Code = "EvaluationFailure"
)

// Error is a diagnostic with a taxonomy code.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is the human-readable description. Acceptance tests match
	// substrings of it verbatim.
	Message string

	// Binding names the binding being resolved or evaluated, if any.
	Binding string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Binding != "" {
		return fmt.Sprintf("%s: %s (binding %q)", e.Code, e.Message, e.Binding)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// InBinding returns a copy of e attributed to binding, unless it is already attributed.
func (e *Error) InBinding(binding string) *Error {
	if e.Binding != "" {
		return e
	}
	cp := *e
	cp.Binding = binding
	return &cp
}

// CodeOf returns the code of the first Error in err's chain, or "" if none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// AttributeTo attributes err to a binding if it is an Error.
func AttributeTo(err error, binding string) error {
	var de *Error
	if errors.As(err, &de) && de.Binding == "" {
		return de.InBinding(binding)
	}
	return err
}

// Verbatim diagnostic constructors. These strings are part of the external interface.

// ColumnNotFound reports an unresolvable column reference.
func ColumnNotFound(name string) *Error {
	return Errorf(UnknownColumn, "column %q does not exist", name)
}

// ColumnAmbiguous reports a column reference that matches several relations.
func ColumnAmbiguous(name string) *Error {
	return Errorf(AmbiguousColumn, "column reference %q is ambiguous", name)
}

// RelationNotFound reports an unresolvable table reference.
func RelationNotFound(name string) *Error {
	return Errorf(UnknownRelation, "relation %q does not exist", name)
}
