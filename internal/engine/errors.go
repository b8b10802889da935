package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/mutrec/internal/diag"
)

// RoundError reports the round in which a loop failed. It wraps the
// underlying cause, so diag.CodeOf still reports the cause's code.
type RoundError struct {
	// Loop is the loop's index in the rendered program (-1 for a loop
	// nested in a seed).
	Loop int
	// At is the timestamp of the failed round.
	At Timestamp
	// Err is the cause.
	Err error
}

// Error implements the error interface.
func (e *RoundError) Error() string {
	return fmt.Sprintf("loop %d failed in round %s: %v", e.Loop, e.At, e.Err)
}

// Unwrap returns the cause.
func (e *RoundError) Unwrap() error {
	return e.Err
}

// IsLimitError returns true if a loop failed by reaching its recursion limit.
// Uses errors.As to handle wrapped errors.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// IsQuotaError returns true if a loop outgrew its row quota.
func IsQuotaError(err error) bool {
	var re *RowsExceededError
	return errors.As(err, &re)
}

// LimitError reports a loop that reached its recursion limit without
// converging while configured to fail.
type LimitError struct {
	Limit int64
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("recursion limit %d reached without convergence", e.Limit)
}

// newLimitError creates the EvaluationFailure for a reached limit.
func newLimitError(limit int64) error {
	le := &LimitError{Limit: limit}
	return diag.Wrap(diag.EvaluationFailure, le, "%s", le.Error())
}
