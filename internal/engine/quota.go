package engine

import (
	"fmt"

	"github.com/roach88/mutrec/internal/diag"
)

// RowQuota bounds the total number of distinct rows a loop may hold across
// all of its bindings. It guards against definitions that grow without
// converging; it is off unless configured.
type RowQuota struct {
	maxRows int64
}

// NewRowQuota creates a quota. A limit of 0 disables it.
func NewRowQuota(maxRows int64) *RowQuota {
	return &RowQuota{maxRows: maxRows}
}

// Check validates the state size after a round.
func (q *RowQuota) Check(loop int, round, rows int64) error {
	if q == nil || q.maxRows <= 0 || rows <= q.maxRows {
		return nil
	}
	return diag.Wrap(diag.EvaluationFailure,
		&RowsExceededError{Loop: loop, Round: round, Rows: rows, Limit: q.maxRows},
		"recursive state exceeded %d rows", q.maxRows)
}

// MaxRows returns the configured limit.
func (q *RowQuota) MaxRows() int64 {
	return q.maxRows
}

// RowsExceededError reports a loop whose state outgrew its RowQuota.
type RowsExceededError struct {
	Loop  int
	Round int64
	Rows  int64
	Limit int64
}

// Error implements the error interface.
func (e *RowsExceededError) Error() string {
	return fmt.Sprintf("loop %d held %d rows after round %d: limit is %d", e.Loop, e.Rows, e.Round, e.Limit)
}
