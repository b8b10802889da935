package ir

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Row is one tuple of a relation.
type Row []Value

// NewRow builds a row from native Go values. It panics on unsupported values
// and is intended for tests and literals.
func NewRow(vals ...any) Row {
	row := make(Row, len(vals))
	for i, x := range vals {
		v, err := FromNative(x)
		if err != nil {
			panic(err)
		}
		row[i] = v
	}
	return row
}

// Key returns the canonical encoding of the row as a string.
// Rows with equal keys are the same multiset element.
func (r Row) Key() string {
	return string(AppendCanonicalRow(nil, r))
}

// Hash returns a 64-bit hash of the canonical encoding. Used for shard assignment.
func (r Row) Hash() uint64 {
	return xxhash.Sum64(AppendCanonicalRow(nil, r))
}

// Compare orders rows lexicographically by Compare on each column.
func (r Row) Compare(other Row) int {
	n := min(len(r), len(other))
	for i := 0; i < n; i++ {
		if c := Compare(r[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(r) < len(other):
		return -1
	case len(r) > len(other):
		return 1
	}
	return 0
}

// Concat returns a new row holding r followed by other.
func (r Row) Concat(other Row) Row {
	out := make(Row, 0, len(r)+len(other))
	out = append(out, r...)
	return append(out, other...)
}

// String renders the row as "(1, \"a\", null)".
func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range r {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Format(v))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Natives converts the row to plain Go values.
func (r Row) Natives() []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = Native(v)
	}
	return out
}
