// Package zset implements multisets of rows with signed multiplicities.
//
// A Batch is a physical list of updates: the same row may appear several
// times and multiplicities may be zero or negative. Consolidation merges
// updates with identical row contents by summing their multiplicities and
// drops every entry whose sum is zero. A consolidated batch is sorted by the
// canonical row encoding, so two consolidated batches hold the same multiset
// iff they are element-wise equal.
package zset

import (
	"slices"
	"strings"

	"github.com/roach88/mutrec/internal/ir"
)

// Update is one row with its multiplicity.
type Update struct {
	Row  ir.Row
	Diff int64
}

// Batch is an unordered list of updates.
type Batch []Update

// FromRows builds a batch holding each row once.
func FromRows(rows ...ir.Row) Batch {
	out := make(Batch, len(rows))
	for i, r := range rows {
		out[i] = Update{Row: r, Diff: 1}
	}
	return out
}

type keyed struct {
	key string
	Update
}

// Consolidate merges identical rows and drops zero multiplicities. The result
// is sorted by canonical row encoding. Consolidating a consolidated batch
// returns an equal batch.
func Consolidate(b Batch) Batch {
	if len(b) == 0 {
		return Batch{}
	}
	items := make([]keyed, len(b))
	for i, u := range b {
		items[i] = keyed{key: u.Row.Key(), Update: u}
	}
	slices.SortStableFunc(items, func(x, y keyed) int { return strings.Compare(x.key, y.key) })

	out := make(Batch, 0, len(items))
	for i := 0; i < len(items); {
		j := i
		var sum int64
		for j < len(items) && items[j].key == items[i].key {
			sum += items[j].Diff
			j++
		}
		if sum != 0 {
			out = append(out, Update{Row: items[i].Row, Diff: sum})
		}
		i = j
	}
	return out
}

// IsConsolidated reports whether b is sorted by key, free of duplicate rows
// and free of zero multiplicities.
func IsConsolidated(b Batch) bool {
	prev := ""
	for i, u := range b {
		if u.Diff == 0 {
			return false
		}
		k := u.Row.Key()
		if i > 0 && strings.Compare(prev, k) >= 0 {
			return false
		}
		prev = k
	}
	return true
}

// Equal reports whether two consolidated batches hold the same multiset.
func Equal(a, b Batch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Diff != b[i].Diff || a[i].Row.Key() != b[i].Row.Key() {
			return false
		}
	}
	return true
}

// Concat returns the multiset sum of the inputs, unconsolidated.
func Concat(batches ...Batch) Batch {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	out := make(Batch, 0, n)
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// Negate flips the sign of every multiplicity.
func Negate(b Batch) Batch {
	out := make(Batch, len(b))
	for i, u := range b {
		out[i] = Update{Row: u.Row, Diff: -u.Diff}
	}
	return out
}

// Delta returns the consolidated difference next - prev.
// An empty delta means the two multisets are equal.
func Delta(next, prev Batch) Batch {
	return Consolidate(Concat(next, Negate(prev)))
}

// Threshold consolidates b and keeps only positive multiplicities.
func Threshold(b Batch) Batch {
	c := Consolidate(b)
	out := c[:0]
	for _, u := range c {
		if u.Diff > 0 {
			out = append(out, u)
		}
	}
	return out
}

// Distinct consolidates b and keeps each positive row once.
func Distinct(b Batch) Batch {
	c := Threshold(b)
	for i := range c {
		c[i].Diff = 1
	}
	return c
}

// Count returns the sum of multiplicities.
func Count(b Batch) int64 {
	var n int64
	for _, u := range b {
		n += u.Diff
	}
	return n
}

// Shard splits b into n parts by row hash. Every copy of a row lands in the
// same part.
func Shard(b Batch, n int) []Batch {
	if n == 1 {
		return []Batch{b}
	}
	return ShardBy(b, n, func(r ir.Row) ir.Row { return r })
}

// ShardBy splits b into n parts by the hash of key(row). Rows with equal
// keys land in the same part, the part Owner(key(row), n) names.
func ShardBy(b Batch, n int, key func(ir.Row) ir.Row) []Batch {
	parts := make([]Batch, n)
	for _, u := range b {
		p := Owner(key(u.Row), n)
		parts[p] = append(parts[p], u)
	}
	return parts
}

// Owner returns the shard that owns row among n shards.
func Owner(row ir.Row, n int) int {
	return int(row.Hash() % uint64(n))
}

// Merge combines consolidated batches with disjoint rows into one
// consolidated batch.
func Merge(parts ...Batch) Batch {
	return Consolidate(Concat(parts...))
}

// Rows expands a batch with positive multiplicities into rows, repeating
// each row Diff times. Negative entries are skipped.
func Rows(b Batch) []ir.Row {
	var out []ir.Row
	for _, u := range b {
		for i := int64(0); i < u.Diff; i++ {
			out = append(out, u.Row)
		}
	}
	return out
}

// Sorted returns a copy of b ordered by Row.Compare, for presentation.
func Sorted(b Batch) Batch {
	out := slices.Clone(b)
	slices.SortStableFunc(out, func(x, y Update) int { return x.Row.Compare(y.Row) })
	return out
}
