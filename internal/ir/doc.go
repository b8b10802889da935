// Package ir provides the foundational value and type representation for mutrec.
//
// It holds scalar values, rows, column and relation types, the canonical row
// encoding used for multiset identity, and domain-separated fingerprints.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64
//   - Text values are NFC normalized before they are encoded or compared
//   - Two rows are the same multiset element iff their canonical encodings are equal
package ir
