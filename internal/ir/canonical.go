package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// AppendCanonicalRow appends the canonical encoding of a row to buf.
//
// The encoding is a JSON array with:
//  1. integers in base 10, no exponent
//  2. strings NFC normalized, no HTML escaping
//  3. null, true and false as JSON literals
//
// CRITICAL: this is the ONLY encoding used for row identity. Two rows are
// consolidated together iff their encodings are byte-equal.
func AppendCanonicalRow(buf []byte, r Row) []byte {
	buf = append(buf, '[')
	for i, v := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = AppendCanonical(buf, v)
	}
	return append(buf, ']')
}

// AppendCanonical appends the canonical encoding of a single value.
func AppendCanonical(buf []byte, v Value) []byte {
	switch val := v.(type) {
	case Int:
		return strconv.AppendInt(buf, int64(val), 10)
	case Text:
		return appendCanonicalString(buf, normalizeText(string(val)))
	case Bool:
		return strconv.AppendBool(buf, bool(val))
	default:
		return append(buf, "null"...)
	}
}

// MarshalRow returns the canonical encoding of a row.
func MarshalRow(r Row) []byte {
	return AppendCanonicalRow(nil, r)
}

// UnmarshalRow decodes a canonical (or any JSON array) row encoding.
// Floats and nested values are rejected.
func UnmarshalRow(data []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	row := make(Row, len(raw))
	for i, x := range raw {
		if n, ok := x.(json.Number); ok {
			iv, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("row[%d]: floats are not supported: %s", i, n)
			}
			row[i] = Int(iv)
			continue
		}
		v, err := FromNative(x)
		if err != nil {
			return nil, fmt.Errorf("row[%d]: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// appendCanonicalString writes a JSON string without HTML escaping.
func appendCanonicalString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, fmt.Sprintf("\\u%04x", r)...)
				continue
			}
			buf = utf8.AppendRune(buf, r)
		}
	}
	return append(buf, '"')
}

func fmtAny(x any) string {
	return fmt.Sprintf("%v", x)
}
