package ir

import (
	"fmt"
	"strings"
)

// ScalarType names the type of a column.
type ScalarType string

const (
	TypeInt  ScalarType = "int"
	TypeText ScalarType = "text"
	TypeBool ScalarType = "bool"

	// TypeNull is the type of a bare NULL literal. It is assignable to every type.
	TypeNull ScalarType = "null"
)

var scalarTypeNames = map[string]ScalarType{
	"int":     TypeInt,
	"integer": TypeInt,
	"int4":    TypeInt,
	"int8":    TypeInt,
	"bigint":  TypeInt,
	"text":    TypeText,
	"string":  TypeText,
	"varchar": TypeText,
	"bool":    TypeBool,
	"boolean": TypeBool,
}

// ParseScalarType maps a declared SQL type name to a ScalarType.
func ParseScalarType(name string) (ScalarType, error) {
	if t, ok := scalarTypeNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("type %q does not exist", name)
}

// AssignableTo reports whether a value of type t may be stored in a column of type u.
func (t ScalarType) AssignableTo(u ScalarType) bool {
	return t == u || t == TypeNull
}

// Unify returns the common type of two types, or false if they cannot be matched.
func Unify(a, b ScalarType) (ScalarType, bool) {
	switch {
	case a == b:
		return a, true
	case a == TypeNull:
		return b, true
	case b == TypeNull:
		return a, true
	}
	return "", false
}

// Column is one named, typed column of a relation.
type Column struct {
	Name     string     `json:"name"`
	Type     ScalarType `json:"type"`
	Nullable bool       `json:"nullable,omitempty"`
}

// RelationType is the ordered column list of a relation.
type RelationType struct {
	Columns []Column `json:"columns"`
}

// NewRelationType builds a relation type from columns.
func NewRelationType(cols ...Column) RelationType {
	return RelationType{Columns: cols}
}

// Arity returns the number of columns.
func (t RelationType) Arity() int {
	return len(t.Columns)
}

// Names returns the column names.
func (t RelationType) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Types returns the column types.
func (t RelationType) Types() []ScalarType {
	out := make([]ScalarType, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Type
	}
	return out
}

// Concat returns the type of a row formed by t followed by other.
func (t RelationType) Concat(other RelationType) RelationType {
	cols := make([]Column, 0, len(t.Columns)+len(other.Columns))
	cols = append(cols, t.Columns...)
	return RelationType{Columns: append(cols, other.Columns...)}
}

// TypeList renders the column types as "(int, text)".
func (t RelationType) TypeList() string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = string(c.Type)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Check reports whether a row conforms to the relation type.
func (t RelationType) Check(r Row) error {
	if len(r) != len(t.Columns) {
		return fmt.Errorf("row %s has %d columns, expected %d", r, len(r), len(t.Columns))
	}
	for i, v := range r {
		if !TypeOf(v).AssignableTo(t.Columns[i].Type) {
			return fmt.Errorf("row %s column %q: %s is not assignable to %s",
				r, t.Columns[i].Name, TypeOf(v), t.Columns[i].Type)
		}
	}
	return nil
}
