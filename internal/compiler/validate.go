package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Table errors (E101-E109)
	ErrTableNoColumns     = "E101" // table must declare columns
	ErrInvalidColumnType  = "E102" // invalid or missing column type
	ErrDuplicateColumn    = "E103" // duplicate column name
	ErrRowArity           = "E104" // row length differs from column count
	ErrRowValueType       = "E105" // row value does not fit its column
	ErrFloatTypeForbidden = "E106" // float types not allowed
	ErrDuplicateTable     = "E107" // duplicate table name

	// Query errors (E110-E119)
	ErrEmptyBindings       = "E110" // with clause without bindings
	ErrInvalidBindingType  = "E111" // invalid declared binding column type
	ErrNegativeLimit       = "E112" // negative recursion limit
	ErrReturnWithoutLimit  = "E113" // return_at_limit without recursion_limit
	ErrDuplicateBindingCol = "E114" // duplicate declared binding column
	ErrValuesArity         = "E115" // values rows of different lengths
)

// ValidationError represents a document validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every validation error of a document.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validate checks a compiled document.
// Returns all errors found (does not fail-fast).
func Validate(doc *Document) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	for _, t := range doc.Tables {
		if seen[t.Name] {
			errs = append(errs, ValidationError{
				Field:   "tables." + t.Name,
				Message: fmt.Sprintf("duplicate table name: %q", t.Name),
				Code:    ErrDuplicateTable,
			})
		}
		seen[t.Name] = true
		errs = append(errs, validateTable(t)...)
	}
	errs = append(errs, validateQuery(doc.Query, "query")...)
	return errs
}

func validateTable(t Table) ValidationErrors {
	var errs ValidationErrors
	field := "tables." + t.Name

	// E101: columns are required
	if len(t.Columns) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".columns",
			Message: "table must declare at least one column",
			Code:    ErrTableNoColumns,
		})
	}

	names := make(map[string]bool)
	types := make([]ir.ScalarType, len(t.Columns))
	for i, c := range t.Columns {
		f := fmt.Sprintf("%s.columns[%d]", field, i)
		if names[c.Name] {
			errs = append(errs, ValidationError{
				Field:   f + ".name",
				Message: fmt.Sprintf("duplicate column name: %q", c.Name),
				Code:    ErrDuplicateColumn,
			})
		}
		names[c.Name] = true

		if c.Type == "" {
			errs = append(errs, ValidationError{
				Field:   f + ".type",
				Message: fmt.Sprintf("table column %q needs a type", c.Name),
				Code:    ErrInvalidColumnType,
			})
			continue
		}
		if e, ok := typeError(c.Type, f+".type", c.Name, ErrInvalidColumnType); !ok {
			errs = append(errs, e)
			continue
		}
		types[i], _ = ir.ParseScalarType(c.Type)
	}

	for i, row := range t.Rows {
		f := fmt.Sprintf("%s.rows[%d]", field, i)
		// E104: row arity
		if len(row) != len(t.Columns) {
			errs = append(errs, ValidationError{
				Field:   f,
				Message: fmt.Sprintf("row has %d values, table has %d columns", len(row), len(t.Columns)),
				Code:    ErrRowArity,
			})
			continue
		}
		// E105: value types
		for j, v := range row {
			if types[j] == "" || ir.TypeOf(v).AssignableTo(types[j]) {
				continue
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", f, j),
				Message: fmt.Sprintf("value %s is not of type %s", ir.Format(v), types[j]),
				Code:    ErrRowValueType,
			})
		}
	}
	return errs
}

// typeError reports an invalid declared type. Floats get their own code.
func typeError(typ, field, column, code string) (ValidationError, bool) {
	if _, err := ir.ParseScalarType(typ); err == nil {
		return ValidationError{}, true
	}
	if isFloatType(typ) {
		return ValidationError{
			Field:   field,
			Message: fmt.Sprintf("float type forbidden for column %q, use int instead", column),
			Code:    ErrFloatTypeForbidden,
		}, false
	}
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid type %q for column %q", typ, column),
		Code:    code,
	}, false
}

// validateQuery walks the query tree.
func validateQuery(q ast.Query, field string) ValidationErrors {
	var errs ValidationErrors
	switch q := q.(type) {
	case *ast.With:
		errs = append(errs, validateWith(q, field)...)
	case *ast.SetOp:
		for i, in := range q.Inputs {
			errs = append(errs, validateQuery(in, fmt.Sprintf("%s.%s[%d]", field, setOpField(q.Op), i))...)
		}
	case *ast.Select:
		for i, f := range q.From {
			if sub, ok := f.(*ast.Subquery); ok {
				errs = append(errs, validateQuery(sub.Query, fmt.Sprintf("%s.from[%d].query", field, i))...)
			}
		}
	case *ast.Values:
		for i, row := range q.Rows {
			if len(row) != len(q.Rows[0]) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.values[%d]", field, i),
					Message: fmt.Sprintf("row has %d values, the first row has %d", len(row), len(q.Rows[0])),
					Code:    ErrValuesArity,
				})
			}
		}
	}
	return errs
}

func validateWith(w *ast.With, field string) ValidationErrors {
	var errs ValidationErrors
	clause := field + ".with"
	if w.Recursive {
		clause = field + ".with_mutually_recursive"
	}

	// E110: bindings are required
	if len(w.Bindings) == 0 {
		errs = append(errs, ValidationError{
			Field:   clause + ".bindings",
			Message: "at least one binding is required",
			Code:    ErrEmptyBindings,
		})
	}
	// E112, E113: options
	if w.Options.Limit < 0 {
		errs = append(errs, ValidationError{
			Field:   clause + ".options.recursion_limit",
			Message: fmt.Sprintf("recursion limit must not be negative, got %d", w.Options.Limit),
			Code:    ErrNegativeLimit,
		})
	}
	if w.Options.ReturnAtLimit && w.Options.Limit == 0 {
		errs = append(errs, ValidationError{
			Field:   clause + ".options.return_at_limit",
			Message: "return_at_limit requires a recursion_limit",
			Code:    ErrReturnWithoutLimit,
		})
	}

	for i, b := range w.Bindings {
		f := fmt.Sprintf("%s.bindings[%d]", clause, i)
		names := make(map[string]bool)
		for j, c := range b.Columns {
			cf := fmt.Sprintf("%s.columns[%d]", f, j)
			if names[c.Name] {
				errs = append(errs, ValidationError{
					Field:   cf + ".name",
					Message: fmt.Sprintf("binding %q declares column %q twice", b.Name, c.Name),
					Code:    ErrDuplicateBindingCol,
				})
			}
			names[c.Name] = true
			if c.Type == "" {
				continue
			}
			if e, ok := typeError(c.Type, cf+".type", c.Name, ErrInvalidBindingType); !ok {
				errs = append(errs, e)
			}
		}
		errs = append(errs, validateQuery(b.Query, f+".query")...)
	}
	errs = append(errs, validateQuery(w.Body, field)...)
	return errs
}

func setOpField(op ast.SetOpKind) string {
	return strings.ReplaceAll(strings.ToLower(op.String()), " ", "_")
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	switch strings.ToLower(t) {
	case "float", "float32", "float64", "double", "real", "numeric", "decimal":
		return true
	}
	return false
}
