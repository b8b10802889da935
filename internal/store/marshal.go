package store

import (
	"fmt"

	"github.com/roach88/mutrec/internal/ir"
)

// marshalRow converts a row to canonical JSON TEXT for storage. Equal rows
// always encode to equal text, which is what SQL grouping relies on.
func marshalRow(r ir.Row) string {
	return string(ir.MarshalRow(r))
}

// unmarshalRow parses a stored row and checks it against the relation type.
func unmarshalRow(data string, typ ir.RelationType) (ir.Row, error) {
	row, err := ir.UnmarshalRow([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	if err := typ.Check(row); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return row, nil
}
