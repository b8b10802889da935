package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

// DefineRelation registers a base relation. Redefining a relation with the
// same columns is a no-op; changing its columns is an error.
func (s *Store) DefineRelation(ctx context.Context, name string, typ ir.RelationType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("define relation: %w", err)
	}
	defer tx.Rollback()

	existing, ok, err := relationType(ctx, tx, name)
	if err != nil {
		return fmt.Errorf("define relation: %w", err)
	}
	if ok {
		if existing.TypeList() != typ.TypeList() || !equalNames(existing, typ) {
			return fmt.Errorf("define relation: %q already exists with columns %s", name, describe(existing))
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO relations (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("define relation: %w", err)
	}
	for i, c := range typ.Columns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relation_columns (relation, position, name, type)
			VALUES (?, ?, ?, ?)
		`, name, i, c.Name, string(c.Type))
		if err != nil {
			return fmt.Errorf("define relation: %w", err)
		}
	}
	return tx.Commit()
}

// AppendUpdates consolidates updates, checks every row against the relation
// type and appends them to the change log under a new sequence number.
// Appending an empty batch is a no-op and returns the current sequence.
func (s *Store) AppendUpdates(ctx context.Context, relation string, updates zset.Batch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append updates: %w", err)
	}
	defer tx.Rollback()

	typ, ok, err := relationType(ctx, tx, relation)
	if err != nil {
		return 0, fmt.Errorf("append updates: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("append updates: relation %q does not exist", relation)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM updates`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("append updates: %w", err)
	}
	batch := zset.Consolidate(updates)
	if len(batch) == 0 {
		return seq, nil
	}
	seq++

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO updates (seq, relation, row, diff) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("append updates: %w", err)
	}
	defer stmt.Close()
	for _, u := range batch {
		if err := typ.Check(u.Row); err != nil {
			return 0, fmt.Errorf("append updates: relation %q: %w", relation, err)
		}
		if _, err := stmt.ExecContext(ctx, seq, relation, marshalRow(u.Row), u.Diff); err != nil {
			return 0, fmt.Errorf("append updates: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append updates: %w", err)
	}
	return seq, nil
}

// Run is the record of one evaluation.
type Run struct {
	ID string
	// Fingerprint identifies the planned query.
	Fingerprint string
	// Seq is the change log position the evaluation read.
	Seq      int64
	Status   string
	Rounds   int64
	Rows     int64
	Error    string
	Duration time.Duration
}

// RecordRun stores a run record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency - duplicate IDs are silently ignored.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, fingerprint, seq, status, rounds, rows, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Fingerprint,
		run.Seq,
		run.Status,
		run.Rounds,
		run.Rows,
		run.Error,
		run.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// relationType loads the column types of a relation.
func relationType(ctx context.Context, q querier, name string) (ir.RelationType, bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.name, c.type
		FROM relations r
		LEFT JOIN relation_columns c ON c.relation = r.name
		WHERE r.name = ?
		ORDER BY c.position ASC
	`, name)
	if err != nil {
		return ir.RelationType{}, false, fmt.Errorf("query relation: %w", err)
	}
	defer rows.Close()

	found := false
	var cols []ir.Column
	for rows.Next() {
		found = true
		var colName, colType sql.NullString
		if err := rows.Scan(&colName, &colType); err != nil {
			return ir.RelationType{}, false, fmt.Errorf("scan relation: %w", err)
		}
		if !colName.Valid {
			continue
		}
		typ, err := ir.ParseScalarType(colType.String)
		if err != nil {
			return ir.RelationType{}, false, fmt.Errorf("relation %q: %w", name, err)
		}
		cols = append(cols, ir.Column{Name: colName.String, Type: typ, Nullable: true})
	}
	if err := rows.Err(); err != nil {
		return ir.RelationType{}, false, fmt.Errorf("iterate relation: %w", err)
	}
	return ir.RelationType{Columns: cols}, found, nil
}

func equalNames(a, b ir.RelationType) bool {
	return slices.Equal(a.Names(), b.Names())
}

func describe(t ir.RelationType) string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = c.Name + " " + string(c.Type)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
