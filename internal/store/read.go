package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

var errNoRelation = errors.New("relation does not exist")

// Latest is the sequence bound that includes every update.
const Latest int64 = -1

// Relation implements catalog.Catalog.
func (s *Store) Relation(name string) (ir.RelationType, bool) {
	typ, ok, err := relationType(context.Background(), s.db, name)
	if err != nil {
		return ir.RelationType{}, false
	}
	return typ, ok
}

// Relations returns the defined relation names in sorted order.
func (s *Store) Relations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM relations ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return names, nil
}

// Snapshot implements catalog.Source: the relation's contents after every
// update in the log.
func (s *Store) Snapshot(ctx context.Context, name string) (zset.Batch, error) {
	return s.SnapshotAt(ctx, name, Latest)
}

// SnapshotAt returns the consolidated contents of a relation after the
// updates with seq <= upto. Latest includes every update.
func (s *Store) SnapshotAt(ctx context.Context, name string, upto int64) (zset.Batch, error) {
	typ, ok, err := relationType(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", name, errNoRelation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row, SUM(diff)
		FROM updates
		WHERE relation = ? AND (? < 0 OR seq <= ?)
		GROUP BY row
		HAVING SUM(diff) != 0
		ORDER BY row COLLATE BINARY ASC
	`, name, upto, upto)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var out zset.Batch
	for rows.Next() {
		var data string
		var diff int64
		if err := rows.Scan(&data, &diff); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		row, err := unmarshalRow(data, typ)
		if err != nil {
			return nil, err
		}
		out = append(out, zset.Update{Row: row, Diff: diff})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return zset.Consolidate(out), nil
}

// Change is the updates appended to one relation under one sequence number.
type Change struct {
	Seq      int64
	Relation string
	Updates  zset.Batch
}

// UpdatesSince returns the changes with seq > after, ordered by seq then
// relation name.
func (s *Store) UpdatesSince(ctx context.Context, after int64) ([]Change, error) {
	// Types are loaded first: the store holds a single connection, so no
	// other query can run while the update rows are open.
	names, err := s.Relations(ctx)
	if err != nil {
		return nil, err
	}
	types := make(map[string]ir.RelationType, len(names))
	for _, name := range names {
		typ, _, err := relationType(ctx, s.db, name)
		if err != nil {
			return nil, err
		}
		types[name] = typ
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, relation, row, diff
		FROM updates
		WHERE seq > ?
		ORDER BY seq ASC, relation COLLATE BINARY ASC, row COLLATE BINARY ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var seq, diff int64
		var relation, data string
		if err := rows.Scan(&seq, &relation, &data, &diff); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		typ, ok := types[relation]
		if !ok {
			return nil, fmt.Errorf("update for %q: %w", relation, errNoRelation)
		}
		row, err := unmarshalRow(data, typ)
		if err != nil {
			return nil, err
		}
		n := len(changes)
		if n == 0 || changes[n-1].Seq != seq || changes[n-1].Relation != relation {
			changes = append(changes, Change{Seq: seq, Relation: relation})
			n++
		}
		changes[n-1].Updates = append(changes[n-1].Updates, zset.Update{Row: row, Diff: diff})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	for i := range changes {
		changes[i].Updates = zset.Consolidate(changes[i].Updates)
	}
	return changes, nil
}

// LatestSeq returns the highest sequence number in the change log, or 0.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM updates`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

// Runs returns the most recent run records, oldest first. limit <= 0 returns
// every record.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, seq, status, rounds, rows, error, duration_us
		FROM (
			SELECT * FROM runs
			ORDER BY seq DESC, id COLLATE BINARY DESC
			LIMIT ?
		)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var us int64
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Seq, &r.Status, &r.Rounds, &r.Rows, &r.Error, &us); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(us) * time.Microsecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// IsNotFound reports whether err is a missing relation error.
func IsNotFound(err error) bool {
	return errors.Is(err, errNoRelation)
}
